/*
Package docstore implements durable storage for a document-database emulation
layer: servers hold databases, databases hold collections, and collections hold
BSON documents keyed by identifier plus index descriptors.

The same Server, Database and Collection interfaces are provided by several
interchangeable backends:

1. Group (OpenGroupFile): one Bolt file, nested buckets per database and
collection, every document a single length-prefixed record.

2. Node (OpenNodeFile): the same bucket layout, but every document is its own
chunked node with a checksum, written and read as a stream.

3. SQLite (OpenSQLiteDir): a directory per server, a subdirectory per database,
and one SQLite file per collection with a documents and an indexes table.

4. Memory (NewMemory): the group layout over a transient in-memory storage.

Open picks one of them from a location such as "data.db?engine=node".

# Technical Details

**Lazy handles.**
Database and collection handles are created on first access and cached by
their parent. Nothing is written until a collection receives a document, an
index or an explicit Create; only then does it count as created and show up in
listings. Listings also pick up collections found on the medium that no handle
has touched yet.

**Locking.**
Each collection owns a sync.RWMutex. Every mapping operation holds it for that
one operation only; iteration reads pages of entries and releases the lock
between pages, so the body of a range loop may modify the collection.

**Empty key.**
Bolt can't store an empty key, so "" is stored as the bytes FF FE in every
backend. Those bytes are not valid UTF-8 and can't collide with a string id.

**TTL indexes.**
Index descriptors with expireAfterSeconds are also tracked in a TTL set, which
is rebuilt from the descriptors whenever a collection is opened. Documents()
and DropIndex first delete documents whose indexed date (or earliest date in
an array) is older than the expiry.

## Binary encoding

**Group record**:
1. Flags (uvarint).
2. Data size (uvarint).
3. Data: BSON bytes.

**Node**: a bucket holding "attrs" (msgpack: version, size, chunk count,
xxhash64 of the data) and chunks "c"+uint32 (big-endian) of at most 64 KiB.
A node is replaced by deleting it and writing a new one.

**Index descriptor**: BSON document whose "key" is an array of
[field, direction] arrays; the other fields follow unchanged.
*/
package docstore
