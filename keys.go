package docstore

import (
	"strings"
)

// emptyKeySentinel stands in for the empty string key, which Bolt cannot
// store. These are the UTF-16 byte order mark bytes; they are not valid UTF-8,
// so no BSON string identifier can collide with them.
const emptyKeySentinel = "\xff\xfe"

// reservedKey reports whether key is spelled like the sentinel. Such a key
// would read back as "", so it is never stored.
func reservedKey(key string) bool {
	return key == emptyKeySentinel
}

func encodeKey(key string) []byte {
	if key == "" {
		return []byte(emptyKeySentinel)
	}
	return []byte(key)
}

func decodeKey(raw []byte) string {
	if string(raw) == emptyKeySentinel {
		return ""
	}
	return string(raw)
}

// validateName checks a database or collection name. Names become bucket
// keys and file names, so they can't be empty, contain a path separator or
// NUL, or be a relative path element.
func validateName(kind, name string) error {
	switch {
	case name == "", name == ".", name == "..":
	case strings.ContainsAny(name, "/\\\x00"):
	default:
		return nil
	}
	return storeErr("validate", kind, name, ErrInvalidName)
}

func joinPath(path []string) string {
	return strings.Join(path, "/")
}
