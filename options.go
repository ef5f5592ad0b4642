package docstore

import (
	"io/fs"
	"log/slog"
	"time"
)

type Options struct {
	// Logger receives debug-level lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger

	// IsTesting trades durability for speed: no fsync, small initial mmap.
	IsTesting bool

	// MmapSize overrides the initial Bolt mmap size.
	MmapSize int

	// Timeout bounds how long opening a container file waits for its lock.
	Timeout time.Duration

	// FileMode is used for created files; directories get the matching
	// executable bits.
	FileMode fs.FileMode

	// Now returns the current time for TTL expiry. Defaults to time.Now.
	Now func() time.Time
}

const defaultOpenTimeout = 10 * time.Second

func (opt Options) withDefaults() Options {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Timeout == 0 {
		opt.Timeout = defaultOpenTimeout
	}
	if opt.FileMode == 0 {
		opt.FileMode = 0o644
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return opt
}

func (opt Options) dirMode() fs.FileMode {
	mode := opt.FileMode | 0o700
	if mode&0o040 != 0 {
		mode |= 0o010
	}
	if mode&0o004 != 0 {
		mode |= 0o001
	}
	return mode
}
