package suballoc

import (
	"log/slog"

	cerrors "github.com/cockroachdb/errors"
)

const (
	defaultMinimumBlockSize uint64 = 32 * 1024 * 1024
	defaultNearestMultiple  uint64 = 32
)

// Config holds the recognized Allocator configuration options. Zero
// values select the documented defaults: a caller can leave every field
// blank and get sensible behavior.
type Config struct {
	// MinimumBlockSize is the block size used when growing, before
	// rounding to NearestMultiple. Defaults to 32 MiB.
	MinimumBlockSize uint64
	// MaximumBlockSize caps the size of a single block. A request larger
	// than this becomes Dedicated instead. 0 means unlimited.
	MaximumBlockSize uint64
	// MaximumBlockCount caps the number of live blocks. Once exceeded, the
	// least-recently-used empty block is evicted to make room. 0 means
	// unlimited.
	MaximumBlockCount uint32
	// NearestMultiple rounds a requested block size up to this multiple.
	// Defaults to 32.
	NearestMultiple uint64

	// MinAllocationAlignment is the weakest alignment any region will ever
	// be placed at, regardless of what a request asks for. Every request's
	// alignment is conformed up to at least this value before placement
	// (see align.go's conformAlignment). Defaults to 1 (no additional
	// constraint) if 0.
	MinAllocationAlignment uint

	// Logger receives structured diagnostic output. Defaults to
	// slog.Default() if nil.
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MinimumBlockSize == 0 {
		c.MinimumBlockSize = defaultMinimumBlockSize
	}
	if c.NearestMultiple == 0 {
		c.NearestMultiple = defaultNearestMultiple
	}
	if c.MinAllocationAlignment == 0 {
		c.MinAllocationAlignment = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

func (c Config) validate() error {
	if c.MaximumBlockSize != 0 && c.MaximumBlockSize < c.MinimumBlockSize {
		return cerrors.Newf(
			"suballoc: Config.MaximumBlockSize (%d) must be 0 or >= MinimumBlockSize (%d)",
			c.MaximumBlockSize, c.MinimumBlockSize,
		)
	}
	if c.NearestMultiple == 0 {
		return cerrors.New("suballoc: Config.NearestMultiple must not be 0")
	}
	return nil
}

// roundToNearestMultiple rounds size up to the next multiple of m (m > 0).
func roundToNearestMultiple(size, m uint64) uint64 {
	if size%m == 0 {
		return size
	}
	return (size/m + 1) * m
}
