package extsort

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Config holds the tunables for a Stage. The zero value is valid; every
// field left unset falls back to the value DefaultConfig returns.
type Config struct {
	// ObjectLimit is the hard cap on in-memory records (ingest buffer plus
	// every run pool entry) before a spill is forced.
	ObjectLimit int
	// ReduceInterval is the soft trigger: once the ingest buffer alone
	// exceeds this many records, a reduce is performed even if the
	// object limit hasn't been reached.
	ReduceInterval int
	// CombineBufferSize sizes the bufio buffer used for every run file's
	// reads and writes during spill, compaction, and final merge. Codec
	// is generic over T, so there is no general way to translate a
	// record count into a byte count; the value is used directly as a
	// byte count.
	CombineBufferSize int
	// FileLimit is the fan-in bound: the maximum number of on-disk runs
	// tolerated before cascading compaction runs ahead of a final merge.
	FileLimit int
	// MemoryThresholdFraction is the fraction of the configured memory
	// ceiling at which the pressure listener fires.
	MemoryThresholdFraction float64
	// MemoryCeilingBytes is the heap ceiling the default pressure poller
	// measures against. Zero means "ask runtime/debug for the process
	// soft memory limit"; if that is also unset, construction fails.
	MemoryCeilingBytes uint64
	// TempDir is the directory spilled run files are created in. Empty
	// means the spill package picks a disk-backed default.
	TempDir string
	// FilenamePrefix distinguishes this stage's temp files from any
	// other stage sharing TempDir.
	FilenamePrefix string
	// Logger receives structured diagnostics for reduce/spill/compact
	// steps. The zero value is the disabled logger, so a consumer never
	// gets output it didn't ask for.
	Logger zerolog.Logger
}

// DefaultConfig returns the configuration used for any field left at its
// zero value.
func DefaultConfig() *Config {
	return &Config{
		ObjectLimit:             50_000_000,
		ReduceInterval:          100_000,
		CombineBufferSize:       100_000,
		FileLimit:               20,
		MemoryThresholdFraction: 0.70,
		MemoryCeilingBytes:      0,
		TempDir:                 "",
		FilenamePrefix:          fmt.Sprintf("extsort_%d_", os.Getpid()),
		Logger:                  zerolog.Nop(),
	}
}

// mergeConfig replaces any zero-valued field of c with the matching
// DefaultConfig field.
func mergeConfig(c *Config) *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	if c.ObjectLimit <= 0 {
		c.ObjectLimit = d.ObjectLimit
	}
	if c.ReduceInterval <= 0 {
		c.ReduceInterval = d.ReduceInterval
	}
	if c.CombineBufferSize <= 0 {
		c.CombineBufferSize = d.CombineBufferSize
	}
	if c.FileLimit <= 0 {
		c.FileLimit = d.FileLimit
	}
	if c.MemoryThresholdFraction <= 0 {
		c.MemoryThresholdFraction = d.MemoryThresholdFraction
	}
	if c.FilenamePrefix == "" {
		c.FilenamePrefix = d.FilenamePrefix
	}
	// MemoryCeilingBytes and TempDir are left as-is: zero is meaningful
	// for both (ask the runtime; pick a default directory).
	return c
}
