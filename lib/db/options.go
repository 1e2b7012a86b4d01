package db

import (
	"github.com/ValentinKolb/artdb/lib/alloc"
	"github.com/ValentinKolb/artdb/lib/art"
)

// Options configures a DB during Open
type Options struct {
	Name      string          // Name of the database, used as metrics label (empty = "default")
	Allocator alloc.Allocator // Allocator backing all tree nodes (nil = heap allocator)
	KeyMode   art.KeyMode     // Value layout of the tree
	// CheckLeaks makes Close verify that all node memory was returned when the
	// allocator is an *alloc.LeakDetector
	CheckLeaks bool
	// InfoSampleSize limits the number of pairs GetInfo inspects for its size
	// statistics (0 = no limit)
	InfoSampleSize int
}

// DefaultOptions returns the default DB options
func DefaultOptions() *Options {
	return &Options{
		Name:           "default",
		Allocator:      alloc.NewHeapAllocator(),
		KeyMode:        art.KeyModeVariable,
		CheckLeaks:     true,
		InfoSampleSize: 10_000,
	}
}
