package testutil

import (
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Fill fills b with pseudo-random bytes.
func (r *RNG) Fill(b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = r.rand.Read(b)
}

// Bytes returns n pseudo-random bytes.
func (r *RNG) Bytes(n int) []byte {
	b := make([]byte, n)
	r.Fill(b)
	return b
}

// Pattern returns n bytes where byte i is (seed + i) mod 251. The prime
// period keeps page-sized shifts from producing identical pages.
func Pattern(seed byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte((int(seed) + i) % 251)
	}
	return b
}

// FirstMismatch returns the first offset where got and want differ. A length
// difference counts as a mismatch at the shorter length.
func FirstMismatch(got, want []byte) (int, bool) {
	n := min(len(got), len(want))
	for i := 0; i < n; i++ {
		if got[i] != want[i] {
			return i, true
		}
	}
	if len(got) != len(want) {
		return n, true
	}
	return 0, false
}

// TempFile creates a read-write file of size bytes in a test temp dir. The
// file is closed when the test ends.
func TempFile(tb testing.TB, size int64) *os.File {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "pmem2.data")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		tb.Fatalf("create %s: %v", path, err)
	}
	tb.Cleanup(func() { _ = f.Close() })

	if err := f.Truncate(size); err != nil {
		tb.Fatalf("truncate %s: %v", path, err)
	}
	return f
}

// Reopen opens another read-write descriptor for f's path.
func Reopen(tb testing.TB, f *os.File) *os.File {
	tb.Helper()

	g, err := os.OpenFile(f.Name(), os.O_RDWR, 0)
	if err != nil {
		tb.Fatalf("reopen %s: %v", f.Name(), err)
	}
	tb.Cleanup(func() { _ = g.Close() })
	return g
}
