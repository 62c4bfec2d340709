// Package workload generates the keys and random payloads written by the
// fill and benchmark phases.
package workload

import (
	"encoding/binary"
	mrand "math/rand"
	"time"
)

// KeySize is the encoded length of a record key.
const KeySize = 8

// Generator produces random values. It is not safe for concurrent use.
type Generator struct {
	seed int64
	rng  *mrand.Rand
}

// NewGenerator creates a Generator. A zero seed is replaced by the current
// time, so runs are not reproducible unless a seed is given.
func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Generator{
		seed: seed,
		rng:  mrand.New(mrand.NewSource(seed)),
	}
}

// Seed returns the seed the generator was created with.
func (g *Generator) Seed() int64 {
	return g.seed
}

// Value returns a freshly allocated buffer of n uniformly random bytes.
func (g *Generator) Value(n int) []byte {
	buf := make([]byte, n)
	g.rng.Read(buf)

	return buf
}

// Key encodes a sequential record number as a big-endian key so that the
// store's byte ordering matches insertion order.
func Key(n uint64) []byte {
	var buf [KeySize]byte
	binary.BigEndian.PutUint64(buf[:], n)

	return buf[:]
}

// BatchesForTarget returns how many full batches of batchSize values of
// valueSize bytes are needed before at least targetBytes have been written.
func BatchesForTarget(targetBytes uint64, valueSize, batchSize int) uint64 {
	if valueSize <= 0 || batchSize <= 0 {
		return 0
	}

	records := ceilDiv(targetBytes, uint64(valueSize))

	return ceilDiv(records, uint64(batchSize))
}

// RecordsForTarget is the number of records a fill writes for the given
// target. It is always a multiple of batchSize.
func RecordsForTarget(targetBytes uint64, valueSize, batchSize int) uint64 {
	return BatchesForTarget(targetBytes, valueSize, batchSize) * uint64(batchSize)
}

func ceilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}
