package oracles

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
)

// deriveIndexes assigns three indexes for a registering oracle. The
// derivation mixes fresh entropy read at call time with the caller
// identity and a monotonic nonce, so no caller can pre-compute its
// indexes before the registration is observed. The three draws are
// independent and may repeat.
//
// Callers must hold c.mu (the nonce is guarded by it).
func (c *Coordinator) deriveIndexes(identity string) [3]int {
	c.nonce++
	digest := c.digest(identity)

	var indexes [3]int
	for i := 0; i < 3; i++ {
		indexes[i] = int(binary.BigEndian.Uint32(digest[i*4:]) % uint32(c.cfg.IndexBuckets))
	}
	return indexes
}

// deriveDispatchIndex picks the index a status request is addressed to,
// with the same unpredictability requirement as index assignment.
//
// Callers must hold c.mu.
func (c *Coordinator) deriveDispatchIndex() int {
	c.nonce++
	digest := c.digest("dispatch")
	return int(binary.BigEndian.Uint32(digest[:4]) % uint32(c.cfg.IndexBuckets))
}

func (c *Coordinator) digest(salt string) [32]byte {
	var seed [16]byte
	// rand.Read never fails on supported platforms; a short read would
	// only reduce entropy, not correctness.
	_, _ = rand.Read(seed[:])

	buf := make([]byte, 0, len(seed)+8+len(salt))
	buf = append(buf, seed[:]...)
	buf = binary.BigEndian.AppendUint64(buf, c.nonce)
	buf = append(buf, salt...)
	return sha256.Sum256(buf)
}
