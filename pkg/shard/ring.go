// Package shard maps workload keys onto the dense indices of a settled
// generation, so each member can tell which keys it owns.
package shard

import (
	"encoding/binary"
	"hash/fnv"
	"slices"
	"sort"
)

type Hasher func([]byte) uint32

// Ring is a consistent-hash ring over the indices 1..total. It is immutable
// and safe for concurrent use.
type Ring struct {
	total    int
	replicas int
	hash     Hasher
	points   []uint32       // sorted
	owners   map[uint32]int // point -> index
}

func New(total, replicas int, h Hasher) *Ring {
	if replicas <= 0 { replicas = 128 }
	if h == nil { h = FNV32a }
	r := &Ring{
		total:    total,
		replicas: replicas,
		hash:     h,
		owners:   make(map[uint32]int, total*replicas),
	}
	for idx := 1; idx <= total; idx++ {
		for i := 0; i < replicas; i++ {
			pt := h(pointKey(idx, i))
			// first index wins a collision so the ring is deterministic
			if _, taken := r.owners[pt]; taken { continue }
			r.owners[pt] = idx
			r.points = append(r.points, pt)
		}
	}
	slices.Sort(r.points)
	return r
}

// Owner returns the index owning key, or 0 for an empty ring.
func (r *Ring) Owner(key []byte) int {
	if len(r.points) == 0 { return 0 }
	h := r.hash(key)
	// first point >= h, wrap if needed
	idx := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= h })
	if idx == len(r.points) { idx = 0 }
	return r.owners[r.points[idx]]
}

func (r *Ring) Total() int { return r.total }

// Owns reports whether index owns key in a generation of total members.
func Owns(key []byte, index, total int) bool {
	if total <= 0 || index < 1 || index > total { return false }
	return New(total, 0, nil).Owner(key) == index
}

func FNV32a(b []byte) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(b)
	return h.Sum32()
}

func pointKey(index, i int) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(index))
	binary.LittleEndian.PutUint32(buf[4:], uint32(i))
	return buf[:]
}
