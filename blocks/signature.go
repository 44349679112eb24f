package blocks

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
)

// sigIndex finds the id of a previously seen signature.
type sigIndex struct {

	// hash is used for quickly determining if two keys may be equal
	hash hash.Hash64

	// buckets[h] lists the ids of all keys with hash value h
	buckets map[uint64][]int
}

func newSigIndex() *sigIndex {
	return &sigIndex{
		hash:    fnv.New64(),
		buckets: make(map[uint64][]int),
	}
}

// hashKey creates an integer hash value from the given key.
func (ix *sigIndex) hashKey(key Key) uint64 {

	ix.hash.Reset()

	var alt uint64
	if key.Alt {
		alt = 1
	}
	ix.write(alt)
	for _, p := range key.Powers {
		ix.write(uint64(int64(p.A)))
		ix.write(uint64(int64(p.B)))
		ix.write(uint64(p.Count))
	}

	return ix.hash.Sum64()
}

func (ix *sigIndex) write(v uint64) {
	err := binary.Write(ix.hash, binary.LittleEndian, v)
	if err != nil {
		panic(err)
	}
}

// find returns the id of key, if it has been added.
func (ix *sigIndex) find(key Key, keys []Key) (int, bool) {
	for _, id := range ix.buckets[ix.hashKey(key)] {
		if keys[id].equal(key) {
			return id, true
		}
	}
	return 0, false
}

func (ix *sigIndex) add(key Key, id int) {
	h := ix.hashKey(key)
	ix.buckets[h] = append(ix.buckets[h], id)
}
