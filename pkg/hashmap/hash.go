package hashmap

import "hash/maphash"

// Hasher reduces a key to a 64-bit hash; the map implementations mask the
// result to the bucket count, which must be a power of two.
type Hasher[K comparable] func(key K) uint64

// Uint64Hash is a fast avalanche mix for integer keys such as order_id,
// used by the order book's FixedChaining map.
func Uint64Hash(key uint64) uint64 {
	key ^= key >> 33
	key *= 0xff51afd7ed558ccd
	key ^= key >> 33
	key *= 0xc4ceb9fe1a85ec53
	key ^= key >> 33
	return key
}

var stringHashSeed = maphash.MakeSeed()

// StringHash hashes a string key with hash/maphash, seeded once per
// process so the distribution is stable for the life of the program but
// not predictable across runs.
func StringHash(key string) uint64 {
	var h maphash.Hash
	h.SetSeed(stringHashSeed)
	_, _ = h.WriteString(key)
	return h.Sum64()
}
