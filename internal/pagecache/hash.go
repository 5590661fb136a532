package pagecache

// mixHash collapses a 64-bit page key into a well-distributed 32-bit hash
// (MurmurHash3 fmix64 finalizer). remix1/remix2 then derive the probe base and
// stride from it for open-addressed probing.
func mixHash(key uint64) uint32 {
	h := key
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return uint32(h)
}

// remix1 derives the probe base, taken modulo the table size by the
// caller.
func remix1(h uint32) uint64 {
	return (uint64(h) * 0xbc9f1d35) >> 29
}

// remix2 derives the probe stride; ORing in 1 keeps it odd so that, with
// a power-of-two table size, the probe sequence visits every slot before
// repeating.
func remix2(h uint32) uint64 {
	return ((uint64(h) * 0x7a2bb9d5) >> 29) | 1
}
