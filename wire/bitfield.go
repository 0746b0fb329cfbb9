package wire

import "slices"

// EncodeBitField encodes a set of offsets as a bitfield: bit i lives in
// byte i/8 under mask 1<<(i%8). An empty offset list encodes as zero bytes.
func EncodeBitField(indices []uint64) []byte {
	if len(indices) == 0 {
		return nil
	}
	max := slices.Max(indices)
	bf := make([]byte, (max+8)/8)
	for _, i := range indices {
		bf[i/8] |= 1 << (i % 8)
	}
	return bf
}

// BitFieldLookup reports whether bit i is set. Out-of-range lookups
// return false.
func BitFieldLookup(bf []byte, i int) bool {
	if (i+8)/8 > len(bf) {
		return false
	}
	return bf[i/8]&(1<<(i%8)) != 0
}
