package coupler

// RegisterCount returns the number of 16-bit registers needed for a process
// image of the given length in bits, packed byte-wise then word-wise.
func RegisterCount(bits uint16) uint16 {
	byteCount := bits / 8
	if bits%8 != 0 {
		byteCount++
	}
	registers := byteCount / 2
	if byteCount%2 != 0 {
		registers++
	}
	return registers
}
