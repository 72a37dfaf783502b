package util

// PadTo extends x with fill bytes until its length is a multiple of n.
func PadTo(x []byte, n int, fill byte) []byte {
	paddingSize := (n - (len(x) % n)) % n
	for i := 0; i < paddingSize; i++ {
		x = append(x, fill)
	}
	return x
}
