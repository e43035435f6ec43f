// Package shared holds small helpers used by more than one binary.
package shared

// Wipe zeroes b so secrets such as signing keys do not linger in memory
// longer than needed. A nil slice is ignored.
func Wipe(b []byte) {
	clear(b)
}
