// Package shared holds small helpers used by the client.
package shared

// WipeByteArray overwrites b with zeros. Use it on password bytes once they
// are no longer needed. A nil slice is a no-op.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
