package rand

import (
	"math/rand"
	"time"
)

const charset = "abcdefghijklmnopqrstuvwxyz0123456789"

var seeded = rand.New(rand.NewSource(time.Now().UnixNano()))

// String returns a random lowercase alphanumeric string of length n.
func String(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = charset[seeded.Intn(len(charset))]
	}
	return string(b)
}
