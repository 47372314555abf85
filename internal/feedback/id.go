package feedback

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"time"
)

const (
	// TimestampLayout is an ISO-8601 UTC layout with millisecond precision.
	// Fixed width keeps lexical and chronological order identical.
	TimestampLayout = "2006-01-02T15:04:05.000Z"

	idSuffixLen = 9
	base36      = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// NewID returns the decimal Unix-millisecond time of now followed by nine
// random base-36 characters.
func NewID(now time.Time) (string, error) {
	buf := make([]byte, idSuffixLen)
	max := big.NewInt(int64(len(base36)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = base36[n.Int64()]
	}
	return strconv.FormatInt(now.UnixMilli(), 10) + string(buf), nil
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
