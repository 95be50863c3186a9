package util

import (
	"crypto/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// UnknownSender replaces an empty originating address.
const UnknownSender = "unknown"

func NormalizePhone(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), " ", "")
	if p == "" {
		return UnknownSender
	}
	return p
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID returns "<tsMillis>_<ULID>" where tsMillis is the source
// timestamp. The ULID is stamped with the wall clock and uses monotonic
// entropy, so ids generated within the same millisecond still differ.
func NewMessageID(tsMillis int64) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Now(), entropy)
	entropyMu.Unlock()
	return strconv.FormatInt(tsMillis, 10) + "_" + id.String()
}

func NowUTC() time.Time {
	return time.Now().UTC()
}

func NowMillis() int64 {
	return time.Now().UnixMilli()
}
