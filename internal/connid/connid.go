// Package connid generates session and connection identifiers.
package connid

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	sessionPrefix = "session_"
	sessionLen    = 36
)

// Connection id prefixes, one per transport kind.
const (
	PrefixChat     = "chatws"
	PrefixLogs     = "logws"
	PrefixInternal = "internalws"
	PrefixStream   = "httpstream"
)

// NewSessionID returns "session_<unix-ms>_<hex>" padded to 36 characters.
func NewSessionID() string {
	return sessionIDAt(time.Now())
}

func sessionIDAt(now time.Time) string {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	randomLen := sessionLen - (len(sessionPrefix) + 1 + len(ts))
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	if randomLen < 1 {
		randomLen = 1
	}
	if randomLen > len(hex) {
		randomLen = len(hex)
	}
	return sessionPrefix + ts + "_" + hex[:randomLen]
}

// Generator hands out connection ids that are unique for its lifetime.
// The zero value is ready to use.
type Generator struct {
	seq atomic.Uint64
	now func() time.Time
}

// Next returns "<prefix>_<unix-ms>_<seq>".
func (g *Generator) Next(prefix string) string {
	n := g.seq.Add(1)
	now := time.Now
	if g.now != nil {
		now = g.now
	}
	return fmt.Sprintf("%s_%d_%d", prefix, now().UnixMilli(), n)
}
