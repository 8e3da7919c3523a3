// Package verp derives variable envelope return paths, one unique bounce
// address per outbound message, so an inbound bounce notification can be
// correlated back to the message that triggered it.
package verp

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

type Generator struct {
	hostname string
}

func New(hostname string) *Generator {
	return &Generator{hostname: hostname}
}

// ReturnPath produces bounce-<messageId>-<hash8>@<hostname>. It is
// deterministic for the same message id and original sender, retries of a
// message reuse the identical address, and practically unique across
// messages since message ids are.
func (g *Generator) ReturnPath(messageId, originalFrom string) string {
	return fmt.Sprintf("bounce-%s-%s@%s", messageId, hash8(messageId, originalFrom), g.hostname)
}

// Verify recomputes the hash of a parsed return path and reports whether it
// matches, rejecting tampered or fabricated bounce addresses.
func (g *Generator) Verify(messageId, originalFrom, hash string) bool {
	return hash8(messageId, originalFrom) == hash
}

func hash8(messageId, originalFrom string) string {
	sum := sha256.Sum256([]byte(messageId + originalFrom))
	return hex.EncodeToString(sum[:])[:8]
}

var returnPathRe = regexp.MustCompile(`^bounce-([^@]+)-([a-f0-9]{8})@(.+)$`)

// Parse splits a bounce address into message id and hash. The hash is not
// verified here, callers do that against the stored original sender.
func Parse(address string) (messageId, hash string, ok bool) {
	m := returnPathRe.FindStringSubmatch(strings.ToLower(address))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
