package tools

import (
	"errors"
	"math/rand"
	"strings"

	"github.com/modfin/henry/slicez"
)

// DomainOfEmail returns the text after the last @ of an address. An empty
// domain, a domain containing whitespace or one without a dot is rejected,
// such addresses cannot belong to a verified domain anyway.
func DomainOfEmail(address string) (string, error) {
	parts := strings.Split(address, "@")
	if len(parts) < 2 {
		return "", errors.New("no domain was present in email address")
	}
	domain := slicez.Nth(parts, -1)
	if len(domain) == 0 {
		return "", errors.New("domain of email address is empty")
	}
	if strings.ContainsAny(domain, " \t\r\n") {
		return "", errors.New("domain of email address contains whitespace")
	}
	if !strings.Contains(domain, ".") {
		return "", errors.New("domain of email address has no dot")
	}
	return domain, nil
}

// FirstLine returns the first non empty line of s, trimmed. Useful for
// turning a multi line smtp notification into a one line reason.
func FirstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if len(line) > 0 {
			return line
		}
	}
	return ""
}

var letterRunes = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890")

func RandStringRunes(n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = letterRunes[rand.Intn(len(letterRunes))]
	}
	return string(b)
}
