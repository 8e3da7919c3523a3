// Package bounce maps delivery failure text onto a bounce category.
package bounce

import (
	"strings"

	"github.com/modfin/henry/slicez"
)

type Category string

const (
	// Hard is a permanent failure, the recipient or its domain does not exist.
	Hard Category = "hard"
	// Block is a rejection on sender reputation or policy grounds.
	Block Category = "block"
	// Soft is a transient failure, eligible for retry with backoff.
	Soft Category = "soft"
)

var hardPhrases = []string{
	"user unknown",
	"mailbox unavailable",
	"invalid recipient",
	"no such user",
	"domain not found",
}

var blockPhrases = []string{
	"blocked",
	"blacklist",
	"policy violation",
}

// Classify is pure and total, every input maps to exactly one category.
// Evaluation is case insensitive substring matching in fixed priority order,
// hard before block, anything unrecognized is soft. A response mentioning
// both a hard phrase and a block phrase classifies hard, permanent
// non-existence outranks reputation based blocking.
func Classify(text string) Category {
	lower := strings.ToLower(text)
	contains := func(phrase string) bool {
		return strings.Contains(lower, phrase)
	}
	if slicez.ContainsBy(hardPhrases, contains) {
		return Hard
	}
	if slicez.ContainsBy(blockPhrases, contains) {
		return Block
	}
	return Soft
}
