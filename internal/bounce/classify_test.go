package bounce

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want Category
	}{
		{"550 5.1.1 User unknown", Hard},
		{"user unknown", Hard},
		{"mailbox unavailable", Hard},
		{"Invalid Recipient address", Hard},
		{"no such user here", Hard},
		{"domain not found", Hard},

		{"blocked by spam filter", Block},
		{"your IP is on a blacklist", Block},
		{"rejected due to policy violation", Block},

		{"mailbox full", Soft},
		{"temporary failure, try again later", Soft},
		{"service unavailable", Soft},
		{"greylisted, please retry", Soft},
		{"", Soft},
		{"complete gibberish qwerty", Soft},
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.text))
		})
	}
}

func TestClassifyPriority(t *testing.T) {
	// permanent non-existence outranks reputation based blocking
	assert.Equal(t, Hard, Classify("no such user, sender is blacklisted"))
	assert.Equal(t, Hard, Classify("BLOCKED: domain not found"))
}

func TestClassifyCaseInsensitive(t *testing.T) {
	assert.Equal(t, Hard, Classify("USER UNKNOWN"))
	assert.Equal(t, Block, Classify("BlackList hit"))
}
