package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainOfEmail(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    string
		wantErr bool
	}{
		{name: "plain", address: "user@example.com", want: "example.com"},
		{name: "subdomain", address: "user@mail.example.com", want: "mail.example.com"},
		{name: "at in local part", address: `"a@b"@example.com`, want: "example.com"},
		{name: "no at", address: "example.com", wantErr: true},
		{name: "empty domain", address: "user@", wantErr: true},
		{name: "whitespace", address: "user@exa mple.com", wantErr: true},
		{name: "no dot", address: "user@localhost", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DomainOfEmail(tc.address)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRandStringRunes(t *testing.T) {
	a := RandStringRunes(12)
	b := RandStringRunes(12)
	assert.Len(t, a, 12)
	assert.NotEqual(t, a, b)
}
