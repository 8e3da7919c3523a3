package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain markup untouched",
			in:   `<p>Hello <b>world</b></p>`,
			want: `<p>Hello <b>world</b></p>`,
		},
		{
			name: "script stripped",
			in:   `<p>hi</p><script type="text/javascript">alert(1)</script><p>bye</p>`,
			want: `<p>hi</p><p>bye</p>`,
		},
		{
			name: "script spanning lines stripped",
			in:   "<script>\nwhile(true){}\n</script>ok",
			want: "ok",
		},
		{
			name: "iframe stripped",
			in:   `before<iframe src="https://evil.example"></iframe>after`,
			want: `beforeafter`,
		},
		{
			name: "self closing iframe stripped",
			in:   `before<iframe src="https://evil.example"/>after`,
			want: `beforeafter`,
		},
		{
			name: "inline handlers stripped",
			in:   `<a href="https://example.com" onclick="steal()" onmouseover='x()'>link</a>`,
			want: `<a href="https://example.com">link</a>`,
		},
		{
			name: "javascript urls neutralized",
			in:   `<a href="javascript:alert(1)">link</a>`,
			want: `<a href="#">link</a>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeHTML(tt.in))
		})
	}
}
