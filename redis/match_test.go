package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchPrefixEscaping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		want   string
	}{
		{"plain prefix passes through", "app:", "app:"},
		{"star is quoted", "app:*:", `app:\*:`},
		{"question mark is quoted", "a?b:", `a\?b:`},
		{"character class is quoted", "t[0]:", `t\[0\]:`},
		{"backslash is quoted first", `a\b:`, `a\\b:`},
		{"empty prefix stays empty", "", ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := New(nil, WithKeyPrefix(tt.prefix))
			assert.Equal(t, tt.want, s.matchPrefix())
		})
	}
}
