package broker

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKeyLayout(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	key := ObjectKey("u1", "Quarterly Report (final).pdf", now)

	re := regexp.MustCompile(`^users/u1/1700000000123-[0-9a-f]{12}/[A-Za-z0-9._-]+$`)
	require.Regexp(t, re, key)
	assert.True(t, OwnsKey("u1", key))
	assert.False(t, OwnsKey("u2", key))

	other := ObjectKey("u1", "Quarterly Report (final).pdf", now)
	assert.NotEqual(t, key, other, "keys for the same name must differ")
}

func TestOwnsKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"users/u1/1-abc/a.pdf", true},
		{"users/u1/", false},
		{"users/u10/1-abc/a.pdf", false},
		{"users/u1/../u2/1-abc/a.pdf", false},
		{"users/u1/1-abc//a.pdf", false},
		{"other/u1/1-abc/a.pdf", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, OwnsKey("u1", tt.key))
		})
	}
	assert.False(t, OwnsKey("", "users//x"))
}

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()

	tok, err := IssueToken(secret, "u1", time.Hour, now)
	require.NoError(t, err)

	owner, err := ParseToken(tok, secret)
	require.NoError(t, err)
	assert.Equal(t, "u1", owner)

	_, err = ParseToken(tok, []byte("other-secret"))
	assert.Error(t, err)

	expired, err := IssueToken(secret, "u1", time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = ParseToken(expired, secret)
	assert.Error(t, err)

	_, err = IssueToken(secret, "../u2", time.Hour, now)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
