package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWorkspaceID(t *testing.T) {
	seen := make(map[string]bool)
	var prev string
	for i := 0; i < 100; i++ {
		id, err := NewWorkspaceID()
		assert.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.False(t, seen[id], "workspace id should be unique")
		seen[id] = true

		if prev != "" {
			assert.True(t, prev < id, "UUIDv7 ids should sort by creation order")
		}
		prev = id
	}
}

func TestNewOpID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewOpID()
		assert.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.False(t, strings.ContainsAny(id, "/+="), "op id should be URL-safe")
		assert.False(t, seen[id], "op id should be unique")
		seen[id] = true
	}
}

func TestGenerateSecureToken(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		wantErr bool
		errMsg  string
	}{
		{name: "valid length", length: 32, wantErr: false},
		{name: "zero length", length: 0, wantErr: true, errMsg: "length must be positive"},
		{name: "negative length", length: -10, wantErr: true, errMsg: "length must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := GenerateSecureToken(tt.length)

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
				return
			}

			assert.NoError(t, err)
			assert.Regexp(t, `^[A-Za-z0-9_-]+$`, token)
		})
	}

	t.Run("generates unique tokens", func(t *testing.T) {
		tokens := make(map[string]bool)
		for i := 0; i < 100; i++ {
			token, err := GenerateSecureToken(32)
			assert.NoError(t, err)
			assert.False(t, tokens[token], "token should be unique")
			tokens[token] = true
		}
		assert.Equal(t, 100, len(tokens))
	})
}
