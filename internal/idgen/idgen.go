// Package idgen generates the opaque identifiers the workspace lifecycle
// engine hands out: workspace ids and the archive_op_id/restore_op_id pair
// that make archive and restore jobs idempotent.
package idgen

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// opIDBytes controls the length of generated archive_op_id/restore_op_id
// values before base64 encoding.
const opIDBytes = 16

// NewWorkspaceID returns a new sortable, unguessable workspace identifier.
// UUIDv7 embeds a millisecond timestamp in its high bits, giving ids that
// sort by creation order while remaining unguessable in the random tail.
func NewWorkspaceID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate workspace id: %w", err)
	}
	return id.String(), nil
}

// NewOpID returns a fresh opaque operation id suitable for archive_op_id or
// restore_op_id. It carries no internal structure; only its uniqueness
// matters, since the object-store path and idempotency check are keyed on
// it directly.
func NewOpID() (string, error) {
	return GenerateSecureToken(opIDBytes)
}

// GenerateSecureToken generates a cryptographically secure random token of
// the given byte length, encoded as URL-safe base64 without padding.
func GenerateSecureToken(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	tokenBytes := make([]byte, length)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(tokenBytes), nil
}
