// ABOUTME: Error taxonomy for conversation operations
// ABOUTME: Sentinel errors mapped to HTTP status codes at the gateway boundary

package chat

import "errors"

var (
	// ErrForbidden means the identity is authenticated but not entitled to
	// the target conversation or action.
	ErrForbidden = errors.New("access denied")

	// ErrNotFound means the conversation does not exist.
	ErrNotFound = errors.New("conversation not found")

	// ErrConflict means a transition precondition did not hold, including a
	// lost accept race. Callers should move on rather than retry the same
	// conversation.
	ErrConflict = errors.New("conversation not in required state")

	// ErrValidation means the input was malformed (e.g. empty message text).
	ErrValidation = errors.New("invalid input")
)
