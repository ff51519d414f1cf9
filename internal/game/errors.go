package game

import "fmt"

type ErrorKind int

const (
	// KindValidation marks malformed or out-of-range input.
	KindValidation ErrorKind = iota + 1
	// KindRule marks an action that is inconsistent with the current room state.
	KindRule
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRule:
		return "rule"
	default:
		return "unknown"
	}
}

// RuleError is a rejection that goes back to the single requester as-is.
type RuleError struct {
	Kind    ErrorKind
	Message string
}

func (e *RuleError) Error() string {
	return e.Message
}

func Invalid(format string, args ...any) *RuleError {
	return &RuleError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Violation(format string, args ...any) *RuleError {
	return &RuleError{Kind: KindRule, Message: fmt.Sprintf(format, args...)}
}

// ErrSecretCollision comes back from PlaceSecret together with a non-nil
// room: both secrets were cleared, that room must still be committed, and
// only the requester is told why.
var ErrSecretCollision = &RuleError{
	Kind:    KindRule,
	Message: "secret cells may not overlap in a two-player room, both players must place again",
}

// ErrRoomNotFound is reported when an action targets a room that does not
// exist or has expired.
var ErrRoomNotFound = &RuleError{Kind: KindRule, Message: "room does not exist or has been cleaned up"}
