package domain

import "errors"

// ErrorKind classifies a semantic failure so transports can decide how the
// caller should react.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindValidation is bad input; never retried.
	KindValidation
	// KindConflict means the requested transition collides with current state.
	// The caller should refresh its view and offer the action again.
	KindConflict
	// KindNotFound usually means state changed concurrently.
	KindNotFound
	// KindAuthorization means the caller may not perform this transition.
	KindAuthorization
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	default:
		return "unknown"
	}
}

// Error is a typed engine failure. Two errors match under errors.Is when
// their codes are equal.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Validation errors
var (
	ErrInvalidInput    = newError(KindValidation, "INVALID_INPUT", "invalid input")
	ErrDurationInvalid = newError(KindValidation, "DURATION_INVALID", "duration must be positive and at most 24 hours")
	ErrSelfPairing     = newError(KindValidation, "SELF_PAIRING", "cannot pair with yourself")
	ErrInvalidStatus   = newError(KindValidation, "INVALID_STATUS", "session can only end as completed or cancelled")
)

// Conflict errors
var (
	ErrAlreadyPaired        = newError(KindConflict, "ALREADY_PAIRED", "user already has a buddy")
	ErrInviteExists         = newError(KindConflict, "INVITE_EXISTS", "a pending invite already exists")
	ErrSessionAlreadyExists = newError(KindConflict, "SESSION_ALREADY_EXISTS", "a buddy session is already open for this pair")
	ErrAlreadyStudying      = newError(KindConflict, "ALREADY_STUDYING", "user already has an active study session")
	ErrWrongStatus          = newError(KindConflict, "WRONG_STATUS", "session is not in a state that allows this action")
	ErrNotExpired           = newError(KindConflict, "NOT_EXPIRED", "session countdown has not finished")
)

// Not found errors
var (
	ErrUserNotFound    = newError(KindNotFound, "USER_NOT_FOUND", "user not found")
	ErrNoSuchInvite    = newError(KindNotFound, "NO_SUCH_INVITE", "no pending invite")
	ErrPairNotFound    = newError(KindNotFound, "PAIR_NOT_FOUND", "buddy pair not found")
	ErrSessionNotFound = newError(KindNotFound, "SESSION_NOT_FOUND", "session not found")
	ErrPokeNotFound    = newError(KindNotFound, "POKE_NOT_FOUND", "poke not found")
	ErrTaskNotFound    = newError(KindNotFound, "TASK_NOT_FOUND", "task not found")
)

// Authorization errors
var (
	ErrNotInvitee     = newError(KindAuthorization, "NOT_INVITEE", "only the invited user can do this")
	ErrNotInitiator   = newError(KindAuthorization, "NOT_INITIATOR", "only the user who sent the invite can do this")
	ErrNotResponder   = newError(KindAuthorization, "NOT_RESPONDER", "only the invited buddy can do this")
	ErrNotOwner       = newError(KindAuthorization, "NOT_OWNER", "session belongs to another user")
	ErrNotParticipant = newError(KindAuthorization, "NOT_PARTICIPANT", "user is not part of this pair or session")
	ErrNotRecipient   = newError(KindAuthorization, "NOT_RECIPIENT", "only the recipient can do this")
	ErrNotPaired      = newError(KindAuthorization, "NOT_PAIRED", "users are not buddies")
	ErrBuddyOnly      = newError(KindAuthorization, "BUDDY_ONLY", "while paired only your buddy can do this")
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// AsError returns the first *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
