package server

import "fmt"

// ErrorKind classifies a failed request for reporting.
type ErrorKind int

const (
	// KindValidation is a missing or invalid field the user can correct.
	KindValidation ErrorKind = iota
	// KindAuth is a credential or session failure, reported generically.
	KindAuth
	// KindRateLimited is a chat message inside the sender's cooldown.
	KindRateLimited
	// KindStore is a failed store or identity provider round trip.
	KindStore
	// KindProtocol is a frame that could not be decoded.
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindRateLimited:
		return "rate_limited"
	case KindStore:
		return "store"
	case KindProtocol:
		return "protocol"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Client-facing messages.
const (
	msgInvalidJSON        = "Invalid JSON"
	msgCredentialsMissing = "Username and password required."
	msgUsernameTooLong    = "Username must be at most 16 characters."
	msgPasswordTooLong    = "Password must be at most 72 bytes."
	msgUsernameTaken      = "Username is already taken."
	msgSignupFailed       = "Signup failed."
	msgInvalidCredentials = "Invalid credentials."
	msgSessionExpired     = "Session expired, please log in again."
	msgNotAuthenticated   = "Not authenticated."
	msgTooQuickly         = "You are sending messages too quickly."
	msgSendFailed         = "Failed to send message."
	msgReplyMissing       = "The message you replied to no longer exists."
	msgHistoryFailed      = "Failed to load chat history."
)

// RequestError is a request failure with the message shown to the client.
// Err holds the underlying cause, which is logged and never sent.
type RequestError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func validationError(message string) *RequestError {
	return &RequestError{Kind: KindValidation, Message: message}
}

func authError(message string, cause error) *RequestError {
	return &RequestError{Kind: KindAuth, Message: message, Err: cause}
}

func storeError(message string, cause error) *RequestError {
	return &RequestError{Kind: KindStore, Message: message, Err: cause}
}
