// Package server defines the wire envelopes exchanged with chat clients and
// the decode step that turns an inbound frame into a typed request.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Inbound and outbound envelope kinds.
const (
	KindSignup        = "signup"
	KindLogin         = "login"
	KindAuthenticate  = "authenticate"
	KindChatMessage   = "chat_message"
	KindSignupSuccess = "signup_success"
	KindLoginSuccess  = "login_success"
	KindAuthError     = "auth_error"
	KindChatHistory   = "chat_history"
	KindViewerCount   = "viewer_count"
	KindError         = "error"
)

var (
	// ErrMalformedEnvelope is returned when a frame is not a JSON envelope of
	// the expected shape.
	ErrMalformedEnvelope = errors.New("malformed envelope")
	// ErrUnknownKind is returned for an envelope type the server does not accept.
	ErrUnknownKind = errors.New("unknown envelope type")
)

// Request is an inbound envelope after decoding. The set of implementations
// is closed: SignupRequest, LoginRequest, AuthenticateRequest, ChatRequest.
type Request interface {
	Kind() string
}

// SignupRequest asks to create an account.
type SignupRequest struct {
	Username string
	Password string
}

// LoginRequest asks to log in with a username and password.
type LoginRequest struct {
	Username string
	Password string
}

// AuthenticateRequest resumes a session with a previously issued token.
type AuthenticateRequest struct {
	Token string
}

// ChatRequest submits a chat message, optionally replying to another message.
type ChatRequest struct {
	Content      string
	ReplyingToID *int64
}

// Kind implements Request.
func (SignupRequest) Kind() string { return KindSignup }

// Kind implements Request.
func (LoginRequest) Kind() string { return KindLogin }

// Kind implements Request.
func (AuthenticateRequest) Kind() string { return KindAuthenticate }

// Kind implements Request.
func (ChatRequest) Kind() string { return KindChatMessage }

type rawEnvelope struct {
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Token        string          `json:"token"`
	ReplyingToID *int64          `json:"replying_to_id"`
}

type credentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type chatPayload struct {
	Content string `json:"content"`
}

// DecodeRequest parses a single inbound frame. Structural failures wrap
// ErrMalformedEnvelope; an unsupported type wraps ErrUnknownKind.
func DecodeRequest(data []byte) (Request, error) {
	var env rawEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch env.Type {
	case KindSignup, KindLogin:
		var creds credentialsPayload
		if err := decodePayload(env.Payload, &creds); err != nil {
			return nil, err
		}
		if env.Type == KindSignup {
			return SignupRequest(creds), nil
		}
		return LoginRequest(creds), nil

	case KindAuthenticate:
		return AuthenticateRequest{Token: env.Token}, nil

	case KindChatMessage:
		var chat chatPayload
		if err := decodePayload(env.Payload, &chat); err != nil {
			return nil, err
		}
		return ChatRequest{Content: chat.Content, ReplyingToID: env.ReplyingToID}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
}

// decodePayload unmarshals an optional payload object. An absent or null
// payload leaves v at its zero value.
func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrMalformedEnvelope, err)
	}
	return nil
}

// envelope is the outbound shape for kinds that carry a payload object.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// errorEnvelope is the outbound shape of a chat-family error.
type errorEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type viewerCountEnvelope struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type messagePayload struct {
	Message string `json:"message"`
}

type loginSuccessPayload struct {
	Token string      `json:"token"`
	User  UserProfile `json:"user"`
}

// ReplyPreview is the short form of the message a chat message replies to.
type ReplyPreview struct {
	Content  string `json:"content"`
	Username string `json:"username"`
}

// ChatMessage is the rendered form of a message as broadcast and replayed.
type ChatMessage struct {
	ID         int64         `json:"id"`
	Username   string        `json:"username"`
	IsAdmin    bool          `json:"is_admin"`
	Content    string        `json:"content"`
	Timestamp  time.Time     `json:"timestamp"`
	ReplyingTo *ReplyPreview `json:"replying_to"`
}

func signupSuccessEnvelope() envelope {
	return envelope{Type: KindSignupSuccess}
}

func loginSuccessEnvelope(token string, user UserProfile) envelope {
	return envelope{Type: KindLoginSuccess, Payload: loginSuccessPayload{Token: token, User: user}}
}

func authErrorEnvelope(message string) envelope {
	return envelope{Type: KindAuthError, Payload: messagePayload{Message: message}}
}

func chatHistoryEnvelope(history []ChatMessage) envelope {
	if history == nil {
		history = []ChatMessage{}
	}
	return envelope{Type: KindChatHistory, Payload: history}
}

func chatMessageEnvelope(msg ChatMessage) envelope {
	return envelope{Type: KindChatMessage, Payload: msg}
}

func newErrorEnvelope(message string) errorEnvelope {
	return errorEnvelope{Type: KindError, Message: message}
}

func newViewerCountEnvelope(count int) viewerCountEnvelope {
	return viewerCountEnvelope{Type: KindViewerCount, Count: count}
}
