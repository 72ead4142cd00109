package server

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeRequest(t *testing.T) {
	replyTo := int64(7)

	tests := []struct {
		name  string
		input string
		want  Request
	}{
		{
			name:  "signup",
			input: `{"type":"signup","payload":{"username":"alice","password":"x"}}`,
			want:  SignupRequest{Username: "alice", Password: "x"},
		},
		{
			name:  "login",
			input: `{"type":"login","payload":{"username":"alice","password":"x"}}`,
			want:  LoginRequest{Username: "alice", Password: "x"},
		},
		{
			name:  "login without payload",
			input: `{"type":"login"}`,
			want:  LoginRequest{},
		},
		{
			name:  "authenticate",
			input: `{"type":"authenticate","token":"abc"}`,
			want:  AuthenticateRequest{Token: "abc"},
		},
		{
			name:  "chat message",
			input: `{"type":"chat_message","payload":{"content":"hi"}}`,
			want:  ChatRequest{Content: "hi"},
		},
		{
			name:  "chat reply",
			input: `{"type":"chat_message","payload":{"content":"hi"},"replying_to_id":7}`,
			want:  ChatRequest{Content: "hi", ReplyingToID: &replyTo},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeRequest([]byte(tt.input))
			if err != nil {
				t.Fatalf("DecodeRequest(%s) returned error: %v", tt.input, err)
			}
			if got.Kind() != tt.want.Kind() {
				t.Fatalf("Expected kind %s, got %s", tt.want.Kind(), got.Kind())
			}

			if chat, ok := got.(ChatRequest); ok {
				want := tt.want.(ChatRequest)
				if chat.Content != want.Content {
					t.Errorf("Expected content %q, got %q", want.Content, chat.Content)
				}
				switch {
				case want.ReplyingToID == nil && chat.ReplyingToID != nil:
					t.Errorf("Expected no reply target, got %d", *chat.ReplyingToID)
				case want.ReplyingToID != nil && (chat.ReplyingToID == nil || *chat.ReplyingToID != *want.ReplyingToID):
					t.Errorf("Expected reply target %d, got %v", *want.ReplyingToID, chat.ReplyingToID)
				}
				return
			}

			if got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestDecodeRequestErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "not json", input: `not json`, wantErr: ErrMalformedEnvelope},
		{name: "missing type", input: `{"payload":{}}`, wantErr: ErrMalformedEnvelope},
		{name: "payload wrong shape", input: `{"type":"chat_message","payload":"hi"}`, wantErr: ErrMalformedEnvelope},
		{name: "credentials wrong type", input: `{"type":"login","payload":{"username":1}}`, wantErr: ErrMalformedEnvelope},
		{name: "unknown type", input: `{"type":"delete_message"}`, wantErr: ErrUnknownKind},
		{name: "outbound kind", input: `{"type":"viewer_count"}`, wantErr: ErrUnknownKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeRequest([]byte(tt.input))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got request %v and error %v", tt.wantErr, req, err)
			}
		})
	}
}

func TestOutboundEnvelopeShapes(t *testing.T) {
	tests := []struct {
		name string
		env  any
		want string
	}{
		{
			name: "signup success",
			env:  signupSuccessEnvelope(),
			want: `{"type":"signup_success"}`,
		},
		{
			name: "auth error",
			env:  authErrorEnvelope(msgInvalidCredentials),
			want: `{"type":"auth_error","payload":{"message":"Invalid credentials."}}`,
		},
		{
			name: "chat error",
			env:  newErrorEnvelope(msgTooQuickly),
			want: `{"type":"error","message":"You are sending messages too quickly."}`,
		},
		{
			name: "viewer count",
			env:  newViewerCountEnvelope(3),
			want: `{"type":"viewer_count","count":3}`,
		},
		{
			name: "empty history",
			env:  chatHistoryEnvelope(nil),
			want: `{"type":"chat_history","payload":[]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.env)
			if err != nil {
				t.Fatalf("Failed to marshal envelope: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, data)
			}
		})
	}
}

func TestChatMessageRendersNullReply(t *testing.T) {
	data, err := json.Marshal(chatMessageEnvelope(ChatMessage{ID: 1, Username: "alice", Content: "hi"}))
	if err != nil {
		t.Fatalf("Failed to marshal envelope: %v", err)
	}
	if !strings.Contains(string(data), `"replying_to":null`) {
		t.Errorf("Expected an explicit null reply, got %s", data)
	}
}
