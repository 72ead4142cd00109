package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/Tyrowin/relaychat/internal/identity"
	"github.com/Tyrowin/relaychat/internal/store"
)

// handleFrame decodes one inbound frame and runs the matching request
// handler. Failures are answered on this connection; none of them close it.
func (c *Client) handleFrame(ctx context.Context, data []byte) {
	req, err := DecodeRequest(data)
	if err != nil {
		c.reportError("", &RequestError{Kind: KindProtocol, Message: msgInvalidJSON, Err: err})
		return
	}

	switch r := req.(type) {
	case SignupRequest:
		err = c.handleSignup(ctx, r)
	case LoginRequest:
		err = c.handleLogin(ctx, r)
	case AuthenticateRequest:
		err = c.handleAuthenticate(ctx, r)
	case ChatRequest:
		err = c.handleChat(ctx, r)
	}

	if err != nil {
		c.reportError(req.Kind(), err)
	}
}

// rejectFrame answers a frame refused by the flood guard in the envelope
// family its kind expects, so every frame still gets exactly one reply.
func (c *Client) rejectFrame(data []byte) {
	kind := ""
	if req, err := DecodeRequest(data); err == nil {
		kind = req.Kind()
	}
	c.reportError(kind, &RequestError{Kind: KindRateLimited, Message: msgTooQuickly})
}

// reportError logs err and answers with an error envelope for chat messages
// or an auth_error for everything else, including undecodable frames.
func (c *Client) reportError(kind string, err error) {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		reqErr = storeError(msgSendFailed, err)
	}

	attrs := []any{"kind", kind, "error_kind", reqErr.Kind.String(), "reason", reqErr.Message}
	if reqErr.Err != nil {
		attrs = append(attrs, "error", reqErr.Err)
	}
	if reqErr.Err != nil && reqErr.Kind != KindProtocol {
		c.logger.Error("request failed", attrs...)
	} else {
		c.logger.Info("request rejected", attrs...)
	}

	if kind == KindChatMessage {
		c.sendJSON(newErrorEnvelope(reqErr.Message))
		return
	}
	c.sendJSON(authErrorEnvelope(reqErr.Message))
}

func (c *Client) handleSignup(ctx context.Context, r SignupRequest) error {
	if r.Username == "" || r.Password == "" {
		return validationError(msgCredentialsMissing)
	}
	if utf8.RuneCountInString(r.Username) > store.MaxUsernameLength {
		return validationError(msgUsernameTooLong)
	}
	if len(r.Password) > identity.MaxPasswordBytes {
		return validationError(msgPasswordTooLong)
	}

	if _, err := c.hub.store.ProfileByUsername(ctx, r.Username); err == nil {
		return validationError(msgUsernameTaken)
	} else if !errors.Is(err, store.ErrNotFound) {
		return storeError(msgSignupFailed, err)
	}

	userID, err := c.hub.identity.CreateAccount(ctx, r.Username, r.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrDuplicateHandle):
			return validationError(msgUsernameTaken)
		case errors.Is(err, identity.ErrPasswordTooLong):
			return validationError(msgPasswordTooLong)
		}
		return storeError(msgSignupFailed, err)
	}

	if _, err := c.hub.store.CreateProfile(ctx, userID, r.Username); err != nil {
		if delErr := c.hub.identity.DeleteAccount(ctx, userID); delErr != nil {
			c.logger.Error("failed to roll back account after profile error", "user_id", userID, "error", delErr)
		}
		if errors.Is(err, store.ErrUsernameTaken) {
			return validationError(msgUsernameTaken)
		}
		return storeError(msgSignupFailed, err)
	}

	c.logger.Info("account created", "user_id", userID, "username", r.Username)
	c.sendJSON(signupSuccessEnvelope())
	return nil
}

func (c *Client) handleLogin(ctx context.Context, r LoginRequest) error {
	if r.Username == "" || r.Password == "" {
		return validationError(msgCredentialsMissing)
	}

	token, userID, err := c.hub.identity.VerifyCredentials(ctx, r.Username, r.Password)
	if err != nil {
		return authError(msgInvalidCredentials, unexpected(err, identity.ErrInvalidCredentials))
	}
	return c.completeLogin(ctx, token, userID, msgInvalidCredentials)
}

func (c *Client) handleAuthenticate(ctx context.Context, r AuthenticateRequest) error {
	userID, err := c.hub.identity.ResolveToken(ctx, r.Token)
	if err != nil {
		return authError(msgSessionExpired, unexpected(err, identity.ErrInvalidToken))
	}
	return c.completeLogin(ctx, r.Token, userID, msgSessionExpired)
}

// completeLogin resolves the profile for userID, attaches it to this
// connection, confirms the login, and replays the chat history.
func (c *Client) completeLogin(ctx context.Context, token, userID, failure string) error {
	profile, err := c.hub.store.ProfileByID(ctx, userID)
	if err != nil {
		return authError(failure, err)
	}

	user := profileFromStore(profile)
	if err := c.hub.sessions.Attach(c.id, user); err != nil {
		// The connection closed while the provider call was in flight.
		c.logger.Debug("discarding login for closed connection", "user_id", userID)
		return nil
	}

	c.logger.Info("client authenticated", "user_id", user.ID, "username", user.Username)
	c.sendJSON(loginSuccessEnvelope(token, user))

	if !c.hub.cfg.CountUnauthenticated {
		c.hub.announceViewerCount()
	}

	c.sendHistory(ctx)
	return nil
}

func (c *Client) handleChat(ctx context.Context, r ChatRequest) error {
	author, ok := c.hub.sessions.Lookup(c.id)
	if !ok {
		return authError(msgNotAuthenticated, nil)
	}

	// A blank message inside the window is still told to slow down, but
	// only a message that will be stored starts a new window.
	content := strings.TrimSpace(r.Content)
	if content == "" {
		cooling, err := c.hub.limiter.Cooling(ctx, author.ID, c.hub.now())
		if err != nil {
			return storeError(msgSendFailed, err)
		}
		if cooling {
			return &RequestError{Kind: KindRateLimited, Message: msgTooQuickly}
		}
		return nil
	}

	allowed, err := c.hub.limiter.Allow(ctx, author.ID, c.hub.now())
	if err != nil {
		return storeError(msgSendFailed, err)
	}
	if !allowed {
		return &RequestError{Kind: KindRateLimited, Message: msgTooQuickly}
	}
	content = truncateRunes(content, c.hub.cfg.MaxContentLength)

	msg, err := c.hub.store.InsertMessage(ctx, author.ID, content, r.ReplyingToID)
	if err != nil {
		if errors.Is(err, store.ErrReplyTargetMissing) {
			return validationError(msgReplyMissing)
		}
		return storeError(msgSendFailed, err)
	}

	rendered := renderMessage(msg)
	rendered.ReplyingTo = c.hub.replyPreview(ctx, msg.ReplyingToID)
	c.hub.notifyMentions(ctx, msg)

	payload, err := json.Marshal(chatMessageEnvelope(rendered))
	if err != nil {
		return storeError(msgSendFailed, err)
	}
	c.hub.Broadcast(payload)
	return nil
}

// unexpected returns nil when err is the expected sentinel, so that only
// genuine provider failures are logged as errors.
func unexpected(err, expected error) error {
	if errors.Is(err, expected) {
		return nil
	}
	return err
}

// truncateRunes caps s at limit characters.
func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
