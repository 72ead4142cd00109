package server

import (
	"context"
	"fmt"

	"github.com/Tyrowin/relaychat/internal/store"
)

const unknownUsername = "Unknown User"

// renderMessage converts a stored message to its wire form without the
// reply preview. A missing author renders as "Unknown User", not admin.
func renderMessage(m store.Message) ChatMessage {
	rendered := ChatMessage{
		ID:        m.ID,
		Username:  unknownUsername,
		Content:   m.Content,
		Timestamp: m.CreatedAt,
	}
	if m.Author != nil {
		rendered.Username = m.Author.Username
		rendered.IsAdmin = m.Author.IsAdmin
	}
	return rendered
}

func previewFromRef(ref store.ReplyRef) *ReplyPreview {
	preview := &ReplyPreview{Content: ref.Content, Username: unknownUsername}
	if ref.Username != nil {
		preview.Username = *ref.Username
	}
	return preview
}

// replyPreview looks up the message a new message replies to. Any failure
// degrades to no preview.
func (h *Hub) replyPreview(ctx context.Context, replyTo *int64) *ReplyPreview {
	if replyTo == nil {
		return nil
	}

	refs, err := h.store.FetchByIDs(ctx, []int64{*replyTo})
	if err != nil {
		h.logger.Error("failed to fetch replied-to message", "message_id", *replyTo, "error", err)
		return nil
	}
	for _, ref := range refs {
		if ref.ID == *replyTo {
			return previewFromRef(ref)
		}
	}
	return nil
}

// loadHistory renders every stored message in ascending order. Reply
// previews are resolved with one batch lookup; if that lookup fails the
// history is still returned without previews.
func (h *Hub) loadHistory(ctx context.Context) ([]ChatMessage, error) {
	messages, err := h.store.FetchRange(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	seen := make(map[int64]struct{})
	var replyIDs []int64
	for _, m := range messages {
		if m.ReplyingToID == nil {
			continue
		}
		if _, ok := seen[*m.ReplyingToID]; ok {
			continue
		}
		seen[*m.ReplyingToID] = struct{}{}
		replyIDs = append(replyIDs, *m.ReplyingToID)
	}

	previews := make(map[int64]*ReplyPreview, len(replyIDs))
	if len(replyIDs) > 0 {
		refs, err := h.store.FetchByIDs(ctx, replyIDs)
		if err != nil {
			h.logger.Error("failed to fetch replied-to messages for history", "error", err)
		}
		for _, ref := range refs {
			previews[ref.ID] = previewFromRef(ref)
		}
	}

	history := make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		rendered := renderMessage(m)
		if m.ReplyingToID != nil {
			rendered.ReplyingTo = previews[*m.ReplyingToID]
		}
		history = append(history, rendered)
	}
	return history, nil
}

// sendHistory replays the full history to this connection only. A failure
// is reported with an error envelope; the session stays authenticated.
func (c *Client) sendHistory(ctx context.Context) {
	history, err := c.hub.loadHistory(ctx)
	if err != nil {
		c.logger.Error("failed to load chat history", "error", err)
		c.sendJSON(newErrorEnvelope(msgHistoryFailed))
		return
	}

	if c.sendJSON(chatHistoryEnvelope(history)) {
		c.logger.Debug("chat history sent", "messages", len(history))
	}
}
