package server

import (
	"context"
	"regexp"

	"github.com/Tyrowin/relaychat/internal/store"
)

var handlePattern = regexp.MustCompile(`@([A-Za-z0-9_]+)`)

// ExtractHandles returns the distinct @handles in text, without the @, in
// order of first appearance. Matching is case-sensitive.
func ExtractHandles(text string) []string {
	matches := handlePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	handles := make([]string, 0, len(matches))
	for _, m := range matches {
		handle := m[1]
		if _, ok := seen[handle]; ok {
			continue
		}
		seen[handle] = struct{}{}
		handles = append(handles, handle)
	}
	return handles
}

// notifyMentions records a notification for every existing user mentioned in
// msg and returns how many were written. Unknown handles are ignored and
// failures are only logged.
func (h *Hub) notifyMentions(ctx context.Context, msg store.Message) int {
	handles := ExtractHandles(msg.Content)
	if len(handles) == 0 {
		return 0
	}

	profiles, err := h.store.ProfilesByUsernames(ctx, handles)
	if err != nil {
		h.logger.Error("failed to resolve mentioned users", "message_id", msg.ID, "error", err)
		return 0
	}
	if len(profiles) == 0 {
		return 0
	}

	notifications := make([]store.Notification, 0, len(profiles))
	for _, p := range profiles {
		notifications = append(notifications, store.Notification{
			RecipientUserID: p.ID,
			MessageID:       msg.ID,
		})
	}

	if err := h.store.InsertNotifications(ctx, notifications); err != nil {
		h.logger.Error("failed to insert mention notifications", "message_id", msg.ID, "error", err)
		return 0
	}
	return len(notifications)
}
