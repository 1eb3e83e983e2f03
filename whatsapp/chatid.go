package whatsapp

import (
	"strings"

	"go.mau.fi/whatsmeow/types"
)

const (
	ContactSuffix = "@c.us"
	GroupSuffix   = "@g.us"
)

// NormalizeChatID completes a bare chat id with its server suffix. Ids with a
// '-' are groups, anything else is a direct contact. Ids that already name a
// server are returned unchanged.
func NormalizeChatID(chatID string) string {
	chatID = strings.TrimSpace(chatID)
	if strings.HasSuffix(chatID, ContactSuffix) || strings.HasSuffix(chatID, GroupSuffix) {
		return chatID
	}
	if user, ok := strings.CutSuffix(chatID, "@"+types.DefaultUserServer); ok {
		return user + ContactSuffix
	}
	if strings.Contains(chatID, "@") {
		return chatID
	}
	chatID = strings.TrimPrefix(chatID, "+")
	if strings.Contains(chatID, "-") {
		return chatID + GroupSuffix
	}
	return chatID + ContactSuffix
}

// IsGroup reports whether chatID names a group chat
func IsGroup(chatID string) bool {
	return strings.HasSuffix(NormalizeChatID(chatID), GroupSuffix)
}

// toJID converts a gateway chat id to a whatsmeow JID
func toJID(chatID string) types.JID {
	chatID = NormalizeChatID(chatID)
	if user, ok := strings.CutSuffix(chatID, GroupSuffix); ok {
		return types.NewJID(user, types.GroupServer)
	}
	user := strings.TrimSuffix(chatID, ContactSuffix)
	return types.NewJID(user, types.DefaultUserServer)
}

// fromJID converts a whatsmeow JID to a gateway chat id
func fromJID(jid types.JID) string {
	jid = jid.ToNonAD()
	if jid.Server == types.GroupServer {
		return jid.User + GroupSuffix
	}
	return jid.User + ContactSuffix
}
