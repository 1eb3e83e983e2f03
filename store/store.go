package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/mbenaiss/whatsapp-gateway/models"
)

// Store holds the conversations of one device session in memory. Only the
// owning session writes to it; readers get copies.
type Store struct {
	mu    sync.RWMutex
	chats map[string]*conversation
}

type conversation struct {
	name     string
	isGroup  bool
	resolved bool
	messages []models.Message
	seen     map[string]struct{}
}

// New creates an empty store
func New() *Store {
	return &Store{chats: make(map[string]*conversation)}
}

// StoreChat upserts chat metadata. Metadata from the provider always wins over
// the placeholder created by RecordMessage; an empty name keeps the current one.
func (s *Store) StoreChat(chat models.Chat) {
	if chat.ID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.getOrCreate(chat.ID)
	if chat.Name != "" {
		c.name = chat.Name
	}
	c.isGroup = chat.IsGroup
	c.resolved = true
}

// RecordMessage appends msg to the chat, creating the chat with a placeholder
// name if needed. It returns false when msg carries an id already stored in
// that chat.
func (s *Store) RecordMessage(chatID string, msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendLocked(s.getOrCreate(chatID), msg)
}

// MergeHistory appends backfilled messages. Messages whose id is already
// present are skipped. It returns how many were added.
func (s *Store) MergeHistory(chatID string, msgs []models.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.getOrCreate(chatID)
	added := 0
	for _, m := range msgs {
		if s.appendLocked(c, m) {
			added++
		}
	}
	return added
}

// NeedsMetadata reports whether the chat exists with placeholder metadata only.
func (s *Store) NeedsMetadata(chatID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[chatID]
	return ok && !c.resolved
}

// GetChats returns a snapshot of every known chat. Order is unspecified.
func (s *Store) GetChats() []models.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chats := make([]models.Chat, 0, len(s.chats))
	for id, c := range s.chats {
		chats = append(chats, models.Chat{ID: id, Name: c.name, IsGroup: c.isGroup})
	}
	return chats
}

// GetMessages returns the chat history sorted by timestamp ascending. Unknown
// chats yield an empty slice.
func (s *Store) GetMessages(chatID string) []models.Message {
	s.mu.RLock()
	c, ok := s.chats[chatID]
	if !ok {
		s.mu.RUnlock()
		return []models.Message{}
	}
	messages := make([]models.Message, len(c.messages))
	copy(messages, c.messages)
	s.mu.RUnlock()

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp < messages[j].Timestamp
	})
	return messages
}

// Len returns the number of known chats
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chats)
}

func (s *Store) getOrCreate(chatID string) *conversation {
	c, ok := s.chats[chatID]
	if !ok {
		c = &conversation{
			name:    PlaceholderName(chatID),
			isGroup: strings.HasSuffix(chatID, "@g.us"),
			seen:    make(map[string]struct{}),
		}
		s.chats[chatID] = c
	}
	return c
}

func (s *Store) appendLocked(c *conversation, msg models.Message) bool {
	if msg.ID != "" {
		if _, dup := c.seen[msg.ID]; dup {
			return false
		}
		c.seen[msg.ID] = struct{}{}
	}
	c.messages = append(c.messages, msg)
	return true
}

// PlaceholderName derives a display name from the user part of a chat id.
func PlaceholderName(chatID string) string {
	user, _, _ := strings.Cut(chatID, "@")
	if user == "" {
		return "Unnamed chat"
	}
	return user
}
