package chatsync

import (
	"context"
	"sync"

	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/eventbus"
	"marketchat/pkg/logger"
)

// Store keeps the viewer's conversation list as of the last refresh, plus at
// most one client-local pending conversation.
type Store struct {
	api  ChatAPI
	bus  *eventbus.Bus
	opts Options

	mu            sync.Mutex
	viewer        entity.Viewer
	conversations []entity.Conversation
	pending       *entity.Conversation
	active        *entity.ConversationKey
	seq           uint64
	applied       uint64
}

func NewStore(api ChatAPI, bus *eventbus.Bus, viewer entity.Viewer, opts Options) *Store {
	return &Store{
		api:    api,
		bus:    bus,
		opts:   opts,
		viewer: viewer,
	}
}

func (s *Store) SetViewer(viewer entity.Viewer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewer = viewer
}

// Refresh replaces the list with a fresh snapshot. A failed fetch yields an
// empty list. Polling and live events both come through here; when two
// refreshes overlap only the later-started one is applied.
func (s *Store) Refresh(ctx context.Context) []entity.Conversation {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	viewer := s.viewer
	s.mu.Unlock()

	fetchCtx, cancel := s.opts.withTimeout(ctx)
	list, err := s.api.ListConversations(fetchCtx, viewer)
	cancel()
	if err != nil {
		logger.Warn("Failed to refresh conversations for viewer %d: %v", viewer.ID, err)
		list = nil
	}

	s.mu.Lock()
	if seq < s.applied {
		out := s.snapshotLocked()
		s.mu.Unlock()
		return out
	}
	s.applied = seq
	s.conversations = append([]entity.Conversation(nil), list...)
	if s.pending != nil && s.indexLocked(s.pending.Key()) >= 0 {
		s.pending = nil
	}
	out := s.snapshotLocked()
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.ConversationsChanged.Publish(out)
	}
	return out
}

// SelectOrCreatePending selects the conversation with sellerID or, when none
// exists yet, a pending one carrying the product context.
func (s *Store) SelectOrCreatePending(sellerID int64, sellerName string, product *entity.ProductContext) entity.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.viewer.KeyWith(sellerID)
	s.active = &key

	if i := s.indexLocked(key); i >= 0 {
		return s.conversations[i]
	}
	if s.pending != nil && s.pending.Key() == key {
		if product != nil {
			s.pending.ProductID = product.ID
			s.pending.ProductName = product.Name
		}
		return *s.pending
	}

	pending := entity.Conversation{
		BuyerID:    key.BuyerID,
		SellerID:   key.SellerID,
		SellerName: sellerName,
		BuyerName:  s.viewer.Name,
	}
	if product != nil {
		pending.ProductID = product.ID
		pending.ProductName = product.Name
	}
	s.pending = &pending
	return pending
}

// Select marks key active. It reports false when the key is unknown.
func (s *Store) Select(key entity.ConversationKey) (entity.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexLocked(key); i >= 0 {
		s.active = &key
		return s.conversations[i], true
	}
	if s.pending != nil && s.pending.Key() == key {
		s.active = &key
		return *s.pending, true
	}
	return entity.Conversation{}, false
}

func (s *Store) Active() (entity.ConversationKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return entity.ConversationKey{}, false
	}
	return *s.active, true
}

func (s *Store) ClearActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
}

// MarkRead zeroes the unread count of key on the backend, then refreshes.
// Failures are logged only.
func (s *Store) MarkRead(ctx context.Context, key entity.ConversationKey) {
	s.mu.Lock()
	role := s.viewer.Role
	if i := s.indexLocked(key); i >= 0 {
		s.conversations[i].UnreadCount = 0
	}
	s.mu.Unlock()

	markCtx, cancel := s.opts.withTimeout(ctx)
	err := s.api.MarkRead(markCtx, key, role)
	cancel()
	if err != nil {
		logger.LogConversationError(key.BuyerID, key.SellerID, "mark_read", err)
	}
	s.Refresh(ctx)
}

// Apply bumps the preview of the conversation msg belongs to until the next
// refresh replaces it. Unread grows only for inactive conversations and only
// for messages from the other party.
func (s *Store) Apply(msg *entity.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(msg.Key())
	if i < 0 {
		return
	}
	conv := &s.conversations[i]
	createdAt := msg.CreatedAt
	conv.LastMessage = msg.Text
	conv.LastMessageTime = &createdAt
	if msg.ProductID > 0 {
		conv.ProductID = msg.ProductID
		conv.ProductName = msg.ProductName
	}

	isActive := s.active != nil && *s.active == msg.Key()
	if !isActive && msg.Sender != s.viewer.Role {
		conv.UnreadCount++
	}
}

// Conversations returns the current list, with the pending conversation
// first when there is one.
func (s *Store) Conversations() []entity.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, c := range s.conversations {
		total += c.UnreadCount
	}
	return total
}

// Clear forgets everything, e.g. on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = nil
	s.pending = nil
	s.active = nil
	s.seq++
	s.applied = s.seq
}

func (s *Store) indexLocked(key entity.ConversationKey) int {
	for i := range s.conversations {
		if s.conversations[i].Key() == key {
			return i
		}
	}
	return -1
}

func (s *Store) snapshotLocked() []entity.Conversation {
	out := make([]entity.Conversation, 0, len(s.conversations)+1)
	if s.pending != nil {
		out = append(out, *s.pending)
	}
	return append(out, s.conversations...)
}
