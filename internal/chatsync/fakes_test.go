package chatsync

import (
	"context"
	"sync"
	"time"

	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/websocket"
	"marketchat/pkg/errors"
)

type fakeAPI struct {
	mu sync.Mutex

	conversations []entity.Conversation
	listErr       error
	listCalls     int

	history      func(ctx context.Context, q HistoryQuery) ([]entity.Message, error)
	historyCalls []HistoryQuery

	send func(ctx context.Context, p entity.MessagePayload) (*entity.Message, error)
	sent []entity.MessagePayload

	deleteErr error
	deleted   []int64

	markReadErr error
	markedRead  []entity.ConversationKey
}

func (f *fakeAPI) ListConversations(ctx context.Context, viewer entity.Viewer) ([]entity.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]entity.Conversation(nil), f.conversations...), nil
}

func (f *fakeAPI) FetchHistory(ctx context.Context, q HistoryQuery) ([]entity.Message, error) {
	f.mu.Lock()
	f.historyCalls = append(f.historyCalls, q)
	history := f.history
	f.mu.Unlock()
	if history == nil {
		return nil, nil
	}
	return history(ctx, q)
}

func (f *fakeAPI) MarkRead(ctx context.Context, key entity.ConversationKey, role entity.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedRead = append(f.markedRead, key)
	return f.markReadErr
}

func (f *fakeAPI) SendMessage(ctx context.Context, p entity.MessagePayload) (*entity.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, p)
	send := f.send
	id := int64(1000 + len(f.sent))
	f.mu.Unlock()
	if send != nil {
		return send(ctx, p)
	}
	msg := p.ToMessage(time.Now())
	msg.ID = id
	msg.TempID = ""
	return msg, nil
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, id int64, role entity.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAPI) historyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.historyCalls)
}

func (f *fakeAPI) sentPayloads() []entity.MessagePayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entity.MessagePayload(nil), f.sent...)
}

func (f *fakeAPI) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeAPI) readKeys() []entity.ConversationKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entity.ConversationKey(nil), f.markedRead...)
}

type fakeLive struct {
	mu          sync.Mutex
	connected   bool
	publishErr  error
	published   []entity.MessagePayload
	connects    int
	disconnects int
	nextID      int
	onMessage   map[int]func(*entity.Message)
	onState     map[int]func(bool)
	onReject    map[int]func(websocket.SendRejection)
}

func newFakeLive() *fakeLive {
	return &fakeLive{
		onMessage: make(map[int]func(*entity.Message)),
		onState:   make(map[int]func(bool)),
		onReject:  make(map[int]func(websocket.SendRejection)),
	}
}

func (f *fakeLive) Connect(ctx context.Context) {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
	f.setConnected(true)
}

func (f *fakeLive) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	f.setConnected(false)
}

func (f *fakeLive) setConnected(connected bool) {
	f.mu.Lock()
	changed := f.connected != connected
	f.connected = connected
	handlers := make([]func(bool), 0, len(f.onState))
	for _, fn := range f.onState {
		handlers = append(handlers, fn)
	}
	f.mu.Unlock()
	if !changed {
		return
	}
	for _, fn := range handlers {
		fn(connected)
	}
}

func (f *fakeLive) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeLive) Publish(ctx context.Context, payload entity.MessagePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, payload)
	return nil
}

func (f *fakeLive) OnMessage(fn func(*entity.Message)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.onMessage[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.onMessage, id)
	}
}

func (f *fakeLive) OnStateChange(fn func(bool)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.onState[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.onState, id)
	}
}

func (f *fakeLive) OnSendRejected(fn func(websocket.SendRejection)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.onReject[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.onReject, id)
	}
}

func (f *fakeLive) emit(msg *entity.Message) {
	f.mu.Lock()
	handlers := make([]func(*entity.Message), 0, len(f.onMessage))
	for _, fn := range f.onMessage {
		handlers = append(handlers, fn)
	}
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(msg)
	}
}

func (f *fakeLive) reject(rejection websocket.SendRejection) {
	f.mu.Lock()
	handlers := make([]func(websocket.SendRejection), 0, len(f.onReject))
	for _, fn := range f.onReject {
		handlers = append(handlers, fn)
	}
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(rejection)
	}
}

func (f *fakeLive) publishedPayloads() []entity.MessagePayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entity.MessagePayload(nil), f.published...)
}

func (f *fakeLive) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.onMessage) + len(f.onState) + len(f.onReject)
}

var (
	testBuyer  = entity.Viewer{ID: 7, Role: entity.RoleBuyer, Name: "Budi"}
	testSeller = entity.Viewer{ID: 3, Role: entity.RoleSeller, Name: "Toko Sinar"}
	testKey    = entity.ConversationKey{BuyerID: 7, SellerID: 3}
	baseTime   = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.FetchTimeout = time.Second
	return opts
}

// page returns ascending messages with ids first..first+n-1, one minute apart.
func page(key entity.ConversationKey, first int64, n int) []entity.Message {
	out := make([]entity.Message, 0, n)
	for i := 0; i < n; i++ {
		id := first + int64(i)
		sender := entity.RoleBuyer
		if id%2 == 0 {
			sender = entity.RoleSeller
		}
		out = append(out, entity.Message{
			ID:        id,
			BuyerID:   key.BuyerID,
			SellerID:  key.SellerID,
			Kind:      entity.KindText,
			Text:      "history",
			Sender:    sender,
			CreatedAt: baseTime.Add(time.Duration(id) * time.Minute),
		})
	}
	return out
}

// fixedClock returns a clock that advances by step on every call.
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := current
		current = current.Add(step)
		return t
	}
}

// slowListAPI blocks the first ListConversations call until release closes.
type slowListAPI struct {
	*fakeAPI
	release <-chan struct{}

	mu      sync.Mutex
	blocked bool
	direct  bool
}

func (s *slowListAPI) ListConversations(ctx context.Context, viewer entity.Viewer) ([]entity.Conversation, error) {
	s.mu.Lock()
	if s.direct {
		s.mu.Unlock()
		return s.fakeAPI.ListConversations(ctx, viewer)
	}
	s.blocked = true
	s.mu.Unlock()

	<-s.release
	return []entity.Conversation{{BuyerID: 7, SellerID: 99}}, nil
}

func (s *slowListAPI) waiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked
}

func (s *slowListAPI) passThrough() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.direct = true
}

func wsRejection(tempID string) websocket.SendRejection {
	return websocket.SendRejection{TempID: tempID, Err: errors.TooManyRequests("slow down")}
}
