package chatsync

import (
	"context"
	"strings"
	"sync"
	"time"

	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/eventbus"
	"marketchat/internal/infrastructure/websocket"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

type ThreadState int

const (
	StateIdle ThreadState = iota
	StateLoadingInitial
	StateReady
)

func (s ThreadState) String() string {
	switch s {
	case StateLoadingInitial:
		return "loading_initial"
	case StateReady:
		return "ready"
	default:
		return "idle"
	}
}

// Thread holds the ordered, deduplicated message list of the selected
// conversation. Every selection starts a new generation; responses that
// complete for an older generation are discarded.
type Thread struct {
	api       ChatAPI
	live      LiveConnection
	bus       *eventbus.Bus
	opts      Options
	matcher   Matcher
	now       func() time.Time
	newTempID func() string

	mu            sync.Mutex
	viewer        entity.Viewer
	state         ThreadState
	key           entity.ConversationKey
	product       *entity.ProductContext
	generation    uint64
	messages      []entity.Message
	hasMore       bool
	loadingOlder  bool
	lastAnnounced int64
	scroll        ScrollDirective
}

func NewThread(api ChatAPI, live LiveConnection, bus *eventbus.Bus, viewer entity.Viewer, opts Options) *Thread {
	return &Thread{
		api:       api,
		live:      live,
		bus:       bus,
		opts:      opts,
		matcher:   Matcher{Window: opts.MatchWindow},
		now:       time.Now,
		newTempID: NewTempID,
		viewer:    viewer,
	}
}

func (t *Thread) SetViewer(viewer entity.Viewer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.viewer = viewer
}

// Select discards the current thread and loads the newest page of key.
// Messages sent or received while the page is in flight are kept and merged
// with it. A failed load leaves the thread Ready and empty.
func (t *Thread) Select(ctx context.Context, key entity.ConversationKey, product *entity.ProductContext) {
	t.load(ctx, key, product, 0)
}

// Resume is Select for a conversation whose product context comes from its
// own history: product counts as already announced, so only a later switch
// to another product sends a card.
func (t *Thread) Resume(ctx context.Context, key entity.ConversationKey, product *entity.ProductContext) {
	var announced int64
	if product != nil {
		announced = product.ID
	}
	t.load(ctx, key, product, announced)
}

func (t *Thread) load(ctx context.Context, key entity.ConversationKey, product *entity.ProductContext, announced int64) {
	t.mu.Lock()
	t.generation++
	gen := t.generation
	t.state = StateLoadingInitial
	t.key = key
	t.product = product
	t.messages = nil
	t.hasMore = false
	t.loadingOlder = false
	t.lastAnnounced = announced
	t.scroll = ScrollDirective{}
	role := t.viewer.Role
	t.mu.Unlock()

	fetchCtx, cancel := t.opts.withTimeout(ctx)
	page, err := t.api.FetchHistory(fetchCtx, HistoryQuery{Key: key, Role: role, Limit: t.opts.PageSize})
	cancel()

	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.generation {
		return
	}
	if err != nil {
		logger.LogConversationError(key.BuyerID, key.SellerID, "load_history", err)
		page = nil
	}

	t.messages, _ = prependPage(t.messages, page)
	t.hasMore = err == nil && len(page) >= t.opts.PageSize
	t.state = StateReady
	t.scroll = ScrollDirective{Kind: ScrollToBottom}
}

// Reset returns the thread to Idle, e.g. when the widget closes.
func (t *Thread) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.generation++
	t.state = StateIdle
	t.key = entity.ConversationKey{}
	t.product = nil
	t.messages = nil
	t.hasMore = false
	t.loadingOlder = false
	t.lastAnnounced = 0
	t.scroll = ScrollDirective{}
}

// SetProduct changes the product context of the current conversation without
// reloading it.
func (t *Thread) SetProduct(product *entity.ProductContext) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.product = product
}

// LoadOlder prepends the page older than the oldest loaded message. It is a
// no-op unless the thread is Ready, more history exists and no other load is
// in flight. pos is the viewport before the fetch; on success the scroll
// directive restores it. It returns the number of messages added.
func (t *Thread) LoadOlder(ctx context.Context, pos ScrollPosition) (int, error) {
	t.mu.Lock()
	if t.state != StateReady || !t.hasMore || t.loadingOlder {
		t.mu.Unlock()
		return 0, nil
	}
	before := oldestServerID(t.messages)
	if before == 0 {
		t.mu.Unlock()
		return 0, nil
	}
	t.loadingOlder = true
	gen := t.generation
	key := t.key
	role := t.viewer.Role
	t.mu.Unlock()

	fetchCtx, cancel := t.opts.withTimeout(ctx)
	page, err := t.api.FetchHistory(fetchCtx, HistoryQuery{Key: key, Role: role, BeforeID: before, Limit: t.opts.PageSize})
	cancel()

	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.generation {
		return 0, nil
	}
	t.loadingOlder = false
	if err != nil {
		logger.LogConversationError(key.BuyerID, key.SellerID, "load_older", err)
		return 0, err
	}

	var added int
	t.messages, added = prependPage(t.messages, page)
	t.hasMore = len(page) >= t.opts.PageSize
	if added > 0 {
		t.scroll = ScrollDirective{Kind: ScrollPreserve, Before: pos}
	}
	return added, nil
}

// Send inserts the optimistic message, preceded by a product card when the
// announcement rule holds, and delivers both in order over the live
// connection or the fallback request. It returns the first delivery error.
func (t *Thread) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.BadRequest("Message text is required", nil)
	}

	t.mu.Lock()
	if t.state == StateIdle {
		t.mu.Unlock()
		return errors.BadRequest("No conversation selected", nil)
	}
	gen := t.generation
	viewer := t.viewer
	key := t.key
	product := t.product

	var payloads []entity.MessagePayload
	if NeedsProductAnnouncement(t.messages, viewer.Role, product, t.lastAnnounced) {
		payloads = append(payloads, productCard(viewer, key, product, t.newTempID()))
		t.lastAnnounced = product.ID
	}
	payloads = append(payloads, textPayload(viewer, key, product, text, t.newTempID()))

	now := t.now()
	for i := range payloads {
		t.messages = insertFromTail(t.messages, *payloads[i].ToMessage(now))
	}
	t.scroll = ScrollDirective{Kind: ScrollToBottom}
	t.mu.Unlock()

	var firstErr error
	for _, payload := range payloads {
		if err := t.deliver(ctx, gen, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Thread) deliver(ctx context.Context, gen uint64, payload entity.MessagePayload) error {
	if t.live != nil && t.live.Connected() {
		err := t.live.Publish(ctx, payload)
		if err == nil {
			return nil
		}
		logger.Warn("Live send failed, falling back to request: temp_id=%s, error=%v", payload.TempID, err)
	}

	sendCtx, cancel := t.opts.withTimeout(ctx)
	msg, err := t.api.SendMessage(sendCtx, payload)
	cancel()

	if err != nil {
		logger.LogConversationError(payload.BuyerID, payload.SellerID, "send", err)
		t.rollback(gen, payload.TempID, err)
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.generation {
		return nil
	}
	confirmed := *msg
	confirmed.TempID = payload.TempID
	t.reconcileLocked(confirmed)
	return nil
}

// Receive applies a live message. It reports whether the message belongs to
// the selected conversation.
func (t *Thread) Receive(msg *entity.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateIdle || msg.Key() != t.key {
		return false
	}
	kind := t.reconcileLocked(*msg)
	t.scroll = ScrollDirective{Kind: ScrollToBottom}
	logger.Debug("Live message %d applied to %s (match=%s)", msg.ID, t.key, kind)
	return true
}

// HandleRejection rolls back a live send the broker refused.
func (t *Thread) HandleRejection(rejection websocket.SendRejection) {
	t.mu.Lock()
	gen := t.generation
	t.mu.Unlock()
	t.rollback(gen, rejection.TempID, rejection.Err)
}

// Delete removes a message after the backend confirms the deletion.
func (t *Thread) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.BadRequest("Unsent messages cannot be deleted", nil)
	}

	t.mu.Lock()
	if t.state == StateIdle {
		t.mu.Unlock()
		return errors.BadRequest("No conversation selected", nil)
	}
	gen := t.generation
	key := t.key
	role := t.viewer.Role
	t.mu.Unlock()

	deleteCtx, cancel := t.opts.withTimeout(ctx)
	err := t.api.DeleteMessage(deleteCtx, id, role)
	cancel()

	if err != nil {
		logger.LogConversationError(key.BuyerID, key.SellerID, "delete", err)
		t.notify(eventbus.Notification{Level: eventbus.LevelError, Text: "Message could not be deleted", Err: err})
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen == t.generation {
		if i := indexByID(t.messages, id); i >= 0 {
			t.messages = removeAt(t.messages, i)
		}
	}
	return nil
}

func (t *Thread) reconcileLocked(msg entity.Message) MatchKind {
	idx, kind := t.matcher.Find(t.messages, &msg)
	if kind == MatchNone {
		t.messages = insertFromTail(t.messages, msg)
	} else {
		t.messages = replaceAt(t.messages, idx, msg)
	}
	return kind
}

// rollback removes an optimistic message whose delivery failed. A failed
// product card is forgotten so the next send announces the product again.
func (t *Thread) rollback(gen uint64, tempID string, cause error) {
	t.mu.Lock()
	removed := false
	if gen == t.generation {
		if i := indexByTempID(t.messages, tempID); i >= 0 {
			msg := t.messages[i]
			t.messages = removeAt(t.messages, i)
			if msg.Kind == entity.KindProduct && t.lastAnnounced == msg.ProductID {
				t.lastAnnounced = 0
			}
			removed = true
		}
	}
	t.mu.Unlock()

	if removed {
		t.notify(eventbus.Notification{Level: eventbus.LevelError, Text: "Message could not be sent", Err: cause})
	}
}

func (t *Thread) notify(n eventbus.Notification) {
	if t.bus != nil {
		t.bus.Notifications.Publish(n)
	}
}

func (t *Thread) State() ThreadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Thread) Key() entity.ConversationKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.key
}

// Messages returns a copy of the thread in display order.
func (t *Thread) Messages() []entity.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]entity.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Thread) HasMore() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasMore
}

func (t *Thread) LoadingOlder() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadingOlder
}

// TakeScroll returns the pending scroll directive and clears it.
func (t *Thread) TakeScroll() ScrollDirective {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.scroll
	t.scroll = ScrollDirective{}
	return d
}
