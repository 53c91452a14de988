package chatsync

import (
	"context"
	"net/http"
	"sync"

	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/eventbus"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

// Widget wires the live connection, the conversation store and the thread
// together. While closed it polls the conversation list; while open it
// refreshes on live events instead.
type Widget struct {
	store  *Store
	thread *Thread
	live   LiveConnection
	poller *Poller
	bus    *eventbus.Bus

	mu       sync.Mutex
	viewer   entity.Viewer
	open     bool
	stopped  bool
	loggedIn bool
	base     context.Context
	cancel   context.CancelFunc
	unsubs   []func()
	wg       sync.WaitGroup
}

// NewWidget builds a closed widget. live may be nil, in which case every send
// takes the fallback request path.
func NewWidget(api ChatAPI, live LiveConnection, bus *eventbus.Bus, viewer entity.Viewer, opts Options) *Widget {
	if bus == nil {
		bus = eventbus.New()
	}
	w := &Widget{
		live:     live,
		bus:      bus,
		viewer:   viewer,
		loggedIn: viewer.ID > 0,
		base:     context.Background(),
	}
	w.store = NewStore(api, bus, viewer, opts)
	w.thread = NewThread(api, live, bus, viewer, opts)
	w.poller = NewPoller(opts.PollInterval, func(ctx context.Context) {
		w.store.Refresh(ctx)
	})
	return w
}

// Start subscribes to the live connection and the bus and begins polling.
// Everything it acquires is released by Shutdown.
func (w *Widget) Start(ctx context.Context) {
	w.mu.Lock()
	if w.cancel != nil || w.stopped {
		w.mu.Unlock()
		return
	}
	w.base, w.cancel = context.WithCancel(ctx)
	if w.live != nil {
		w.unsubs = append(w.unsubs,
			w.live.OnMessage(w.handleMessage),
			w.live.OnStateChange(w.handleConnection),
			w.live.OnSendRejected(w.thread.HandleRejection),
		)
	}
	w.unsubs = append(w.unsubs,
		w.bus.OpenChat.Subscribe(w.handleOpenChat),
		w.bus.Session.Subscribe(w.handleSession),
	)
	base, loggedIn := w.base, w.loggedIn
	w.mu.Unlock()

	if loggedIn {
		w.poller.Start(base)
	}
}

// Shutdown closes the widget for good: handlers are removed, polling and the
// live connection are stopped and background refreshes are awaited.
func (w *Widget) Shutdown() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.open = false
	unsubs := w.unsubs
	w.unsubs = nil
	cancel := w.cancel
	w.mu.Unlock()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
	w.poller.Stop()
	if w.live != nil {
		w.live.Disconnect()
	}
	w.thread.Reset()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

// Open connects the live connection and fetches the conversation list.
func (w *Widget) Open(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return errors.New("WIDGET_STOPPED", "Chat is shut down", http.StatusServiceUnavailable, nil)
	}
	if !w.loggedIn {
		w.mu.Unlock()
		return errors.Unauthorized("Login required to chat", nil)
	}
	if w.open {
		w.mu.Unlock()
		return nil
	}
	w.open = true
	base := w.base
	w.mu.Unlock()

	w.poller.Stop()
	if w.live != nil {
		w.live.Connect(base)
	}
	w.store.Refresh(ctx)
	return nil
}

// Close tears down the live connection, drops the thread and resumes polling.
func (w *Widget) Close() {
	w.close(true)
}

func (w *Widget) close(resumePolling bool) {
	w.mu.Lock()
	if !w.open {
		w.mu.Unlock()
		return
	}
	w.open = false
	base := w.base
	resumePolling = resumePolling && !w.stopped && w.loggedIn
	w.mu.Unlock()

	if w.live != nil {
		w.live.Disconnect()
	}
	w.thread.Reset()
	w.store.ClearActive()
	if resumePolling {
		w.poller.Start(base)
	}
}

func (w *Widget) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

// Select opens the thread of a listed conversation and marks it read.
func (w *Widget) Select(ctx context.Context, key entity.ConversationKey) error {
	if err := w.Open(ctx); err != nil {
		return err
	}
	conv, ok := w.store.Select(key)
	if !ok {
		return errors.NotFound("Conversation", nil)
	}
	if conv.IsPending() {
		w.thread.Select(ctx, key, productOf(&conv))
		return nil
	}
	w.thread.Resume(ctx, key, productOf(&conv))
	w.store.MarkRead(ctx, key)
	return nil
}

// StartWithSeller opens the buyer's conversation with a seller from a
// product page, creating a pending conversation when none exists.
func (w *Widget) StartWithSeller(ctx context.Context, sellerID int64, sellerName string, product *entity.ProductContext) error {
	if err := w.Open(ctx); err != nil {
		return err
	}
	if w.Viewer().Role != entity.RoleBuyer {
		return errors.Forbidden("Only buyers can start a conversation", nil)
	}

	conv := w.store.SelectOrCreatePending(sellerID, sellerName, product)
	if product == nil && !conv.IsPending() {
		w.thread.Resume(ctx, conv.Key(), productOf(&conv))
	} else {
		if product == nil {
			product = productOf(&conv)
		}
		w.thread.Select(ctx, conv.Key(), product)
	}
	if !conv.IsPending() {
		w.store.MarkRead(ctx, conv.Key())
	}
	return nil
}

// Send sends text in the selected conversation. Without a live connection no
// echo will arrive, so the list is refreshed directly.
func (w *Widget) Send(ctx context.Context, text string) error {
	err := w.thread.Send(ctx, text)
	if w.live == nil || !w.live.Connected() {
		w.store.Refresh(ctx)
	}
	return err
}

func (w *Widget) Delete(ctx context.Context, id int64) error {
	if err := w.thread.Delete(ctx, id); err != nil {
		return err
	}
	w.store.Refresh(ctx)
	return nil
}

func (w *Widget) LoadOlder(ctx context.Context, pos ScrollPosition) (int, error) {
	return w.thread.LoadOlder(ctx, pos)
}

func (w *Widget) Thread() *Thread {
	return w.thread
}

func (w *Widget) Store() *Store {
	return w.store
}

func (w *Widget) Bus() *eventbus.Bus {
	return w.bus
}

func (w *Widget) Conversations() []entity.Conversation {
	return w.store.Conversations()
}

func (w *Widget) Viewer() entity.Viewer {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewer
}

func (w *Widget) handleMessage(msg *entity.Message) {
	w.bus.MessageReceived.Publish(msg)

	viewer := w.Viewer()
	if !viewer.Participates(msg.Key()) {
		return
	}
	w.store.Apply(msg)
	active := w.thread.Receive(msg)

	w.background(func(ctx context.Context) {
		if active && msg.Sender != viewer.Role {
			w.store.MarkRead(ctx, msg.Key())
			return
		}
		w.store.Refresh(ctx)
	})
}

func (w *Widget) handleConnection(connected bool) {
	w.bus.ConnectionChanged.Publish(connected)
	if connected {
		w.background(func(ctx context.Context) {
			w.store.Refresh(ctx)
		})
	}
}

func (w *Widget) handleOpenChat(req eventbus.OpenChatRequest) {
	w.background(func(ctx context.Context) {
		if err := w.StartWithSeller(ctx, req.SellerID, req.SellerName, req.Product); err != nil {
			logger.Warn("Failed to open chat with seller %d: %v", req.SellerID, err)
		}
	})
}

func (w *Widget) handleSession(change eventbus.SessionChange) {
	if !change.LoggedIn {
		w.mu.Lock()
		w.loggedIn = false
		w.mu.Unlock()

		w.close(false)
		w.poller.Stop()
		w.store.Clear()
		return
	}

	w.mu.Lock()
	w.viewer = change.Viewer
	w.loggedIn = change.Viewer.ID > 0
	base, open, running := w.base, w.open, w.cancel != nil && !w.stopped
	w.mu.Unlock()

	w.store.SetViewer(change.Viewer)
	w.thread.SetViewer(change.Viewer)
	w.store.Clear()
	if running && !open && change.Viewer.ID > 0 {
		w.poller.Start(base)
	}
}

// background runs fn on its own goroutine, tracked until Shutdown.
func (w *Widget) background(fn func(ctx context.Context)) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.wg.Add(1)
	base := w.base
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		fn(base)
	}()
}

func productOf(conv *entity.Conversation) *entity.ProductContext {
	if conv.ProductID <= 0 {
		return nil
	}
	return &entity.ProductContext{ID: conv.ProductID, Name: conv.ProductName}
}
