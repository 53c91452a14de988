package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/domain/entity"
	"marketchat/pkg/errors"
)

type echoSender struct {
	hub    *Hub
	mu     sync.Mutex
	nextID int64
}

func (s *echoSender) SendMessage(ctx context.Context, payload entity.MessagePayload) (*entity.Message, error) {
	if payload.Text == "reject" {
		return nil, errors.TooManyRequests("slow down")
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	message := payload.ToMessage(time.Now())
	message.ID = id
	s.hub.BroadcastMessage(DefaultTopic, message)
	return message, nil
}

func newBroker(t *testing.T) (*Hub, *httptest.Server, string) {
	t.Helper()
	hub := NewHub()
	hub.SetSender(&echoSender{hub: hub})

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.ServeClient(conn)
	}))
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return hub, srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func samplePayload(text string) entity.MessagePayload {
	return entity.MessagePayload{
		BuyerID:  1,
		SellerID: 2,
		Kind:     entity.KindText,
		Text:     text,
		Sender:   entity.RoleBuyer,
		TempID:   "tmp-" + text,
	}
}

func TestConnectionPublishRoundTrip(t *testing.T) {
	hub, _, url := newBroker(t)

	conn := NewConnection(url, DefaultTopic)
	received := make(chan *entity.Message, 4)
	conn.OnMessage(func(m *entity.Message) { received <- m })

	conn.Connect(context.Background())
	defer conn.Disconnect()

	require.Eventually(t, func() bool {
		return conn.Connected() && hub.Subscribers(DefaultTopic) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Publish(context.Background(), samplePayload("Hello")))

	select {
	case m := <-received:
		assert.Equal(t, int64(1), m.ID)
		assert.Equal(t, "tmp-Hello", m.TempID)
		assert.Equal(t, "Hello", m.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no echo received")
	}
}

func TestConnectionReportsRejectedSend(t *testing.T) {
	hub, _, url := newBroker(t)

	conn := NewConnection(url, DefaultTopic)
	rejected := make(chan SendRejection, 1)
	conn.OnSendRejected(func(r SendRejection) { rejected <- r })
	conn.Connect(context.Background())
	defer conn.Disconnect()

	require.Eventually(t, func() bool {
		return conn.Connected() && hub.Subscribers(DefaultTopic) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Publish(context.Background(), samplePayload("reject")))

	select {
	case r := <-rejected:
		assert.Equal(t, "tmp-reject", r.TempID)
		assert.True(t, errors.Is(r.Err, "TOO_MANY_REQUESTS"))
	case <-time.After(2 * time.Second):
		t.Fatal("no rejection received")
	}
}

func TestConnectionDisconnectFallsBackToNotConnected(t *testing.T) {
	_, _, url := newBroker(t)

	conn := NewConnection(url, DefaultTopic)
	var transitions []bool
	var mu sync.Mutex
	conn.OnStateChange(func(up bool) {
		mu.Lock()
		transitions = append(transitions, up)
		mu.Unlock()
	})

	conn.Connect(context.Background())
	require.Eventually(t, conn.Connected, 2*time.Second, 10*time.Millisecond)

	conn.Disconnect()
	assert.False(t, conn.Connected())
	assert.ErrorIs(t, conn.Publish(context.Background(), samplePayload("late")), errors.ErrNotConnected)

	mu.Lock()
	assert.Equal(t, []bool{true, false}, transitions)
	mu.Unlock()

	// Disconnect twice is harmless.
	conn.Disconnect()
}

func TestConnectionRedialsAfterBrokerDrop(t *testing.T) {
	hub, _, url := newBroker(t)

	conn := NewConnection(url, DefaultTopic, WithReconnectMaxElapsed(5*time.Second))
	var ups atomic.Int32
	conn.OnStateChange(func(up bool) {
		if up {
			ups.Add(1)
		}
	})
	conn.Connect(context.Background())
	defer conn.Disconnect()

	require.Eventually(t, func() bool { return hub.Subscribers(DefaultTopic) == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Shutdown()

	require.Eventually(t, func() bool {
		return ups.Load() >= 2 && conn.Connected() && hub.Subscribers(DefaultTopic) == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestConnectionGivesUpWhenBrokerUnreachable(t *testing.T) {
	_, srv, url := newBroker(t)
	srv.Close()

	conn := NewConnection(url, DefaultTopic, WithReconnectMaxElapsed(300*time.Millisecond))
	conn.Connect(context.Background())

	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.cancel == nil
	}, 3*time.Second, 20*time.Millisecond)
	assert.False(t, conn.Connected())
	assert.ErrorIs(t, conn.Publish(context.Background(), samplePayload("x")), errors.ErrNotConnected)
}

// silentBroker accepts sockets but never reads from them, so pings are never
// answered.
func silentBroker(t *testing.T) (*atomic.Int32, string) {
	t.Helper()
	var dials atomic.Int32
	release := make(chan struct{})

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		dials.Add(1)
		<-release
		conn.Close()
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	return &dials, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnectionDropsSilentBroker(t *testing.T) {
	dials, url := silentBroker(t)

	conn := NewConnection(url, DefaultTopic,
		WithPingInterval(20*time.Millisecond),
		WithPongWait(100*time.Millisecond),
		WithReconnectMaxElapsed(5*time.Second),
	)
	var downs atomic.Int32
	conn.OnStateChange(func(up bool) {
		if !up {
			downs.Add(1)
		}
	})
	conn.Connect(context.Background())
	defer conn.Disconnect()

	require.Eventually(t, conn.Connected, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return downs.Load() >= 1 && dials.Load() >= 2
	}, 3*time.Second, 10*time.Millisecond)
}
