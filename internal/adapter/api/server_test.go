package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/adapter/repository"
	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/ratelimit"
	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/internal/usecase"
	"marketchat/pkg/response"
)

func newTestServer(t *testing.T) (*echo.Echo, *ws.Hub) {
	t.Helper()
	hub := ws.NewHub()
	limiter := ratelimit.NewRateLimiter(100)
	chatUseCase := usecase.NewChatUseCase(repository.NewMemoryChatRepository(), hub, limiter, ws.DefaultTopic)
	hub.SetSender(chatUseCase)
	t.Cleanup(hub.Shutdown)
	return NewServer(chatUseCase, hub, limiter, "memory", ws.DefaultTopic), hub
}

func do(t *testing.T, e *echo.Echo, method, target string, body interface{}) (*httptest.ResponseRecorder, response.Envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env response.Envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func sendPayload(sender entity.Role, text string) entity.MessagePayload {
	return entity.MessagePayload{
		BuyerID:  7,
		SellerID: 3,
		Kind:     entity.KindText,
		Text:     text,
		Sender:   sender,
		TempID:   "tmp-" + text,
	}
}

func TestHealthCheck(t *testing.T) {
	e, _ := newTestServer(t)

	rec, _ := do(t, e, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"store":"memory"`)
}

func TestChatRoutes(t *testing.T) {
	e, _ := newTestServer(t)

	rec, env := do(t, e, http.MethodGet, "/v1/conversations?viewer_id=7&role=buyer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(env.Data))

	rec, env = do(t, e, http.MethodPost, "/v1/messages", sendPayload(entity.RoleSeller, "Halo"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var sent entity.Message
	require.NoError(t, json.Unmarshal(env.Data, &sent))
	assert.Positive(t, sent.ID)
	assert.Equal(t, "tmp-Halo", sent.TempID)

	_, env = do(t, e, http.MethodGet, "/v1/conversations?viewer_id=7&role=buyer", nil)
	var conversations []entity.Conversation
	require.NoError(t, json.Unmarshal(env.Data, &conversations))
	require.Len(t, conversations, 1)
	assert.Equal(t, 1, conversations[0].UnreadCount)

	rec, _ = do(t, e, http.MethodPut, "/v1/conversations/read", map[string]interface{}{"buyer_id": 7, "seller_id": 3, "role": "buyer"})
	require.Equal(t, http.StatusOK, rec.Code)

	_, env = do(t, e, http.MethodGet, "/v1/messages?buyer_id=7&seller_id=3&role=buyer&limit=10", nil)
	var messages []entity.Message
	require.NoError(t, json.Unmarshal(env.Data, &messages))
	require.Len(t, messages, 1)
	assert.True(t, messages[0].Read)

	rec, env = do(t, e, http.MethodDelete, "/v1/messages/"+strconv.FormatInt(sent.ID, 10)+"?role=buyer", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	rec, _ = do(t, e, http.MethodDelete, "/v1/messages/"+strconv.FormatInt(sent.ID, 10)+"?role=seller", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = do(t, e, http.MethodDelete, "/v1/messages/"+strconv.FormatInt(sent.ID, 10)+"?role=seller", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
}

func TestChatRoutesRejectBadInput(t *testing.T) {
	e, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
		body   interface{}
		code   string
	}{
		{"viewer id", http.MethodGet, "/v1/conversations?viewer_id=x&role=buyer", nil, "BAD_REQUEST"},
		{"role", http.MethodGet, "/v1/conversations?viewer_id=7&role=admin", nil, "BAD_REQUEST"},
		{"history key", http.MethodGet, "/v1/messages?buyer_id=7&role=buyer", nil, "BAD_REQUEST"},
		{"mark read body", http.MethodPut, "/v1/conversations/read", map[string]interface{}{"buyer_id": 7}, "VALIDATION_ERROR"},
		{"empty text", http.MethodPost, "/v1/messages", sendPayload(entity.RoleBuyer, ""), "VALIDATION_ERROR"},
		{"message id", http.MethodDelete, "/v1/messages/abc?role=buyer", nil, "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, e, tt.method, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestRESTSendIsBroadcastLive(t *testing.T) {
	e, hub := newTestServer(t)
	srv := httptest.NewServer(e)
	defer srv.Close()

	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "subscribe", "data": map[string]string{"topic": ws.DefaultTopic}}))
	require.Eventually(t, func() bool { return hub.Subscribers(ws.DefaultTopic) == 1 }, 2*time.Second, 5*time.Millisecond)

	raw, err := json.Marshal(sendPayload(entity.RoleBuyer, "Ping"))
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/v1/messages", echo.MIMEApplicationJSON, bytes.NewReader(raw))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var frame ws.WSMessage
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type != ws.MessageTypeMessage {
			continue
		}
		var msg entity.Message
		require.NoError(t, json.Unmarshal(frame.Data, &msg))
		assert.Equal(t, "Ping", msg.Text)
		assert.Equal(t, "tmp-Ping", msg.TempID)
		return
	}
}
