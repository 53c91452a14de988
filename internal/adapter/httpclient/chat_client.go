package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"marketchat/internal/chatsync"
	"marketchat/internal/domain/entity"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
	"marketchat/pkg/response"
)

// ChatClient is the REST half of the chat backend.
type ChatClient struct {
	baseURL    string
	httpClient *http.Client
	validate   *validator.Validate
}

var _ chatsync.ChatAPI = (*ChatClient)(nil)

// NewChatClient talks to the backend rooted at baseURL. A nil httpClient uses
// one with a 30 second timeout; per-call deadlines come from the context.
func NewChatClient(baseURL string, httpClient *http.Client) *ChatClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ChatClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		validate:   validator.New(),
	}
}

func (c *ChatClient) ListConversations(ctx context.Context, viewer entity.Viewer) ([]entity.Conversation, error) {
	query := url.Values{}
	query.Set("viewer_id", strconv.FormatInt(viewer.ID, 10))
	query.Set("role", string(viewer.Role))

	var conversations []entity.Conversation
	if err := c.do(ctx, "list_conversations", http.MethodGet, "/v1/conversations?"+query.Encode(), nil, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

func (c *ChatClient) FetchHistory(ctx context.Context, q chatsync.HistoryQuery) ([]entity.Message, error) {
	query := url.Values{}
	query.Set("buyer_id", strconv.FormatInt(q.Key.BuyerID, 10))
	query.Set("seller_id", strconv.FormatInt(q.Key.SellerID, 10))
	query.Set("role", string(q.Role))
	if q.BeforeID > 0 {
		query.Set("before_id", strconv.FormatInt(q.BeforeID, 10))
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}

	var messages []entity.Message
	if err := c.do(ctx, "fetch_history", http.MethodGet, "/v1/messages?"+query.Encode(), nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *ChatClient) MarkRead(ctx context.Context, key entity.ConversationKey, role entity.Role) error {
	body := map[string]interface{}{
		"buyer_id":  key.BuyerID,
		"seller_id": key.SellerID,
		"role":      role,
	}
	return c.do(ctx, "mark_read", http.MethodPut, "/v1/conversations/read", body, nil)
}

// SendMessage is the fallback path used when the live connection is down.
// Payloads are validated before they leave the client.
func (c *ChatClient) SendMessage(ctx context.Context, payload entity.MessagePayload) (*entity.Message, error) {
	if err := c.validate.Struct(payload); err != nil {
		return nil, errors.BadRequest("Invalid message payload", err)
	}

	var message entity.Message
	if err := c.do(ctx, "send_message", http.MethodPost, "/v1/messages", payload, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

func (c *ChatClient) DeleteMessage(ctx context.Context, id int64, role entity.Role) error {
	path := fmt.Sprintf("/v1/messages/%d?role=%s", id, url.QueryEscape(string(role)))
	return c.do(ctx, "delete_message", http.MethodDelete, path, nil, nil)
}

// do sends one request and decodes the envelope's data into out. Error
// envelopes come back as *errors.AppError carrying the server's code.
func (c *ChatClient) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return errors.Internal("Failed to encode request", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Internal("Failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return errors.Timeout(op, err)
		}
		return errors.New("UNAVAILABLE", "Chat backend is unreachable", http.StatusServiceUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.New("UNAVAILABLE", "Failed to read response", http.StatusBadGateway, err)
	}

	var envelope response.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		logger.Debug("%s: non-JSON response (%d): %s", op, resp.StatusCode, string(raw))
		return errors.New("BAD_RESPONSE", "Unexpected response from chat backend", http.StatusBadGateway, err)
	}
	if resp.StatusCode >= http.StatusBadRequest || !envelope.Success {
		return envelope.AsAppError(resp.StatusCode)
	}

	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return errors.New("BAD_RESPONSE", "Unexpected response from chat backend", http.StatusBadGateway, err)
	}
	return nil
}
