package websocket

import (
	"encoding/json"
	"time"
)

// Frame types carried in WSMessage.Type.
const (
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypeSubscribed  = "subscribed"
	MessageTypeSendMessage = "send_message"
	MessageTypeMessage     = "message"
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
	MessageTypeError       = "error"
)

// DefaultTopic is the single shared topic that carries every chat message.
const DefaultTopic = "chat.messages"

type WSMessage struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

type SubscribeData struct {
	Topic string `json:"topic"`
}

// ErrorData reports a rejected frame. TempID ties a rejected send back to the
// optimistic message that produced it. Fatal errors end the connection.
type ErrorData struct {
	Code   string `json:"code"`
	Error  string `json:"error"`
	TempID string `json:"temp_id,omitempty"`
	Fatal  bool   `json:"fatal,omitempty"`
}

func newFrame(msgType, topic string, data interface{}) ([]byte, error) {
	frame := WSMessage{
		Type:      msgType,
		Topic:     topic,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		frame.Data = raw
	}
	return json.Marshal(frame)
}
