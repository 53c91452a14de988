package entity

import (
	"fmt"
	"time"
)

// ConversationKey identifies a buyer/seller thread. Product context does not
// take part in identity: one seller conversation spans every product discussed.
type ConversationKey struct {
	BuyerID  int64 `json:"buyer_id"`
	SellerID int64 `json:"seller_id"`
}

func (k ConversationKey) String() string {
	return fmt.Sprintf("%d:%d", k.BuyerID, k.SellerID)
}

type Conversation struct {
	BuyerID         int64      `json:"buyer_id" firestore:"buyerId"`
	SellerID        int64      `json:"seller_id" firestore:"sellerId"`
	ProductID       int64      `json:"product_id,omitempty" firestore:"productId,omitempty"`
	ProductName     string     `json:"product_name,omitempty" firestore:"productName,omitempty"`
	BuyerName       string     `json:"buyer_name,omitempty" firestore:"buyerName,omitempty"`
	SellerName      string     `json:"seller_name,omitempty" firestore:"sellerName,omitempty"`
	LastMessage     string     `json:"last_message,omitempty" firestore:"lastMessage,omitempty"`
	LastMessageTime *time.Time `json:"last_message_time" firestore:"lastMessageTime"` // nil while pending
	UnreadCount     int        `json:"unread_count" firestore:"unreadCount"`
}

func (c *Conversation) Key() ConversationKey {
	return ConversationKey{BuyerID: c.BuyerID, SellerID: c.SellerID}
}

// IsPending reports a client-local conversation that has no persisted messages yet.
func (c *Conversation) IsPending() bool {
	return c.LastMessageTime == nil
}
