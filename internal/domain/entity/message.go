package entity

import "time"

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

func (r Role) Valid() bool {
	return r == RoleBuyer || r == RoleSeller
}

// Other returns the counterpart role.
func (r Role) Other() Role {
	if r == RoleBuyer {
		return RoleSeller
	}
	return RoleBuyer
}

type MessageKind string

const (
	KindText    MessageKind = "text"
	KindProduct MessageKind = "product"
)

type Message struct {
	ID           int64       `json:"id" firestore:"id"`
	TempID       string      `json:"temp_id,omitempty" firestore:"-"`
	BuyerID      int64       `json:"buyer_id" firestore:"buyerId"`
	SellerID     int64       `json:"seller_id" firestore:"sellerId"`
	ProductID    int64       `json:"product_id,omitempty" firestore:"productId,omitempty"`
	ProductName  string      `json:"product_name,omitempty" firestore:"productName,omitempty"`
	Kind         MessageKind `json:"kind" firestore:"kind"`
	Text         string      `json:"text" firestore:"text"`
	ImageURL     string      `json:"image_url,omitempty" firestore:"imageUrl,omitempty"`
	Sender       Role        `json:"sender" firestore:"sender"`
	SenderName   string      `json:"sender_name,omitempty" firestore:"senderName,omitempty"`
	SenderAvatar string      `json:"sender_avatar,omitempty" firestore:"senderAvatar,omitempty"`
	Read         bool        `json:"read" firestore:"read"`
	CreatedAt    time.Time   `json:"created_at" firestore:"createdAt"`
}

func (m *Message) Key() ConversationKey {
	return ConversationKey{BuyerID: m.BuyerID, SellerID: m.SellerID}
}

// IsTemporary reports an optimistic message the server has not acknowledged.
// Server ids are always positive; temporary messages carry only a TempID.
func (m *Message) IsTemporary() bool {
	return m.ID <= 0 && m.TempID != ""
}

// MessagePayload is the body of both the live publish and the fallback send.
type MessagePayload struct {
	BuyerID      int64       `json:"buyer_id" validate:"required,gt=0"`
	SellerID     int64       `json:"seller_id" validate:"required,gt=0"`
	ProductID    int64       `json:"product_id,omitempty" validate:"gte=0"`
	ProductName  string      `json:"product_name,omitempty" validate:"max=200"`
	Kind         MessageKind `json:"kind" validate:"required,oneof=text product"`
	Text         string      `json:"text" validate:"required,max=4000"`
	ImageURL     string      `json:"image_url,omitempty" validate:"omitempty,max=2048"`
	Sender       Role        `json:"sender" validate:"required,oneof=buyer seller"`
	SenderName   string      `json:"sender_name,omitempty" validate:"max=200"`
	SenderAvatar string      `json:"sender_avatar,omitempty" validate:"max=2048"`
	TempID       string      `json:"temp_id,omitempty" validate:"max=64"`
}

func (p *MessagePayload) Key() ConversationKey {
	return ConversationKey{BuyerID: p.BuyerID, SellerID: p.SellerID}
}

// ToMessage builds the message a payload describes, without a server id.
func (p *MessagePayload) ToMessage(createdAt time.Time) *Message {
	return &Message{
		TempID:       p.TempID,
		BuyerID:      p.BuyerID,
		SellerID:     p.SellerID,
		ProductID:    p.ProductID,
		ProductName:  p.ProductName,
		Kind:         p.Kind,
		Text:         p.Text,
		ImageURL:     p.ImageURL,
		Sender:       p.Sender,
		SenderName:   p.SenderName,
		SenderAvatar: p.SenderAvatar,
		CreatedAt:    createdAt,
	}
}
