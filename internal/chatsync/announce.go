package chatsync

import (
	"strings"

	"marketchat/internal/domain/entity"
)

const productDescriptionLimit = 100

// NeedsProductAnnouncement reports whether a buyer's next text about product
// must be preceded by a product card. It holds when the buyer's latest
// message in thread is about a different product and the product was not the
// last one announced.
func NeedsProductAnnouncement(thread []entity.Message, role entity.Role, product *entity.ProductContext, lastAnnounced int64) bool {
	if role != entity.RoleBuyer || product == nil || product.ID <= 0 {
		return false
	}
	if lastAnnounced == product.ID {
		return false
	}
	for i := len(thread) - 1; i >= 0; i-- {
		if thread[i].Sender == entity.RoleBuyer {
			return thread[i].ProductID != product.ID
		}
	}
	return true
}

// ProductDetails renders the text of a product card: the product name, then
// the description cut to 100 characters.
func ProductDetails(product *entity.ProductContext) string {
	var b strings.Builder
	b.WriteString(product.Name)

	desc := strings.TrimSpace(product.Description)
	if desc != "" {
		b.WriteString("\n")
		b.WriteString(truncate(desc, productDescriptionLimit))
	}
	return b.String()
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func productCard(viewer entity.Viewer, key entity.ConversationKey, product *entity.ProductContext, tempID string) entity.MessagePayload {
	return entity.MessagePayload{
		BuyerID:      key.BuyerID,
		SellerID:     key.SellerID,
		ProductID:    product.ID,
		ProductName:  product.Name,
		Kind:         entity.KindProduct,
		Text:         ProductDetails(product),
		ImageURL:     product.ImageURL,
		Sender:       viewer.Role,
		SenderName:   viewer.Name,
		SenderAvatar: viewer.AvatarURL,
		TempID:       tempID,
	}
}

func textPayload(viewer entity.Viewer, key entity.ConversationKey, product *entity.ProductContext, text, tempID string) entity.MessagePayload {
	payload := entity.MessagePayload{
		BuyerID:      key.BuyerID,
		SellerID:     key.SellerID,
		Kind:         entity.KindText,
		Text:         text,
		Sender:       viewer.Role,
		SenderName:   viewer.Name,
		SenderAvatar: viewer.AvatarURL,
		TempID:       tempID,
	}
	if product != nil {
		payload.ProductID = product.ID
		payload.ProductName = product.Name
	}
	return payload
}
