package entity

// Viewer is the logged-in party as provided by the session collaborator.
type Viewer struct {
	ID        int64  `json:"id"`
	Role      Role   `json:"role"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// KeyWith returns the conversation key between the viewer and a counterpart.
func (v Viewer) KeyWith(counterpartID int64) ConversationKey {
	if v.Role == RoleBuyer {
		return ConversationKey{BuyerID: v.ID, SellerID: counterpartID}
	}
	return ConversationKey{BuyerID: counterpartID, SellerID: v.ID}
}

// Participates reports whether the viewer is a party of key on its own side.
func (v Viewer) Participates(key ConversationKey) bool {
	if v.Role == RoleBuyer {
		return key.BuyerID == v.ID
	}
	return key.SellerID == v.ID
}
