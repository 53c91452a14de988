package entity

// ProductContext is the product a buyer was looking at when starting a chat.
type ProductContext struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}
