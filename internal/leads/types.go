package leads

import "time"

// DefaultName is stored when the sender gave no name.
const DefaultName = "Usuario WhatsApp"

// Lead records interest in a property.
type Lead struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	WhatsApp     string    `json:"whatsapp"`
	Email        string    `json:"email,omitempty"`
	PropertyCode string    `json:"property_code"`
	Contacted    bool      `json:"contacted"`
	CreatedAt    time.Time `json:"created_at"`
}

type CreateLeadRequest struct {
	Name         string `json:"name,omitempty" validate:"omitempty,max=120"`
	WhatsApp     string `json:"whatsapp" validate:"required,max=64"`
	Email        string `json:"email,omitempty" validate:"omitempty,email"`
	PropertyCode string `json:"property_code" validate:"required,max=32"`
}
