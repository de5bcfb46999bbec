package bots

import "time"

// Bot status values. Once a session exists only the session manager writes them.
const (
	StatusPairing  = "pairing"
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusError    = "error"
)

// Bot is the persisted identity behind one messaging session.
type Bot struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Name        string    `json:"name"`
	EmpresaID   string    `json:"empresa_id,omitempty"`
	Status      string    `json:"status"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	QR          string    `json:"qr,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Patch is a partial update. Nil fields are left untouched; an empty string clears.
type Patch struct {
	Name        *string
	EmpresaID   *string
	Status      *string
	PhoneNumber *string
	QR          *string
}

// CreateBotRequest is the input for creating a bot.
type CreateBotRequest struct {
	Name      string `json:"name" validate:"required,max=120"`
	EmpresaID string `json:"empresa_id,omitempty" validate:"omitempty,max=64"`
}

// UpdateBotRequest is the input for updating a bot.
type UpdateBotRequest struct {
	Name      *string `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	EmpresaID *string `json:"empresa_id,omitempty" validate:"omitempty,max=64"`
}

// StringPtr is a helper for building patches.
func StringPtr(s string) *string { return &s }
