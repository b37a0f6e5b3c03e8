package domain

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

var (
	ErrEmptyName    = errors.New("name is required")
	ErrInvalidEmail = errors.New("a valid email address is required")
	ErrEmptyMessage = errors.New("message is required")
)

// ContactMessage is a message submitted through the contact form, kept for
// administrative review. It has no relation to tasks.
type ContactMessage struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate normalizes and checks the user-supplied fields.
func (m *ContactMessage) Validate() error {
	m.Name = strings.TrimSpace(m.Name)
	m.Email = strings.TrimSpace(m.Email)
	m.Message = strings.TrimSpace(m.Message)

	if m.Name == "" {
		return ErrEmptyName
	}
	if m.Email == "" {
		return ErrInvalidEmail
	}
	if addr, err := mail.ParseAddress(m.Email); err != nil || addr.Address != m.Email {
		return ErrInvalidEmail
	}
	if m.Message == "" {
		return ErrEmptyMessage
	}
	return nil
}
