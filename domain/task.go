package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTitleLength caps the task title, counted in runes.
const MaxTitleLength = 200

var (
	ErrEmptyTitle   = errors.New("task title is required")
	ErrTitleTooLong = errors.New("task title exceeds 200 characters")
)

// Task represents a single to-do item. An empty Owner marks a shared task
// that belongs to the anonymous scope.
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	Owner     string    `json:"owner,omitempty"`
	Due       *Date     `json:"dueDate,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate normalizes and checks the user-supplied fields.
func (t *Task) Validate() error {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return ErrEmptyTitle
	}
	if utf8.RuneCountInString(t.Title) > MaxTitleLength {
		return ErrTitleTooLong
	}
	return nil
}

// MayAct reports whether the requester may mutate the task. The empty string
// is the anonymous requester: ownerless tasks are open to everyone, owned
// tasks only to their owner. Creation and listing never consult this
// predicate; every toggle and delete must.
func MayAct(t Task, requester string) bool {
	return t.Owner == "" || t.Owner == requester
}
