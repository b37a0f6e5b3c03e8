package api

import (
	"context"

	"todo-api/domain"
)

// TaskStore abstracts task persistence for handlers. The empty owner string
// selects the anonymous scope in every query.
type TaskStore interface {
	FindByOwner(ctx context.Context, owner string) ([]domain.Task, error)
	FindByOwnerAndRange(ctx context.Context, owner string, from, to domain.Date) ([]domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	CreateTask(ctx context.Context, t domain.Task) error
	UpdateTask(ctx context.Context, t domain.Task) error
	DeleteTask(ctx context.Context, t domain.Task) error
}

// ContactStore persists messages submitted through the contact form.
type ContactStore interface {
	SaveMessage(ctx context.Context, m domain.ContactMessage) error
	ListMessages(ctx context.Context) ([]domain.ContactMessage, error)
	MarkMessageRead(ctx context.Context, id string) error
}

// EventSink receives task change events for downstream consumers.
type EventSink interface {
	PublishEvents(ctx context.Context, owner string, events []domain.TaskEvent) error
}

// NotFoundError marks lookups of records that do not exist.
type NotFoundError interface {
	error
	NotFound()
}

// Authenticator resolves the owner scope of a request from its Authorization
// header. An absent header yields the anonymous scope, not an error.
type Authenticator interface {
	OwnerFromAuthHeader(string) (string, error)
}
