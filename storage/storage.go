package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"todo-api/domain"
)

const (
	taskPartition    = "task"
	contactPartition = "contact"
)

// queueClient is the slice of azqueue the store uses, extracted so tests can
// substitute a fake.
type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Storage provides access to the task and contact tables and the task event
// queue.
type Storage struct {
	taskTable    *aztables.Client
	contactTable *aztables.Client
	eventQueue   queueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, contactsTable, eventsQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	tt := svc.NewClient(tasksTable)
	ct := svc.NewClient(contactsTable)

	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{taskTable: tt, contactTable: ct, eventQueue: eq}, nil
}

// notFoundError implements the api.NotFoundError marker.
type notFoundError struct {
	kind string
	id   string
}

func (e notFoundError) Error() string { return e.kind + " " + e.id + " not found" }
func (notFoundError) NotFound()       {}

func mapNotFound(err error, kind, id string) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return notFoundError{kind: kind, id: id}
	}
	return err
}

// escapeQuotes doubles single quotes for use inside an OData filter literal.
func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

type taskEntity struct {
	aztables.Entity
	Title     string `json:"Title"`
	Completed bool   `json:"Completed"`
	Owner     string `json:"Owner"`
	Due       string `json:"Due"`
	CreatedAt string `json:"CreatedAt"`
	UpdatedAt string `json:"UpdatedAt"`
}

func taskToEntity(t domain.Task) taskEntity {
	ent := taskEntity{
		Entity: aztables.Entity{
			PartitionKey: taskPartition,
			RowKey:       t.ID,
		},
		Title:     t.Title,
		Completed: t.Completed,
		Owner:     t.Owner,
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if t.Due != nil {
		ent.Due = t.Due.String()
	}
	return ent
}

func taskFromEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:        ent.RowKey,
		Title:     ent.Title,
		Completed: ent.Completed,
		Owner:     ent.Owner,
	}
	if ent.Due != "" {
		due, err := domain.ParseDate(ent.Due)
		if err != nil {
			return domain.Task{}, err
		}
		t.Due = &due
	}
	var err error
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, ent.CreatedAt); err != nil {
		return domain.Task{}, err
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, ent.UpdatedAt); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (s *Storage) listTasks(ctx context.Context, filter string) ([]domain.Task, error) {
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := taskFromEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// FindByOwner retrieves every task in the given owner scope. The empty owner
// selects the anonymous scope.
func (s *Storage) FindByOwner(ctx context.Context, owner string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + taskPartition + "' and Owner eq '" + escapeQuotes(owner) + "'"
	return s.listTasks(ctx, filter)
}

// FindByOwnerAndRange retrieves the owner scope's tasks whose due date lies
// in [from, to]. Undated tasks sort below any ISO date string and are
// excluded by the range bound.
func (s *Storage) FindByOwnerAndRange(ctx context.Context, owner string, from, to domain.Date) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + taskPartition + "' and Owner eq '" + escapeQuotes(owner) +
		"' and Due ge '" + from.String() + "' and Due le '" + to.String() + "'"
	return s.listTasks(ctx, filter)
}

// GetTask fetches one task by id regardless of owner scope; ownership checks
// belong to the caller.
func (s *Storage) GetTask(ctx context.Context, id string) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, taskPartition, id, nil)
	if err != nil {
		return domain.Task{}, mapNotFound(err, "task", id)
	}
	return taskFromEntity(resp.Value)
}

// CreateTask inserts a new task.
func (s *Storage) CreateTask(ctx context.Context, t domain.Task) error {
	data, err := json.Marshal(taskToEntity(t))
	if err != nil {
		return err
	}
	_, err = s.taskTable.AddEntity(ctx, data, nil)
	return err
}

// UpdateTask replaces an existing task record.
func (s *Storage) UpdateTask(ctx context.Context, t domain.Task) error {
	data, err := json.Marshal(taskToEntity(t))
	if err != nil {
		return err
	}
	mode := aztables.UpdateModeReplace
	_, err = s.taskTable.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{UpdateMode: mode})
	if err != nil {
		return mapNotFound(err, "task", t.ID)
	}
	return nil
}

// DeleteTask removes a task record.
func (s *Storage) DeleteTask(ctx context.Context, t domain.Task) error {
	if _, err := s.taskTable.DeleteEntity(ctx, taskPartition, t.ID, nil); err != nil {
		return mapNotFound(err, "task", t.ID)
	}
	return nil
}

type contactEntity struct {
	aztables.Entity
	Name      string `json:"Name"`
	Email     string `json:"Email"`
	Message   string `json:"Message"`
	IsRead    bool   `json:"IsRead"`
	CreatedAt string `json:"CreatedAt"`
}

func contactToEntity(m domain.ContactMessage) contactEntity {
	return contactEntity{
		Entity: aztables.Entity{
			PartitionKey: contactPartition,
			RowKey:       m.ID,
		},
		Name:      m.Name,
		Email:     m.Email,
		Message:   m.Message,
		IsRead:    m.IsRead,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func contactFromEntity(data []byte) (domain.ContactMessage, error) {
	var ent contactEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.ContactMessage{}, err
	}
	m := domain.ContactMessage{
		ID:      ent.RowKey,
		Name:    ent.Name,
		Email:   ent.Email,
		Message: ent.Message,
		IsRead:  ent.IsRead,
	}
	var err error
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, ent.CreatedAt); err != nil {
		return domain.ContactMessage{}, err
	}
	return m, nil
}

// SaveMessage stores a contact form submission.
func (s *Storage) SaveMessage(ctx context.Context, m domain.ContactMessage) error {
	data, err := json.Marshal(contactToEntity(m))
	if err != nil {
		return err
	}
	_, err = s.contactTable.AddEntity(ctx, data, nil)
	return err
}

// ListMessages retrieves every stored contact message.
func (s *Storage) ListMessages(ctx context.Context) ([]domain.ContactMessage, error) {
	filter := "PartitionKey eq '" + contactPartition + "'"
	pager := s.contactTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	msgs := []domain.ContactMessage{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			m, err := contactFromEntity(e)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}

// MarkMessageRead flips a message's review flag.
func (s *Storage) MarkMessageRead(ctx context.Context, id string) error {
	resp, err := s.contactTable.GetEntity(ctx, contactPartition, id, nil)
	if err != nil {
		return mapNotFound(err, "contact message", id)
	}
	m, err := contactFromEntity(resp.Value)
	if err != nil {
		return err
	}
	m.IsRead = true
	data, err := json.Marshal(contactToEntity(m))
	if err != nil {
		return err
	}
	mode := aztables.UpdateModeReplace
	if _, err := s.contactTable.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{UpdateMode: mode}); err != nil {
		return mapNotFound(err, "contact message", id)
	}
	return nil
}

// PublishEvents sends task events to the event queue, one envelope per
// message.
func (s *Storage) PublishEvents(ctx context.Context, owner string, events []domain.TaskEvent) error {
	for _, ev := range events {
		env := domain.EventEnvelope{Owner: owner, Event: ev}
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if _, err := s.eventQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
			return err
		}
	}
	return nil
}
