package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/appmgt/pkg/contextkeys"
)

// Action is the kind of change recorded by an event.
type Action string

const (
	ActionCreate        Action = "application.create"
	ActionCreateDefault Action = "application.create_default"
	ActionUpdate        Action = "application.update"
	ActionDelete        Action = "application.delete"
)

// Status is the outcome of the recorded change.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Event is a single audit log entry.
type Event struct {
	ID        int64     `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Status    Status    `json:"status"`

	TenantID     int64  `json:"tenant_id"`
	AppID        int64  `json:"app_id,omitempty"`
	AppName      string `json:"app_name,omitempty"`
	PreviousName string `json:"previous_name,omitempty"`

	// Actor is the qualified "DOMAIN/username" of the caller, empty for
	// calls without a principal.
	Actor       string `json:"actor,omitempty"`
	OperationID string `json:"operation_id,omitempty"`

	Message      string         `json:"message,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// NewEvent starts a successful event for the caller found on ctx.
func NewEvent(ctx context.Context, action Action, tenantID int64) *Event {
	e := &Event{
		Timestamp:   time.Now().UTC(),
		Action:      action,
		Status:      StatusSuccess,
		TenantID:    tenantID,
		OperationID: contextkeys.GetOperationID(ctx),
	}
	if p, ok := contextkeys.GetPrincipal(ctx); ok && p.Username != "" {
		e.Actor = p.Username
		if p.UserStoreDomain != "" {
			e.Actor = p.UserStoreDomain + "/" + p.Username
		}
	}
	return e
}

// Fail marks the event as failed with err. A nil err leaves it unchanged.
func (e *Event) Fail(err error) *Event {
	if err != nil {
		e.Status = StatusFailure
		e.ErrorMessage = err.Error()
	}
	return e
}

// Filter selects events in Search. Zero values match everything.
type Filter struct {
	TenantID *int64
	AppName  string
	Action   Action
	Status   Status
	Since    time.Time
	Until    time.Time

	// Limit caps the result; 0 means DefaultSearchLimit.
	Limit int
}

// DefaultSearchLimit bounds searches without an explicit limit.
const DefaultSearchLimit = 100
