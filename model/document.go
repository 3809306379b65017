package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a document as reported by the API.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ErrUnknownStatus is returned when the API reports a status outside the
// four known values.
var ErrUnknownStatus = errors.New("unknown document status")

// ParseStatus is case-insensitive: PENDING and pending are the same status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusDraft, StatusPending, StatusApproved, StatusRejected:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

// UnmarshalJSON leaves the status untouched for a JSON null.
func (s *Status) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	st, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ColorClass is the stylesheet class used to render the status badge.
func (s Status) ColorClass() string {
	switch s {
	case StatusApproved:
		return "status-approved"
	case StatusRejected:
		return "status-rejected"
	default:
		return "status-pending"
	}
}

// Document is owned by the API; the front-end only requests transitions.
type Document struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Status       Status    `json:"status"`
	CreatedBy    Actor     `json:"createdBy"`
	BlockchainTx string    `json:"blockchainTx,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type wireDocument struct {
	ID           string    `json:"id"`
	MongoID      string    `json:"_id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Status       Status    `json:"status"`
	CreatedBy    Actor     `json:"createdBy"`
	BlockchainTx string    `json:"blockchainTx"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var w wireDocument
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*d = Document{
		ID:           firstNonEmpty(w.ID, w.MongoID),
		Title:        w.Title,
		Content:      w.Content,
		Status:       w.Status,
		CreatedBy:    w.CreatedBy,
		BlockchainTx: w.BlockchainTx,
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}
	return nil
}

// Actionable reports whether approve/reject may be offered to role.
func (d *Document) Actionable(role Role) bool {
	return d != nil && role.Privileged() && d.Status == StatusPending
}

// CreateDocumentRequest is the body of POST /documents.
type CreateDocumentRequest struct {
	Title   string `json:"title" form:"title"`
	Content string `json:"content" form:"content"`
}

var (
	ErrTitleRequired   = errors.New("title is required")
	ErrContentRequired = errors.New("content is required")
)

// Validate checks the create form; the API client does not call it.
func (r *CreateDocumentRequest) Validate() error {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return ErrTitleRequired
	}
	if strings.TrimSpace(r.Content) == "" {
		return ErrContentRequired
	}
	return nil
}

// Action is the kind of event recorded in a document's history.
type Action string

const (
	ActionCreate  Action = "create"
	ActionView    Action = "view"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ParseAction normalizes casing; upload is the older name for create.
func ParseAction(s string) Action {
	switch a := strings.ToLower(strings.TrimSpace(s)); a {
	case "upload", "create":
		return ActionCreate
	default:
		return Action(a)
	}
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = ParseAction(raw)
	return nil
}

// HistoryEntry is an immutable audit record.
type HistoryEntry struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"documentId"`
	Actor        Actor     `json:"user"`
	Action       Action    `json:"action"`
	Timestamp    time.Time `json:"timestamp"`
	BlockchainTx string    `json:"blockchainTx,omitempty"`
}

type wireHistoryEntry struct {
	ID             string    `json:"id"`
	MongoID        string    `json:"_id"`
	DocumentID     string    `json:"documentId"`
	Document       string    `json:"document"`
	User           *Actor    `json:"user"`
	UserID         string    `json:"userId"`
	Action         Action    `json:"action"`
	Timestamp      time.Time `json:"timestamp"`
	BlockchainTx   string    `json:"blockchainTx"`
	BlockchainHash string    `json:"blockchainHash"`
}

func (h *HistoryEntry) UnmarshalJSON(data []byte) error {
	var w wireHistoryEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var actor Actor
	if w.User != nil {
		actor = *w.User
	}
	if actor.ID == "" {
		actor.ID = w.UserID
	}
	*h = HistoryEntry{
		ID:           firstNonEmpty(w.ID, w.MongoID),
		DocumentID:   firstNonEmpty(w.DocumentID, w.Document),
		Actor:        actor,
		Action:       w.Action,
		Timestamp:    w.Timestamp,
		BlockchainTx: firstNonEmpty(w.BlockchainTx, w.BlockchainHash),
	}
	return nil
}
