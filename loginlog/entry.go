package loginlog

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Action names the operation an entry records.
type Action string

const (
	ActionLogin     Action = "login"
	ActionRefresh   Action = "refresh"
	ActionLogout    Action = "logout"
	ActionLogoutAll Action = "logout_all"
)

// Outcome is the result of the recorded operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeLocked  Outcome = "locked"
)

// Entry is one append-only login log record. ID is assigned by the store when empty.
type Entry struct {
	ID          string    `json:"id,omitempty"`
	Action      Action    `json:"action"`
	Identity    string    `json:"identity,omitempty"`
	PrincipalID int64     `json:"principal_id,omitempty"`
	SourceAddr  string    `json:"source_addr,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	Outcome     Outcome   `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Writer persists or forwards entries.
type Writer interface {
	Append(ctx context.Context, entry Entry) error
}

// NopWriter drops entries.
type NopWriter struct{}

func (NopWriter) Append(context.Context, Entry) error { return nil }

// ChannelWriter pushes entries into a buffered channel. Useful in tests.
type ChannelWriter struct {
	entries chan Entry
}

func NewChannelWriter(buffer int) *ChannelWriter {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelWriter{entries: make(chan Entry, buffer)}
}

func (w *ChannelWriter) Append(ctx context.Context, entry Entry) error {
	select {
	case w.entries <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *ChannelWriter) Entries() <-chan Entry {
	return w.entries
}

// JSONWriter writes one JSON object per line.
type JSONWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewJSONWriter(w io.Writer) *JSONWriter {
	return &JSONWriter{w: w}
}

func (j *JSONWriter) Append(_ context.Context, entry Entry) error {
	if j == nil || j.w == nil {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.w.Write(data)
	return err
}
