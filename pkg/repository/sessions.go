package repository

import (
	"context"
	"strings"

	"github.com/ajitpratap0/brick2/pkg/dal"
	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/models"
)

// SessionFilter narrows session listings; zero fields are ignored
type SessionFilter struct {
	Status      string `form:"status"`
	SessionType string `form:"session_type"`
}

// Sessions adds the orchestration session state transitions
type Sessions struct {
	*Repository
}

func newSessions(r *Repository) *Sessions {
	r.prepare = func(values map[string]interface{}) map[string]interface{} {
		out := make(map[string]interface{}, len(values)+2)
		for k, v := range values {
			out[k] = v
		}
		out["status"] = models.SessionPending
		out["retry_count"] = int64(0)
		return out
	}
	return &Sessions{Repository: r}
}

// ListByUser returns a page of a user's sessions, newest first
func (s *Sessions) ListByUser(ctx context.Context, userID int64, filter SessionFilter, page Page) ([]models.Record, error) {
	matches := []Match{{Column: "user_id", Value: userID}}
	if filter.Status != "" {
		matches = append(matches, Match{Column: "status", Value: filter.Status})
	}
	if filter.SessionType != "" {
		matches = append(matches, Match{Column: "session_type", Value: filter.SessionType})
	}
	op, err := s.ListWhereOp("list_by_user", matches, orderNewest, page)
	if err != nil {
		return nil, err
	}
	return s.records(ctx, op)
}

// StartOp builds the move to active
func (s *Sessions) StartOp(id int64) *dal.Operation {
	return s.changeOp("start", id, []set{
		{column: "status", value: models.SessionActive},
		{column: "started_at", value: s.now().UTC()},
	}, "")
}

// Start marks a session active and stamps started_at
func (s *Sessions) Start(ctx context.Context, id int64) (models.Record, error) {
	rec, _, err := s.change(ctx, s.StartOp(id), id)
	return rec, err
}

// CompleteOp builds the move to completed. output is stored as the
// session's output_data.
func (s *Sessions) CompleteOp(id int64, output interface{}) (*dal.Operation, error) {
	col, _ := s.table.Column("output_data")
	data, err := col.Coerce(output)
	if err != nil {
		return nil, err
	}
	return s.changeOp("complete", id, []set{
		{column: "status", value: models.SessionCompleted},
		{column: "completed_at", value: s.now().UTC()},
		{column: "output_data", value: data},
	}, ""), nil
}

// Complete marks a session completed with its output
func (s *Sessions) Complete(ctx context.Context, id int64, output interface{}) (models.Record, error) {
	op, err := s.CompleteOp(id, output)
	if err != nil {
		return nil, err
	}
	rec, _, err := s.change(ctx, op, id)
	return rec, err
}

// FailOp builds the move to failed
func (s *Sessions) FailOp(id int64, message string) (*dal.Operation, error) {
	if strings.TrimSpace(message) == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "error_message is required").WithDetail("field", "error_message")
	}
	return s.changeOp("fail", id, []set{
		{column: "status", value: models.SessionFailed},
		{column: "error_message", value: message},
		{column: "completed_at", value: s.now().UTC()},
	}, ""), nil
}

// Fail marks a session failed with message
func (s *Sessions) Fail(ctx context.Context, id int64, message string) (models.Record, error) {
	op, err := s.FailOp(id, message)
	if err != nil {
		return nil, err
	}
	rec, _, err := s.change(ctx, op, id)
	return rec, err
}

// RetryOp builds the move back to pending. The guard keeps concurrent
// retries from exceeding max_retries.
func (s *Sessions) RetryOp(id int64) *dal.Operation {
	return s.changeOp("retry", id, []set{
		{column: "status", value: models.SessionPending},
		{column: "retry_count", expr: "retry_count + 1"},
		{column: "error_message", expr: "NULL"},
		{column: "started_at", expr: "NULL"},
		{column: "completed_at", expr: "NULL"},
	}, "retry_count < max_retries")
}

// Retry resets a session to pending and counts the attempt. It fails with
// a validation error once retry_count has reached max_retries.
func (s *Sessions) Retry(ctx context.Context, id int64) (models.Record, error) {
	rec, matched, err := s.change(ctx, s.RetryOp(id), id)
	if err != nil {
		return nil, err
	}
	if !matched {
		e := errors.New(errors.ErrorTypeValidation, "session has no retries left").WithDetail("id", id)
		if sess, ok := rec.(models.OrchestrationSession); ok {
			e = e.WithDetail("retry_count", sess.RetryCount).WithDetail("max_retries", sess.MaxRetries)
		}
		return nil, e
	}
	return rec, nil
}
