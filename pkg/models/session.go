package models

import (
	"time"

	"github.com/ajitpratap0/brick2/pkg/datastore"
	"github.com/ajitpratap0/brick2/pkg/json"
)

// Orchestration session statuses. Sessions are created pending, started,
// then completed or failed; a failed session may be retried back to
// pending until RetryCount reaches MaxRetries.
const (
	SessionPending   = "pending"
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
	SessionPaused    = "paused"
)

// OrchestrationSession tracks one automated run over a user's campaigns.
// Priority ranges 1 (low) to 4 (critical).
type OrchestrationSession struct {
	Base
	UserID            int64           `json:"user_id"`
	CampaignID        *int64          `json:"campaign_id"`
	SessionType       string          `json:"session_type"`
	Status            string          `json:"status"`
	Priority          int64           `json:"priority"`
	ContextData       json.RawMessage `json:"context_data"`
	InputData         json.RawMessage `json:"input_data"`
	OutputData        json.RawMessage `json:"output_data"`
	AIModel           *string         `json:"ai_model"`
	ConfidenceScore   *int64          `json:"confidence_score"`
	ProcessingSteps   json.RawMessage `json:"processing_steps"`
	ErrorMessage      *string         `json:"error_message"`
	RetryCount        int64           `json:"retry_count"`
	MaxRetries        int64           `json:"max_retries"`
	StartedAt         *time.Time      `json:"started_at"`
	CompletedAt       *time.Time      `json:"completed_at"`
	EstimatedDuration *int64          `json:"estimated_duration"`
}

// TableName implements Record
func (OrchestrationSession) TableName() string { return "orchestration_sessions" }

// SessionsTable describes the orchestration_sessions table
var SessionsTable = &Table{
	Name: "orchestration_sessions",
	Columns: append(baseColumns(),
		Column{Name: "user_id", Kind: KindInt, Writable: true, Required: true},
		Column{Name: "campaign_id", Kind: KindInt, Writable: true},
		Column{Name: "session_type", Kind: KindString, Writable: true, Required: true},
		Column{Name: "status", Kind: KindString, Writable: true, Default: SessionPending},
		Column{Name: "priority", Kind: KindInt, Writable: true, Default: int64(1), Range: &Range{Min: 1, Max: 4}},
		Column{Name: "context_data", Kind: KindJSON, Writable: true},
		Column{Name: "input_data", Kind: KindJSON, Writable: true},
		Column{Name: "output_data", Kind: KindJSON, Writable: true},
		Column{Name: "ai_model", Kind: KindString, Writable: true},
		Column{Name: "confidence_score", Kind: KindInt, Writable: true, Range: &Range{Min: 0, Max: 100}},
		Column{Name: "processing_steps", Kind: KindJSON, Writable: true},
		Column{Name: "error_message", Kind: KindString, Writable: true},
		Column{Name: "retry_count", Kind: KindInt, Writable: true, Default: int64(0), Range: &Range{Min: 0, Max: 1 << 31}},
		Column{Name: "max_retries", Kind: KindInt, Writable: true, Default: int64(3), Range: &Range{Min: 0, Max: 1 << 31}},
		Column{Name: "started_at", Kind: KindTime},
		Column{Name: "completed_at", Kind: KindTime, Writable: true},
		Column{Name: "estimated_duration", Kind: KindInt, Writable: true},
	),
	Decode: DecodeSession,
}

// DecodeSession maps an orchestration_sessions row
func DecodeSession(row datastore.Row) (Record, error) {
	if err := checkShape(row); err != nil {
		return nil, err
	}

	var s OrchestrationSession
	for i, col := range row.Columns {
		v := row.Values[i]
		ok, err := s.decodeBase(col, v)
		if !ok {
			switch col {
			case "user_id":
				s.UserID, err = Int64(v)
			case "campaign_id":
				s.CampaignID, err = NullInt64(v)
			case "session_type":
				s.SessionType, err = String(v)
			case "status":
				s.Status, err = String(v)
			case "priority":
				s.Priority, err = Int64(v)
			case "context_data":
				s.ContextData, err = JSON(v)
			case "input_data":
				s.InputData, err = JSON(v)
			case "output_data":
				s.OutputData, err = JSON(v)
			case "ai_model":
				s.AIModel, err = NullString(v)
			case "confidence_score":
				s.ConfidenceScore, err = NullInt64(v)
			case "processing_steps":
				s.ProcessingSteps, err = JSON(v)
			case "error_message":
				s.ErrorMessage, err = NullString(v)
			case "retry_count":
				s.RetryCount, err = Int64(v)
			case "max_retries":
				s.MaxRetries, err = Int64(v)
			case "started_at":
				s.StartedAt, err = NullTime(v)
			case "completed_at":
				s.CompletedAt, err = NullTime(v)
			case "estimated_duration":
				s.EstimatedDuration, err = NullInt64(v)
			default:
				return nil, unknownColumn(row, "orchestration_sessions", col)
			}
		}
		if err != nil {
			return nil, decodeError(row, col, err)
		}
	}
	return s, nil
}
