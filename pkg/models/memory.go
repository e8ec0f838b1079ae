package models

import (
	"time"

	"github.com/ajitpratap0/brick2/pkg/datastore"
	"github.com/ajitpratap0/brick2/pkg/json"
)

// Memory types
const (
	MemoryCampaignInsight    = "campaign_insight"
	MemoryPerformancePattern = "performance_pattern"
	MemoryUserPreference     = "user_preference"
	MemoryAudienceBehavior   = "audience_behavior"
	MemoryCreativeInsight    = "creative_insight"
)

// Memory is a learned insight attached to a user and optionally to a
// campaign or orchestration session. Archived memories have IsActive unset
// and drop out of the user, campaign and search listings.
type Memory struct {
	Base
	UserID                 int64           `json:"user_id"`
	CampaignID             *int64          `json:"campaign_id"`
	OrchestrationSessionID *int64          `json:"orchestration_session_id"`
	MemoryType             string          `json:"memory_type"`
	Category               *string         `json:"category"`
	Title                  string          `json:"title"`
	Content                string          `json:"content"`
	Summary                *string         `json:"summary"`
	ImportanceScore        int64           `json:"importance_score"`
	ConfidenceScore        *float64        `json:"confidence_score"`
	Source                 *string         `json:"source"`
	ContextData            json.RawMessage `json:"context_data"`
	RelatedEntities        json.RawMessage `json:"related_entities"`
	IsActive               bool            `json:"is_active"`
	ExpiresAt              *time.Time      `json:"expires_at"`
	AccessCount            int64           `json:"access_count"`
	LastAccessedAt         *time.Time      `json:"last_accessed_at"`
}

// TableName implements Record
func (Memory) TableName() string { return "memories" }

// MemoriesTable describes the memories table
var MemoriesTable = &Table{
	Name: "memories",
	Columns: append(baseColumns(),
		Column{Name: "user_id", Kind: KindInt, Writable: true, Required: true},
		Column{Name: "campaign_id", Kind: KindInt, Writable: true},
		Column{Name: "orchestration_session_id", Kind: KindInt, Writable: true},
		Column{Name: "memory_type", Kind: KindString, Writable: true, Required: true},
		Column{Name: "category", Kind: KindString, Writable: true},
		Column{Name: "title", Kind: KindString, Writable: true, Required: true},
		Column{Name: "content", Kind: KindString, Writable: true, Required: true},
		Column{Name: "summary", Kind: KindString, Writable: true},
		Column{Name: "importance_score", Kind: KindInt, Writable: true, Default: int64(50), Range: &Range{Min: 1, Max: 100}},
		Column{Name: "confidence_score", Kind: KindFloat, Writable: true, Range: &Range{Min: 0, Max: 1}},
		Column{Name: "source", Kind: KindString, Writable: true},
		Column{Name: "context_data", Kind: KindJSON, Writable: true},
		Column{Name: "related_entities", Kind: KindJSON, Writable: true},
		Column{Name: "is_active", Kind: KindBool, Writable: true, Default: true},
		Column{Name: "expires_at", Kind: KindTime, Writable: true},
		Column{Name: "access_count", Kind: KindInt},
		Column{Name: "last_accessed_at", Kind: KindTime},
	),
	Decode: DecodeMemory,
}

// DecodeMemory maps a memories row
func DecodeMemory(row datastore.Row) (Record, error) {
	if err := checkShape(row); err != nil {
		return nil, err
	}

	var m Memory
	for i, col := range row.Columns {
		v := row.Values[i]
		ok, err := m.decodeBase(col, v)
		if !ok {
			switch col {
			case "user_id":
				m.UserID, err = Int64(v)
			case "campaign_id":
				m.CampaignID, err = NullInt64(v)
			case "orchestration_session_id":
				m.OrchestrationSessionID, err = NullInt64(v)
			case "memory_type":
				m.MemoryType, err = String(v)
			case "category":
				m.Category, err = NullString(v)
			case "title":
				m.Title, err = String(v)
			case "content":
				m.Content, err = String(v)
			case "summary":
				m.Summary, err = NullString(v)
			case "importance_score":
				m.ImportanceScore, err = Int64(v)
			case "confidence_score":
				m.ConfidenceScore, err = NullFloat64(v)
			case "source":
				m.Source, err = NullString(v)
			case "context_data":
				m.ContextData, err = JSON(v)
			case "related_entities":
				m.RelatedEntities, err = JSON(v)
			case "is_active":
				m.IsActive, err = Bool(v)
			case "expires_at":
				m.ExpiresAt, err = NullTime(v)
			case "access_count":
				m.AccessCount, err = Int64(v)
			case "last_accessed_at":
				m.LastAccessedAt, err = NullTime(v)
			default:
				return nil, unknownColumn(row, "memories", col)
			}
		}
		if err != nil {
			return nil, decodeError(row, col, err)
		}
	}
	return m, nil
}

// MemoryTypeCount is one group of the memory statistics query
type MemoryTypeCount struct {
	MemoryType      string `json:"memory_type"`
	Count           int64  `json:"count"`
	ImportanceTotal int64  `json:"importance_total"`
}

// TableName implements Record
func (MemoryTypeCount) TableName() string { return "memories" }

// RecordID implements Record
func (c MemoryTypeCount) RecordID() int64 { return c.Count }

// DecodeMemoryTypeCount maps a row of memory_type, count, importance_total
func DecodeMemoryTypeCount(row datastore.Row) (Record, error) {
	if err := checkShape(row); err != nil {
		return nil, err
	}

	var c MemoryTypeCount
	for i, col := range row.Columns {
		v := row.Values[i]
		var err error
		switch col {
		case "memory_type":
			c.MemoryType, err = String(v)
		case "count":
			c.Count, err = Int64(v)
		case "importance_total":
			// SUM over no rows is NULL
			if v != nil {
				c.ImportanceTotal, err = Int64(v)
			}
		default:
			return nil, unknownColumn(row, "memories", col)
		}
		if err != nil {
			return nil, decodeError(row, col, err)
		}
	}
	return c, nil
}

// MemoryTypeSummary reports the active memories of one type
type MemoryTypeSummary struct {
	Count         int64   `json:"count"`
	AvgImportance float64 `json:"avg_importance"`
}

// MemoryStatistics summarizes active memories by type
type MemoryStatistics struct {
	TotalMemories int64                        `json:"total_memories"`
	ByType        map[string]MemoryTypeSummary `json:"by_type"`
}

// SummarizeMemories folds per-type counts into statistics
func SummarizeMemories(counts []MemoryTypeCount) MemoryStatistics {
	stats := MemoryStatistics{ByType: make(map[string]MemoryTypeSummary, len(counts))}
	for _, c := range counts {
		stats.TotalMemories += c.Count
		s := MemoryTypeSummary{Count: c.Count}
		if c.Count > 0 {
			s.AvgImportance = float64(c.ImportanceTotal) / float64(c.Count)
		}
		stats.ByType[c.MemoryType] = s
	}
	return stats
}
