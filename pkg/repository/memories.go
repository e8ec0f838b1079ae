package repository

import (
	"context"
	"strings"

	"github.com/ajitpratap0/brick2/pkg/dal"
	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/models"
)

const orderImportance = "importance_score DESC, created_at DESC, id DESC"

// MemoryFilter narrows memory listings; zero fields are ignored
type MemoryFilter struct {
	Type     string `form:"memory_type"`
	Category string `form:"category"`
	UserID   int64  `form:"user_id"`
}

// Memories adds the lifecycle and search operations of the memories table.
// Listings other than List only return active memories, most important
// first.
type Memories struct {
	*Repository
}

func (f MemoryFilter) matches(base ...Match) []Match {
	out := append([]Match(nil), base...)
	out = append(out, Match{Column: "is_active", Value: true})
	if f.Type != "" {
		out = append(out, Match{Column: "memory_type", Value: f.Type})
	}
	if f.Category != "" {
		out = append(out, Match{Column: "category", Value: f.Category})
	}
	if f.UserID > 0 {
		out = append(out, Match{Column: "user_id", Value: f.UserID})
	}
	return out
}

// ListByUserOp builds the active memories of a user
func (m *Memories) ListByUserOp(userID int64, filter MemoryFilter, page Page) (*dal.Operation, error) {
	filter.UserID = 0
	return m.ListWhereOp("list_by_user", filter.matches(Match{Column: "user_id", Value: userID}), orderImportance, page)
}

// ListByUser returns the active memories of a user
func (m *Memories) ListByUser(ctx context.Context, userID int64, filter MemoryFilter, page Page) ([]models.Record, error) {
	op, err := m.ListByUserOp(userID, filter, page)
	if err != nil {
		return nil, err
	}
	return m.records(ctx, op)
}

// ListForCampaign returns the active memories of a campaign, optionally of
// one type
func (m *Memories) ListForCampaign(ctx context.Context, campaignID int64, memoryType string, page Page) ([]models.Record, error) {
	filter := MemoryFilter{Type: memoryType}
	op, err := m.ListWhereOp("list_by_campaign", filter.matches(Match{Column: "campaign_id", Value: campaignID}), orderImportance, page)
	if err != nil {
		return nil, err
	}
	return m.records(ctx, op)
}

// likePattern wraps query for a case-insensitive substring match with '!'
// as the escape character
func likePattern(query string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return "%" + r.Replace(strings.ToLower(query)) + "%"
}

// SearchOp builds a substring search over title, content and summary
func (m *Memories) SearchOp(query string, filter MemoryFilter, page Page) (*dal.Operation, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "search query must not be empty").WithDetail("field", "q")
	}
	page, err := page.Normalize()
	if err != nil {
		return nil, err
	}
	b := m.selectFrom()
	if err := m.where(b, filter.matches()); err != nil {
		return nil, err
	}
	pattern := likePattern(query)
	b.write(" AND (LOWER(title) LIKE ").arg(pattern).write(" ESCAPE '!'")
	b.write(" OR LOWER(content) LIKE ").arg(pattern).write(" ESCAPE '!'")
	b.write(" OR LOWER(summary) LIKE ").arg(pattern).write(" ESCAPE '!')")
	op := m.query("search", m.paginateBy(b, orderImportance, page))
	op.MaxRows = page.Limit
	return op, nil
}

// Search returns active memories whose title, content or summary contains
// query, ignoring case
func (m *Memories) Search(ctx context.Context, query string, filter MemoryFilter, page Page) ([]models.Record, error) {
	op, err := m.SearchOp(query, filter, page)
	if err != nil {
		return nil, err
	}
	return m.records(ctx, op)
}

// Archive deactivates a memory
func (m *Memories) Archive(ctx context.Context, id int64) (models.Record, error) {
	return m.Update(ctx, id, map[string]interface{}{"is_active": false})
}

// Activate reactivates an archived memory
func (m *Memories) Activate(ctx context.Context, id int64) (models.Record, error) {
	return m.Update(ctx, id, map[string]interface{}{"is_active": true})
}

// RecordAccessOp builds the access counter increment
func (m *Memories) RecordAccessOp(id int64) *dal.Operation {
	return m.changeOp("record_access", id, []set{
		{column: "access_count", expr: "access_count + 1"},
		{column: "last_accessed_at", value: m.now().UTC()},
	}, "")
}

// RecordAccess counts one read of a memory and stamps last_accessed_at
func (m *Memories) RecordAccess(ctx context.Context, id int64) (models.Record, error) {
	rec, _, err := m.change(ctx, m.RecordAccessOp(id), id)
	return rec, err
}

// ArchiveExpiredOp builds the deactivation of active memories whose
// expires_at has passed
func (m *Memories) ArchiveExpiredOp() *dal.Operation {
	now := m.now().UTC()
	b := newBuilder(m.dialect).write("UPDATE ", m.table.Name, " SET is_active = ").arg(false)
	b.write(", updated_at = ").arg(now)
	b.write(" WHERE is_active = ").arg(true)
	b.write(" AND expires_at IS NOT NULL AND expires_at < ").arg(now)
	return m.command("archive_expired", b)
}

// ArchiveExpired deactivates expired memories and reports how many
func (m *Memories) ArchiveExpired(ctx context.Context) (int64, error) {
	res, err := m.submitter.Dispatch(ctx, m.ArchiveExpiredOp())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

// StatisticsOp builds the per-type count of active memories. A zero userID
// covers every user.
func (m *Memories) StatisticsOp(userID int64) *dal.Operation {
	b := newBuilder(m.dialect).write("SELECT memory_type, COUNT(*) AS count, SUM(importance_score) AS importance_total FROM ", m.table.Name)
	b.write(" WHERE is_active = ").arg(true)
	if userID > 0 {
		b.write(" AND user_id = ").arg(userID)
	}
	b.write(" GROUP BY memory_type ORDER BY memory_type")
	return &dal.Operation{
		Name:      m.opName("statistics"),
		Kind:      dal.KindQuery,
		Statement: b.String(),
		Args:      b.args,
		Mapper:    models.DecodeMemoryTypeCount,
	}
}

// Statistics summarizes active memories by type
func (m *Memories) Statistics(ctx context.Context, userID int64) (models.MemoryStatistics, error) {
	res, err := m.submitter.Dispatch(ctx, m.StatisticsOp(userID))
	if err != nil {
		return models.MemoryStatistics{}, err
	}
	counts := make([]models.MemoryTypeCount, 0, len(res.Records))
	for _, rec := range res.Records {
		c, ok := rec.(models.MemoryTypeCount)
		if !ok {
			return models.MemoryStatistics{}, errors.Newf(errors.ErrorTypeDecode, "unexpected %T in memory statistics", rec)
		}
		counts = append(counts, c)
	}
	return models.SummarizeMemories(counts), nil
}
