package repository

import (
	"context"

	"github.com/ajitpratap0/brick2/pkg/datastore"
	"github.com/ajitpratap0/brick2/pkg/models"
)

// Store groups the repositories of every record table
type Store struct {
	Users        *Repository
	Campaigns    *Campaigns
	Ads          *Repository
	Performances *Repository
	Leads        *Repository
	Memories     *Memories
	Sessions     *Sessions
}

// NewStore creates repositories for all tables sharing one submitter
func NewStore(dialect datastore.Dialect, submitter Submitter) *Store {
	return &Store{
		Users:        New(models.UsersTable, dialect, submitter),
		Campaigns:    &Campaigns{Repository: New(models.CampaignsTable, dialect, submitter)},
		Ads:          New(models.AdsTable, dialect, submitter),
		Performances: New(models.PerformancesTable, dialect, submitter),
		Leads:        New(models.LeadsTable, dialect, submitter),
		Memories:     &Memories{Repository: New(models.MemoriesTable, dialect, submitter)},
		Sessions:     newSessions(New(models.SessionsTable, dialect, submitter)),
	}
}

// ByTable returns the repository for a table name
func (s *Store) ByTable(name string) (*Repository, bool) {
	switch name {
	case models.UsersTable.Name:
		return s.Users, true
	case models.CampaignsTable.Name:
		return s.Campaigns.Repository, true
	case models.AdsTable.Name:
		return s.Ads, true
	case models.PerformancesTable.Name:
		return s.Performances, true
	case models.LeadsTable.Name:
		return s.Leads, true
	case models.MemoriesTable.Name:
		return s.Memories.Repository, true
	case models.SessionsTable.Name:
		return s.Sessions.Repository, true
	default:
		return nil, false
	}
}

// Campaigns adds the campaign-specific lookups
type Campaigns struct {
	*Repository
}

// ListByOwner returns a page of the campaigns owned by a user
func (c *Campaigns) ListByOwner(ctx context.Context, ownerID int64, page Page) ([]models.Record, error) {
	return c.ListBy(ctx, "owner_id", ownerID, page)
}

// GetByExternalID returns the campaign with the given platform id
func (c *Campaigns) GetByExternalID(ctx context.Context, externalID string) (models.Record, error) {
	return c.FindBy(ctx, "external_id", externalID)
}
