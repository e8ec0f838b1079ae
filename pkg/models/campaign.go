package models

import (
	"time"

	"github.com/ajitpratap0/brick2/pkg/datastore"
)

// Campaign statuses
const (
	CampaignDraft     = "draft"
	CampaignActive    = "active"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
)

// Campaign is an advertising campaign on one platform. Budgets are in cents.
type Campaign struct {
	Base
	Platform    string     `json:"platform"`
	Name        string     `json:"name"`
	ExternalID  *string    `json:"external_id"`
	Description *string    `json:"description"`
	Status      string     `json:"status"`
	Budget      *int64     `json:"budget"`
	DailyBudget *int64     `json:"daily_budget"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
	IsActive    bool       `json:"is_active"`
	OwnerID     int64      `json:"owner_id"`
}

// TableName implements Record
func (Campaign) TableName() string { return "campaigns" }

// CampaignsTable describes the campaigns table
var CampaignsTable = &Table{
	Name: "campaigns",
	Columns: append(baseColumns(),
		Column{Name: "platform", Kind: KindString, Writable: true, Required: true},
		Column{Name: "name", Kind: KindString, Writable: true, Required: true},
		Column{Name: "external_id", Kind: KindString, Writable: true},
		Column{Name: "description", Kind: KindString, Writable: true},
		Column{Name: "status", Kind: KindString, Writable: true, Default: CampaignDraft},
		Column{Name: "budget", Kind: KindInt, Writable: true},
		Column{Name: "daily_budget", Kind: KindInt, Writable: true},
		Column{Name: "start_date", Kind: KindTime, Writable: true},
		Column{Name: "end_date", Kind: KindTime, Writable: true},
		Column{Name: "is_active", Kind: KindBool, Writable: true, Default: true},
		Column{Name: "owner_id", Kind: KindInt, Writable: true, Required: true},
	),
	Decode: DecodeCampaign,
}

// DecodeCampaign maps a campaigns row
func DecodeCampaign(row datastore.Row) (Record, error) {
	if err := checkShape(row); err != nil {
		return nil, err
	}

	var c Campaign
	for i, col := range row.Columns {
		v := row.Values[i]
		ok, err := c.decodeBase(col, v)
		if !ok {
			switch col {
			case "platform":
				c.Platform, err = String(v)
			case "name":
				c.Name, err = String(v)
			case "external_id":
				c.ExternalID, err = NullString(v)
			case "description":
				c.Description, err = NullString(v)
			case "status":
				c.Status, err = String(v)
			case "budget":
				c.Budget, err = NullInt64(v)
			case "daily_budget":
				c.DailyBudget, err = NullInt64(v)
			case "start_date":
				c.StartDate, err = NullTime(v)
			case "end_date":
				c.EndDate, err = NullTime(v)
			case "is_active":
				c.IsActive, err = Bool(v)
			case "owner_id":
				c.OwnerID, err = Int64(v)
			default:
				return nil, unknownColumn(row, "campaigns", col)
			}
		}
		if err != nil {
			return nil, decodeError(row, col, err)
		}
	}
	return c, nil
}
