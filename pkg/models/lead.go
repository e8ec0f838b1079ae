package models

import (
	"github.com/ajitpratap0/brick2/pkg/datastore"
)

// Lead is a prospect captured by a campaign. Score ranges 1-100.
type Lead struct {
	Base
	CampaignID int64   `json:"campaign_id"`
	ExternalID *string `json:"external_id"`
	Email      *string `json:"email"`
	Phone      *string `json:"phone"`
	FirstName  *string `json:"first_name"`
	LastName   *string `json:"last_name"`
	Company    *string `json:"company"`
	Title      *string `json:"title"`
	Source     *string `json:"source"`
	Status     string  `json:"status"`
	Score      *int64  `json:"score"`
	Notes      *string `json:"notes"`
}

// TableName implements Record
func (Lead) TableName() string { return "leads" }

// LeadsTable describes the leads table
var LeadsTable = &Table{
	Name: "leads",
	Columns: append(baseColumns(),
		Column{Name: "campaign_id", Kind: KindInt, Writable: true, Required: true},
		Column{Name: "external_id", Kind: KindString, Writable: true},
		Column{Name: "email", Kind: KindString, Writable: true},
		Column{Name: "phone", Kind: KindString, Writable: true},
		Column{Name: "first_name", Kind: KindString, Writable: true},
		Column{Name: "last_name", Kind: KindString, Writable: true},
		Column{Name: "company", Kind: KindString, Writable: true},
		Column{Name: "title", Kind: KindString, Writable: true},
		Column{Name: "source", Kind: KindString, Writable: true},
		Column{Name: "status", Kind: KindString, Writable: true, Default: "new"},
		Column{Name: "score", Kind: KindInt, Writable: true},
		Column{Name: "notes", Kind: KindString, Writable: true},
	),
	Decode: DecodeLead,
}

// DecodeLead maps a leads row
func DecodeLead(row datastore.Row) (Record, error) {
	if err := checkShape(row); err != nil {
		return nil, err
	}

	var l Lead
	for i, col := range row.Columns {
		v := row.Values[i]
		ok, err := l.decodeBase(col, v)
		if !ok {
			switch col {
			case "campaign_id":
				l.CampaignID, err = Int64(v)
			case "external_id":
				l.ExternalID, err = NullString(v)
			case "email":
				l.Email, err = NullString(v)
			case "phone":
				l.Phone, err = NullString(v)
			case "first_name":
				l.FirstName, err = NullString(v)
			case "last_name":
				l.LastName, err = NullString(v)
			case "company":
				l.Company, err = NullString(v)
			case "title":
				l.Title, err = NullString(v)
			case "source":
				l.Source, err = NullString(v)
			case "status":
				l.Status, err = String(v)
			case "score":
				l.Score, err = NullInt64(v)
			case "notes":
				l.Notes, err = NullString(v)
			default:
				return nil, unknownColumn(row, "leads", col)
			}
		}
		if err != nil {
			return nil, decodeError(row, col, err)
		}
	}
	return l, nil
}
