package models

import (
	"github.com/ajitpratap0/brick2/pkg/datastore"
	"github.com/ajitpratap0/brick2/pkg/json"
)

// Ad is a creative served within a campaign. Targeting fields hold raw JSON
// documents.
type Ad struct {
	Base
	Title          string          `json:"title"`
	Description    *string         `json:"description"`
	Content        *string         `json:"content"`
	Status         string          `json:"status"`
	AdType         string          `json:"ad_type"`
	TargetAudience json.RawMessage `json:"target_audience"`
	Demographics   json.RawMessage `json:"demographics"`
	Interests      json.RawMessage `json:"interests"`
	BidAmount      *float64        `json:"bid_amount"`
	BidType        *string         `json:"bid_type"`
	Impressions    int64           `json:"impressions"`
	Clicks         int64           `json:"clicks"`
	Conversions    int64           `json:"conversions"`
	Spend          float64         `json:"spend"`
	MediaURLs      json.RawMessage `json:"media_urls"`
	LandingPageURL *string         `json:"landing_page_url"`
	CampaignID     int64           `json:"campaign_id"`
}

// TableName implements Record
func (Ad) TableName() string { return "ads" }

// AdsTable describes the ads table
var AdsTable = &Table{
	Name: "ads",
	Columns: append(baseColumns(),
		Column{Name: "title", Kind: KindString, Writable: true, Required: true},
		Column{Name: "description", Kind: KindString, Writable: true},
		Column{Name: "content", Kind: KindString, Writable: true},
		Column{Name: "status", Kind: KindString, Writable: true, Default: "draft"},
		Column{Name: "ad_type", Kind: KindString, Writable: true, Required: true},
		Column{Name: "target_audience", Kind: KindJSON, Writable: true},
		Column{Name: "demographics", Kind: KindJSON, Writable: true},
		Column{Name: "interests", Kind: KindJSON, Writable: true},
		Column{Name: "bid_amount", Kind: KindFloat, Writable: true},
		Column{Name: "bid_type", Kind: KindString, Writable: true},
		Column{Name: "impressions", Kind: KindInt, Writable: true, Default: int64(0)},
		Column{Name: "clicks", Kind: KindInt, Writable: true, Default: int64(0)},
		Column{Name: "conversions", Kind: KindInt, Writable: true, Default: int64(0)},
		Column{Name: "spend", Kind: KindFloat, Writable: true, Default: float64(0)},
		Column{Name: "media_urls", Kind: KindJSON, Writable: true},
		Column{Name: "landing_page_url", Kind: KindString, Writable: true},
		Column{Name: "campaign_id", Kind: KindInt, Writable: true, Required: true},
	),
	Decode: DecodeAd,
}

// DecodeAd maps an ads row
func DecodeAd(row datastore.Row) (Record, error) {
	if err := checkShape(row); err != nil {
		return nil, err
	}

	var a Ad
	for i, col := range row.Columns {
		v := row.Values[i]
		ok, err := a.decodeBase(col, v)
		if !ok {
			switch col {
			case "title":
				a.Title, err = String(v)
			case "description":
				a.Description, err = NullString(v)
			case "content":
				a.Content, err = NullString(v)
			case "status":
				a.Status, err = String(v)
			case "ad_type":
				a.AdType, err = String(v)
			case "target_audience":
				a.TargetAudience, err = JSON(v)
			case "demographics":
				a.Demographics, err = JSON(v)
			case "interests":
				a.Interests, err = JSON(v)
			case "bid_amount":
				a.BidAmount, err = NullFloat64(v)
			case "bid_type":
				a.BidType, err = NullString(v)
			case "impressions":
				a.Impressions, err = Int64(v)
			case "clicks":
				a.Clicks, err = Int64(v)
			case "conversions":
				a.Conversions, err = Int64(v)
			case "spend":
				a.Spend, err = Float64(v)
			case "media_urls":
				a.MediaURLs, err = JSON(v)
			case "landing_page_url":
				a.LandingPageURL, err = NullString(v)
			case "campaign_id":
				a.CampaignID, err = Int64(v)
			default:
				return nil, unknownColumn(row, "ads", col)
			}
		}
		if err != nil {
			return nil, decodeError(row, col, err)
		}
	}
	return a, nil
}
