package models

import (
	"time"

	"github.com/ajitpratap0/brick2/pkg/datastore"
)

// Performance is one metric observation for a campaign
type Performance struct {
	Base
	CampaignID int64     `json:"campaign_id"`
	Date       time.Time `json:"date"`
	MetricType string    `json:"metric_type"`
	Value      float64   `json:"value"`
	Cost       float64   `json:"cost"`
	MetaData   *string   `json:"meta_data"`
}

// TableName implements Record
func (Performance) TableName() string { return "performances" }

// PerformancesTable describes the performances table
var PerformancesTable = &Table{
	Name: "performances",
	Columns: append(baseColumns(),
		Column{Name: "campaign_id", Kind: KindInt, Writable: true, Required: true},
		Column{Name: "date", Kind: KindTime, Writable: true, Required: true},
		Column{Name: "metric_type", Kind: KindString, Writable: true, Required: true},
		Column{Name: "value", Kind: KindFloat, Writable: true, Required: true},
		Column{Name: "cost", Kind: KindFloat, Writable: true, Default: float64(0)},
		Column{Name: "meta_data", Kind: KindString, Writable: true},
	),
	Decode: DecodePerformance,
}

// DecodePerformance maps a performances row
func DecodePerformance(row datastore.Row) (Record, error) {
	if err := checkShape(row); err != nil {
		return nil, err
	}

	var p Performance
	for i, col := range row.Columns {
		v := row.Values[i]
		ok, err := p.decodeBase(col, v)
		if !ok {
			switch col {
			case "campaign_id":
				p.CampaignID, err = Int64(v)
			case "date":
				p.Date, err = Time(v)
			case "metric_type":
				p.MetricType, err = String(v)
			case "value":
				p.Value, err = Float64(v)
			case "cost":
				p.Cost, err = Float64(v)
			case "meta_data":
				p.MetaData, err = NullString(v)
			default:
				return nil, unknownColumn(row, "performances", col)
			}
		}
		if err != nil {
			return nil, decodeError(row, col, err)
		}
	}
	return p, nil
}
