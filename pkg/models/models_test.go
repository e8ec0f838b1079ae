package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/brick2/pkg/datastore"
	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/json"
)

func campaignRow() datastore.Row {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return datastore.Row{
		Index:   3,
		Columns: CampaignsTable.Selectable(),
		Values: []interface{}{
			int64(7), created, created,
			"google", "Spring sale", nil, []byte("launch"),
			"active", int64(150000), nil, "2024-03-05 00:00:00", nil,
			int64(1), int32(42),
		},
	}
}

func TestDecodeIsDeterministic(t *testing.T) {
	row := campaignRow()

	first, err := DecodeCampaign(row)
	require.NoError(t, err)
	second, err := DecodeCampaign(row)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	c := first.(Campaign)
	assert.Equal(t, int64(7), c.RecordID())
	assert.Equal(t, "campaigns", c.TableName())
	assert.Equal(t, "Spring sale", c.Name)
	assert.Nil(t, c.ExternalID)
	require.NotNil(t, c.Description)
	assert.Equal(t, "launch", *c.Description)
	require.NotNil(t, c.Budget)
	assert.Equal(t, int64(150000), *c.Budget)
	require.NotNil(t, c.StartDate)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), *c.StartDate)
	assert.True(t, c.IsActive)
	assert.Equal(t, int64(42), c.OwnerID)
}

func TestDecodeErrors(t *testing.T) {
	t.Run("wrong type", func(t *testing.T) {
		row := campaignRow()
		row.Values[3] = 12.5 // platform
		_, err := DecodeCampaign(row)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeDecode))

		var e *errors.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, 3, e.Details["row"])
		assert.Equal(t, "platform", e.Details["column"])
	})

	t.Run("null in required column", func(t *testing.T) {
		row := campaignRow()
		row.Values[len(row.Values)-1] = nil
		_, err := DecodeCampaign(row)
		assert.True(t, errors.IsType(err, errors.ErrorTypeDecode))
	})

	t.Run("unknown column", func(t *testing.T) {
		row := datastore.Row{Columns: []string{"id", "nope"}, Values: []interface{}{int64(1), "x"}}
		_, err := DecodeLead(row)
		assert.True(t, errors.IsType(err, errors.ErrorTypeDecode))
		assert.Contains(t, err.Error(), "nope")
	})

	t.Run("shape mismatch", func(t *testing.T) {
		row := datastore.Row{Columns: []string{"id", "email"}, Values: []interface{}{int64(1)}}
		_, err := DecodeUser(row)
		assert.True(t, errors.IsType(err, errors.ErrorTypeDecode))
	})

	t.Run("count", func(t *testing.T) {
		_, err := DecodeCount(datastore.Row{Columns: []string{"a", "b"}, Values: []interface{}{int64(1), int64(2)}})
		assert.True(t, errors.IsType(err, errors.ErrorTypeDecode))

		rec, err := DecodeCount(datastore.Row{Columns: []string{"count"}, Values: []interface{}{int64(12)}})
		require.NoError(t, err)
		assert.Equal(t, Count{N: 12}, rec)
	})
}

func TestDecodeAllTables(t *testing.T) {
	now := time.Now().UTC()
	for name, table := range Tables {
		t.Run(name, func(t *testing.T) {
			cols := table.Selectable()
			values := make([]interface{}, len(cols))
			for i, cname := range cols {
				col, ok := table.Column(cname)
				require.True(t, ok)
				switch col.Kind {
				case KindInt:
					values[i] = int64(i + 1)
				case KindFloat:
					values[i] = float64(i) + 0.5
				case KindString:
					values[i] = cname
				case KindBool:
					values[i] = int64(1)
				case KindTime:
					values[i] = now
				case KindJSON:
					values[i] = `{"k":"v"}`
				}
			}
			rec, err := table.Decode(datastore.Row{Columns: cols, Values: values})
			require.NoError(t, err)
			assert.Equal(t, name, rec.TableName())
			assert.Equal(t, int64(1), rec.RecordID())
		})
	}
}

func TestUserPasswordNeverSelected(t *testing.T) {
	assert.NotContains(t, UsersTable.Selectable(), "hashed_password")

	rec, err := DecodeUser(datastore.Row{
		Columns: []string{"id", "hashed_password", "email"},
		Values:  []interface{}{int64(1), "secret", "a@b.c"},
	})
	require.NoError(t, err)
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
}

func TestAdJSONColumns(t *testing.T) {
	rec, err := DecodeAd(datastore.Row{
		Columns: []string{"target_audience", "media_urls", "interests"},
		Values:  []interface{}{[]byte(`{"age":[18,35]}`), nil, map[string]interface{}{"tags": []string{"a"}}},
	})
	require.NoError(t, err)
	ad := rec.(Ad)
	assert.JSONEq(t, `{"age":[18,35]}`, string(ad.TargetAudience))
	assert.Nil(t, ad.MediaURLs)
	assert.JSONEq(t, `{"tags":["a"]}`, string(ad.Interests))

	_, err = DecodeAd(datastore.Row{Columns: []string{"demographics"}, Values: []interface{}{"{broken"}})
	assert.True(t, errors.IsType(err, errors.ErrorTypeDecode))
}

func TestColumnCoerce(t *testing.T) {
	tests := []struct {
		name    string
		column  Column
		in      interface{}
		want    interface{}
		wantErr bool
	}{
		{"int from float", Column{Name: "budget", Kind: KindInt}, float64(100), int64(100), false},
		{"int from fraction", Column{Name: "budget", Kind: KindInt}, 1.5, nil, true},
		{"int from number", Column{Name: "budget", Kind: KindInt}, json.Number("42"), int64(42), false},
		{"float from int", Column{Name: "spend", Kind: KindFloat}, int64(3), float64(3), false},
		{"string", Column{Name: "name", Kind: KindString}, "x", "x", false},
		{"string from number", Column{Name: "name", Kind: KindString}, float64(1), nil, true},
		{"bool", Column{Name: "is_active", Kind: KindBool}, false, false, false},
		{"time", Column{Name: "date", Kind: KindTime}, "2024-01-02T03:04:05Z", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), false},
		{"bad time", Column{Name: "date", Kind: KindTime}, "yesterday", nil, true},
		{"json object", Column{Name: "interests", Kind: KindJSON}, map[string]interface{}{"a": float64(1)}, `{"a":1}`, false},
		{"null", Column{Name: "bio", Kind: KindString}, nil, nil, false},
		{"in range", Column{Name: "priority", Kind: KindInt, Range: &Range{Min: 1, Max: 4}}, float64(4), int64(4), false},
		{"above range", Column{Name: "priority", Kind: KindInt, Range: &Range{Min: 1, Max: 4}}, float64(5), nil, true},
		{"below float range", Column{Name: "confidence", Kind: KindFloat, Range: &Range{Min: 0, Max: 1}}, -0.1, nil, true},
		{"null skips range", Column{Name: "priority", Kind: KindInt, Range: &Range{Min: 1, Max: 4}}, nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.column.Coerce(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConversions(t *testing.T) {
	n, err := Int64([]byte("17"))
	require.NoError(t, err)
	assert.Equal(t, int64(17), n)

	_, err = Int64(uint64(1 << 63))
	assert.Error(t, err)

	b, err := Bool("true")
	require.NoError(t, err)
	assert.True(t, b)

	f, err := Float64("2.25")
	require.NoError(t, err)
	assert.Equal(t, 2.25, f)

	ts, err := Time("2024-05-06")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC), ts)

	s, err := NullString(nil)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestMemoryStatistics(t *testing.T) {
	rec, err := DecodeMemoryTypeCount(datastore.Row{
		Columns: []string{"memory_type", "count", "importance_total"},
		Values:  []interface{}{"campaign_insight", int64(4), []byte("300")},
	})
	require.NoError(t, err)
	insight := rec.(MemoryTypeCount)
	assert.Equal(t, int64(300), insight.ImportanceTotal)

	rec, err = DecodeMemoryTypeCount(datastore.Row{
		Columns: []string{"memory_type", "count", "importance_total"},
		Values:  []interface{}{"user_preference", int64(0), nil},
	})
	require.NoError(t, err)
	empty := rec.(MemoryTypeCount)
	assert.Zero(t, empty.ImportanceTotal)

	stats := SummarizeMemories([]MemoryTypeCount{insight, empty})
	assert.Equal(t, int64(4), stats.TotalMemories)
	assert.Equal(t, MemoryTypeSummary{Count: 4, AvgImportance: 75}, stats.ByType["campaign_insight"])
	assert.Equal(t, MemoryTypeSummary{}, stats.ByType["user_preference"])

	data, err := json.Marshal(SummarizeMemories(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"total_memories":0,"by_type":{}}`, string(data))
}

func TestDecodeSession(t *testing.T) {
	started := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	rec, err := DecodeSession(datastore.Row{
		Columns: []string{"id", "user_id", "status", "output_data", "error_message", "retry_count", "max_retries", "started_at", "completed_at"},
		Values:  []interface{}{int64(9), int32(2), SessionFailed, []byte(`{"ads":1}`), "timeout", int64(1), int64(3), started, nil},
	})
	require.NoError(t, err)
	s := rec.(OrchestrationSession)
	assert.Equal(t, int64(2), s.UserID)
	assert.JSONEq(t, `{"ads":1}`, string(s.OutputData))
	require.NotNil(t, s.ErrorMessage)
	assert.Equal(t, "timeout", *s.ErrorMessage)
	require.NotNil(t, s.StartedAt)
	assert.Equal(t, started, *s.StartedAt)
	assert.Nil(t, s.CompletedAt)
	assert.Equal(t, "orchestration_sessions", s.TableName())
}
