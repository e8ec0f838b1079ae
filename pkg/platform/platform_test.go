package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/models"
)

func TestLookup(t *testing.T) {
	r, ok := Lookup(" LinkedIn ")
	require.True(t, ok)
	assert.Equal(t, "LinkedIn", r.Name)

	_, ok = Lookup("google_ads")
	assert.False(t, ok)

	_, err := Get("tiktok")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	assert.Equal(t, []string{"Facebook", "Google", "LinkedIn"}, Supported())
}

func TestValidateCampaignBudgets(t *testing.T) {
	tests := []struct {
		platform string
		values   map[string]interface{}
		errs     int
	}{
		{"google", map[string]interface{}{"budget": int64(1000), "daily_budget": int64(100)}, 0},
		{"google", map[string]interface{}{"budget": int64(999)}, 1},
		{"google", map[string]interface{}{"budget": float64(500), "daily_budget": float64(99)}, 2},
		{"facebook", map[string]interface{}{"budget": int64(100), "daily_budget": int64(1)}, 0},
		{"facebook", map[string]interface{}{"budget": int64(99)}, 1},
		{"linkedin", map[string]interface{}{"budget": int64(999)}, 1},
		{"linkedin", map[string]interface{}{}, 0},
	}

	for _, tt := range tests {
		r, _ := Lookup(tt.platform)
		v := r.ValidateCampaign(tt.values, nil)
		assert.Len(t, v.Errors, tt.errs, "%s %v", tt.platform, tt.values)
		assert.Equal(t, tt.errs == 0, v.Valid)
		assert.Equal(t, tt.errs == 0, v.Err() == nil)
	}

	r, _ := Lookup("google")
	v := r.ValidateCampaign(map[string]interface{}{"budget": int64(250)}, nil)
	assert.Equal(t, []string{"Google minimum budget is $10.00"}, v.Errors)
}

func TestCampaignOptions(t *testing.T) {
	r, _ := Lookup("facebook")

	v := r.ValidateCampaign(nil, map[string]interface{}{"buying_type": "reserved"})
	require.True(t, v.Valid, v.Errors)
	assert.Equal(t, "traffic", v.Settings["campaign_objective"])
	assert.Equal(t, "reserved", v.Settings["buying_type"])
	assert.Contains(t, v.Settings, "facebook_ad_account_id")

	v = r.ValidateCampaign(nil, map[string]interface{}{"campaign_objective": "fame", "colour": "red", "age": 3})
	assert.False(t, v.Valid)
	require.Len(t, v.Errors, 3)
	assert.Contains(t, v.Errors[0], "campaign_objective")
	assert.Equal(t, `unknown field "age" for Facebook`, v.Errors[1])
	assert.Equal(t, `unknown field "colour" for Facebook`, v.Errors[2])

	err := v.Err()
	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "Facebook", e.Details["platform"])
	assert.Equal(t, v.Errors, e.Details["errors"])
}

func TestValidateAd(t *testing.T) {
	r, _ := Lookup("google")

	v := r.ValidateAd(map[string]interface{}{
		"ad_type":     "responsive_search",
		"title":       "A headline well over thirty characters",
		"description": "short",
		"bid_type":    "target_cpa",
	}, map[string]interface{}{"keywords": []string{"shoes"}})
	assert.True(t, v.Valid, v.Errors)
	assert.Equal(t, []string{"Google headlines should be 30 characters or less"}, v.Warnings)
	assert.Equal(t, []string{"shoes"}, v.Settings["keywords"])

	v = r.ValidateAd(map[string]interface{}{"ad_type": "carousel", "bid_type": "oCPM"}, nil)
	assert.False(t, v.Valid)
	assert.Len(t, v.Errors, 2)

	v = r.ValidateAd(map[string]interface{}{}, nil)
	assert.False(t, v.Valid, "ad_type is required")
}

func TestSplit(t *testing.T) {
	columns, extra := Split(models.CampaignsTable, map[string]interface{}{
		"name": "Launch", "budget": int64(5000), "campaign_type": "video",
	})
	assert.Equal(t, map[string]interface{}{"name": "Launch", "budget": int64(5000)}, columns)
	assert.Equal(t, map[string]interface{}{"campaign_type": "video"}, extra)
}
