// Package platform holds the per-network rules applied when campaigns and
// ads are created for an advertising platform.
//
// Each platform is a Rules value in a registry keyed by lower-case name.
package platform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/models"
)

// Option is a platform-specific setting with its default
type Option struct {
	Name    string
	Default interface{}
	// Allowed, when set, restricts string values
	Allowed []string
}

// Rules describes one advertising platform. Budgets are in cents.
type Rules struct {
	Name           string
	MinBudget      int64
	MinDailyBudget int64
	// CampaignOptions are the campaign settings stored outside the
	// campaigns table
	CampaignOptions []Option
	AdTypes         []string
	BidTypes        []string
	// TitleLimit and DescriptionLimit produce warnings, not errors
	TitleLimit       int
	DescriptionLimit int
	AdOptions        []Option
}

// Validation is the outcome of checking a campaign or ad for a platform
type Validation struct {
	Platform string                 `json:"platform"`
	Valid    bool                   `json:"valid"`
	Errors   []string               `json:"errors"`
	Warnings []string               `json:"warnings"`
	Settings map[string]interface{} `json:"platform_specific"`
}

func (v *Validation) fail(format string, args ...interface{}) {
	v.Valid = false
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

func (v *Validation) warn(format string, args ...interface{}) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

// Err returns nil for a valid result, otherwise a validation error
// carrying the messages
func (v *Validation) Err() error {
	if v.Valid {
		return nil
	}
	return errors.Newf(errors.ErrorTypeValidation, "%s rejected the request: %s", v.Platform, strings.Join(v.Errors, "; ")).
		WithDetail("platform", v.Platform).
		WithDetail("errors", v.Errors)
}

var registry = map[string]*Rules{
	"google": {
		Name:           "Google",
		MinBudget:      1000,
		MinDailyBudget: 100,
		CampaignOptions: []Option{
			{Name: "google_ads_account_id"},
			{Name: "campaign_type", Default: "search", Allowed: []string{"search", "display", "video", "shopping", "app", "smart"}},
			{Name: "bidding_strategy", Default: "manual_cpc"},
		},
		AdTypes:          []string{"search", "display", "video", "shopping", "app", "responsive_search", "responsive_display"},
		BidTypes:         []string{"cpc", "cpm", "cpa", "target_cpa", "target_roas", "maximize_clicks", "maximize_conversions"},
		TitleLimit:       30,
		DescriptionLimit: 90,
		AdOptions: []Option{
			{Name: "ad_group_id"},
			{Name: "final_urls"},
			{Name: "headlines"},
			{Name: "descriptions"},
			{Name: "keywords"},
		},
	},
	"facebook": {
		Name:      "Facebook",
		MinBudget: 100,
		CampaignOptions: []Option{
			{Name: "facebook_ad_account_id"},
			{Name: "campaign_objective", Default: "traffic", Allowed: []string{
				"awareness", "traffic", "engagement", "leads", "app_promotion",
				"sales", "reach", "store_visits", "video_views", "messages",
			}},
			{Name: "buying_type", Default: "auction"},
			{Name: "special_ad_categories"},
		},
		AdTypes:          []string{"image", "video", "carousel", "collection", "slideshow", "canvas", "dynamic_product"},
		BidTypes:         []string{"cpc", "cpm", "cpa", "oCPM", "oCPC", "lowest_cost", "cost_cap", "bid_cap"},
		TitleLimit:       27,
		DescriptionLimit: 125,
		AdOptions: []Option{
			{Name: "ad_set_id"},
			{Name: "creative_id"},
			{Name: "call_to_action", Default: "learn_more"},
			{Name: "image_hash"},
			{Name: "video_id"},
		},
	},
	"linkedin": {
		Name:      "LinkedIn",
		MinBudget: 1000,
		CampaignOptions: []Option{
			{Name: "linkedin_ad_account_id"},
			{Name: "campaign_format", Default: "single_image", Allowed: []string{"single_image", "carousel", "video", "text", "follower", "spotlight"}},
			{Name: "campaign_group_id"},
			{Name: "unit_cost"},
		},
		AdTypes:          []string{"single_image", "carousel", "video", "text", "follower", "spotlight", "message"},
		BidTypes:         []string{"cpc", "cpm", "cpa", "auto_bid", "manual_bid"},
		TitleLimit:       150,
		DescriptionLimit: 70,
		AdOptions: []Option{
			{Name: "creative_id"},
			{Name: "sponsored_content"},
			{Name: "call_to_action", Default: "learn_more"},
			{Name: "company_page_id"},
			{Name: "text"},
		},
	},
}

// Lookup returns the rules for a platform name, ignoring case
func Lookup(name string) (*Rules, bool) {
	r, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	return r, ok
}

// Get is Lookup returning a validation error for unknown platforms
func Get(name string) (*Rules, error) {
	r, ok := Lookup(name)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "unsupported platform %q", name).
			WithDetail("platform", name).
			WithDetail("supported", Supported())
	}
	return r, nil
}

// Supported lists the canonical platform names
func Supported() []string {
	names := make([]string, 0, len(registry))
	for _, r := range registry {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}

// Split separates the values naming columns of table from the rest
func Split(table *models.Table, values map[string]interface{}) (columns, extra map[string]interface{}) {
	columns = make(map[string]interface{}, len(values))
	extra = make(map[string]interface{})
	for k, v := range values {
		if _, ok := table.Column(k); ok {
			columns[k] = v
		} else {
			extra[k] = v
		}
	}
	return columns, extra
}

// ValidateCampaign checks campaign column values and platform settings
func (r *Rules) ValidateCampaign(values, settings map[string]interface{}) *Validation {
	v := r.result()
	if budget, ok := cents(values["budget"]); ok && budget < r.MinBudget {
		v.fail("%s minimum budget is %s", r.Name, dollars(r.MinBudget))
	}
	if r.MinDailyBudget > 0 {
		if daily, ok := cents(values["daily_budget"]); ok && daily < r.MinDailyBudget {
			v.fail("%s minimum daily budget is %s", r.Name, dollars(r.MinDailyBudget))
		}
	}
	r.applyOptions(v, r.CampaignOptions, settings)
	return v
}

// ValidateAd checks ad column values and platform settings
func (r *Rules) ValidateAd(values, settings map[string]interface{}) *Validation {
	v := r.result()
	adType, _ := values["ad_type"].(string)
	if !contains(r.AdTypes, adType) {
		v.fail("invalid %s ad type %q, must be one of %s", r.Name, adType, strings.Join(r.AdTypes, ", "))
	}
	if title, ok := values["title"].(string); ok && len(title) > r.TitleLimit {
		v.warn("%s headlines should be %d characters or less", r.Name, r.TitleLimit)
	}
	if desc, ok := values["description"].(string); ok && len(desc) > r.DescriptionLimit {
		v.warn("%s descriptions should be %d characters or less", r.Name, r.DescriptionLimit)
	}
	if bid, ok := values["bid_type"].(string); ok && bid != "" && !contains(r.BidTypes, bid) {
		v.fail("invalid %s bid type %q, must be one of %s", r.Name, bid, strings.Join(r.BidTypes, ", "))
	}
	r.applyOptions(v, r.AdOptions, settings)
	return v
}

func (r *Rules) result() *Validation {
	return &Validation{Platform: r.Name, Valid: true, Errors: []string{}, Warnings: []string{}, Settings: map[string]interface{}{}}
}

// applyOptions copies known settings with their defaults. Unknown keys fail
// the validation.
func (r *Rules) applyOptions(v *Validation, opts []Option, settings map[string]interface{}) {
	known := make(map[string]bool, len(opts))
	for _, o := range opts {
		known[o.Name] = true
		val, ok := settings[o.Name]
		if !ok || val == nil {
			val = o.Default
		}
		if len(o.Allowed) > 0 {
			if s, _ := val.(string); !contains(o.Allowed, s) {
				v.fail("invalid %s %s %v, must be one of %s", r.Name, o.Name, val, strings.Join(o.Allowed, ", "))
			}
		}
		v.Settings[o.Name] = val
	}

	var unknown []string
	for k := range settings {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		v.fail("unknown field %q for %s", k, r.Name)
	}
}

func dollars(c int64) string {
	return fmt.Sprintf("$%d.%02d", c/100, c%100)
}

func cents(v interface{}) (int64, bool) {
	if v == nil {
		return 0, false
	}
	n, err := models.Int64(v)
	return n, err == nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
