package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoutes(t *testing.T) {
	s := newTestServer(t, testOptions{})

	w := s.do(http.MethodGet, "/api/v1/memories/user/7?memory_type=campaign_insight&limit=4", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	list := decodeList(t, w)
	require.Len(t, list, 4)
	for _, m := range list {
		assert.Equal(t, float64(7), m["user_id"])
	}

	w = s.do(http.MethodGet, "/api/v1/memories/campaign/3?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(3), decodeList(t, w)[0]["campaign_id"])

	w = s.do(http.MethodGet, "/api/v1/memories/search?q=weekend&limit=3", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decodeList(t, w), 3)

	w = s.do(http.MethodGet, "/api/v1/memories/statistics?user_id=3", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stats := decodeObject(t, w)
	assert.Equal(t, float64(60), stats["total_memories"])
	assert.Len(t, stats["by_type"], 3)

	w = s.do(http.MethodPost, "/api/v1/memories/12/access", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(12), decodeObject(t, w)["id"])

	for _, action := range []string{"archive", "activate"} {
		w = s.do(http.MethodPost, "/api/v1/memories/12/"+action, "")
		require.Equal(t, http.StatusOK, w.Code, action)
	}

	w = s.do(http.MethodPost, "/api/v1/memories/cleanup", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), decodeObject(t, w)["archived"])

	w = s.do(http.MethodPost, "/api/v1/memories", `{"user_id":1,"memory_type":"campaign_insight","title":"t","content":"c"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeObject(t, w)
	assert.Equal(t, float64(50), created["importance_score"])
	assert.Equal(t, true, created["is_active"])
}

func TestMemoryRouteValidation(t *testing.T) {
	s := newTestServer(t, testOptions{})

	for _, path := range []string{
		"/api/v1/memories/search",
		"/api/v1/memories/search?q=%20",
		"/api/v1/memories/statistics?user_id=many",
		"/api/v1/memories/user/abc",
	} {
		w := s.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}

	w := s.do(http.MethodPost, "/api/v1/memories", `{"user_id":1,"memory_type":"x","title":"t","content":"c","importance_score":500}`)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, "importance_score", decodeObject(t, w)["details"].(map[string]interface{})["field"])
}

func TestSessionRoutes(t *testing.T) {
	s := newTestServer(t, testOptions{})

	w := s.do(http.MethodPost, "/api/v1/orchestration-sessions", `{"user_id":1,"session_type":"analysis","status":"failed"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeObject(t, w)
	assert.Equal(t, "pending", created["status"])
	assert.Equal(t, float64(0), created["retry_count"])

	for _, action := range []string{"start", "retry", "complete"} {
		w = s.do(http.MethodPost, "/api/v1/orchestration-sessions/5/"+action, "")
		require.Equal(t, http.StatusOK, w.Code, action+": "+w.Body.String())
		assert.Equal(t, float64(5), decodeObject(t, w)["id"])
	}

	w = s.do(http.MethodPost, "/api/v1/orchestration-sessions/5/complete", `{"output_data":{"ads_created":2}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/v1/orchestration-sessions/5/fail", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	w = s.do(http.MethodPost, "/api/v1/orchestration-sessions/5/fail", `{"error_message":"quota exceeded"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/api/v1/orchestration-sessions/user/3?status=pending&limit=2", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	list := decodeList(t, w)
	require.Len(t, list, 2)
	assert.Equal(t, float64(3), list[0]["user_id"])

	w = s.do(http.MethodGet, "/api/v1/orchestration-sessions/campaign/8?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(8), decodeList(t, w)[0]["campaign_id"])

	w = s.do(http.MethodPost, "/api/v1/orchestration-sessions", `{"user_id":1,"session_type":"analysis","priority":7}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlatformRoutes(t *testing.T) {
	s := newTestServer(t, testOptions{})

	w := s.do(http.MethodGet, "/api/v1/platforms", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"Facebook", "Google", "LinkedIn"}, decodeObject(t, w)["platforms"])

	w = s.do(http.MethodPost, "/api/v1/platforms/google/campaigns/validate", `{"name":"x","budget":500,"campaign_type":"radio"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	v := decodeObject(t, w)
	assert.Equal(t, false, v["valid"])
	assert.Len(t, v["errors"], 2)

	w = s.do(http.MethodPost, "/api/v1/platforms/tiktok/campaigns/validate", `{"name":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/v1/platforms/Facebook/campaigns", `{"name":"Launch","owner_id":2,"budget":5000}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeObject(t, w)
	assert.Equal(t, "facebook", body["record"].(map[string]interface{})["platform"])
	settings := body["validation"].(map[string]interface{})["platform_specific"].(map[string]interface{})
	assert.Equal(t, "traffic", settings["campaign_objective"])

	w = s.do(http.MethodPost, "/api/v1/platforms/google/campaigns", `{"name":"x","owner_id":2,"budget":500}`)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, "Google", decodeObject(t, w)["details"].(map[string]interface{})["platform"])

	long := strings.Repeat("d", 80)
	w = s.do(http.MethodPost, "/api/v1/platforms/linkedin/ads", `{"title":"Hiring","ad_type":"carousel","campaign_id":3,"description":"`+long+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Len(t, decodeObject(t, w)["validation"].(map[string]interface{})["warnings"], 1)

	w = s.do(http.MethodPost, "/api/v1/platforms/linkedin/ads", `{"title":"x","ad_type":"banner","campaign_id":3}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/v1/platforms/linkedin/ads/validate", `{"title":"x","ad_type":"video","cta":"go"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, decodeObject(t, w)["valid"])
}

func TestCampaignCreateAppliesPlatformRules(t *testing.T) {
	s := newTestServer(t, testOptions{})

	w := s.do(http.MethodPost, "/api/v1/campaigns", `{"platform":"google","name":"Tiny","owner_id":1,"budget":500}`)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, "validation", decodeObject(t, w)["error"])

	w = s.do(http.MethodPost, "/api/v1/campaigns", `{"platform":"google","name":"Daily","owner_id":1,"budget":5000,"daily_budget":50}`)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/v1/campaigns", `{"platform":"meta","name":"Tiny","owner_id":1,"budget":500}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}
