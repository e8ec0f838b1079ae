package loadtest

import (
	"math/rand/v2"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ajitpratap0/brick2/pkg/dal"
	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/models"
	"github.com/ajitpratap0/brick2/pkg/repository"
)

// Scenario builds one load operation from the shared run state
type Scenario func(s *state, rng *rand.Rand) (*dal.Operation, error)

// Scenarios are the operations a mix can weight
var Scenarios = map[string]Scenario{
	"list_campaigns": func(s *state, rng *rand.Rand) (*dal.Operation, error) {
		return s.store.Campaigns.ListOp(repository.Page{Limit: 100})
	},
	"get_campaign": func(s *state, rng *rand.Rand) (*dal.Operation, error) {
		return s.store.Campaigns.GetOp(s.campaign(rng)), nil
	},
	"create_campaign": func(s *state, rng *rand.Rand) (*dal.Operation, error) {
		n := rng.IntN(1_000_000)
		return s.store.Campaigns.CreateOp(map[string]interface{}{
			"platform":     platforms[n%len(platforms)],
			"name":         "Load Campaign " + strconv.Itoa(n),
			"description":  "created by the load harness",
			"status":       "active",
			"budget":       int64(1000 + n%9000),
			"daily_budget": int64(100 + n%900),
			"start_date":   time.Now().UTC(),
			"owner_id":     s.ownerID,
		})
	},
	"list_ads": func(s *state, rng *rand.Rand) (*dal.Operation, error) {
		return s.store.Ads.ListByOp("campaign_id", s.campaign(rng), repository.Page{Limit: 50})
	},
	"create_ad": func(s *state, rng *rand.Rand) (*dal.Operation, error) {
		n := rng.IntN(1_000_000)
		return s.store.Ads.CreateOp(map[string]interface{}{
			"title":       "Load Ad " + strconv.Itoa(n),
			"content":     "Try it today",
			"ad_type":     adTypes[n%len(adTypes)],
			"campaign_id": s.campaign(rng),
			"bid_amount":  float64(n%500) / 100,
			"target_audience": map[string]interface{}{
				"age_range": []int{25, 45},
				"locations": []string{"US", "CA"},
			},
			"interests":  []string{"technology", "marketing"},
			"media_urls": []string{"https://cdn.example.com/" + strconv.Itoa(n) + ".png"},
		})
	},
	"list_performance": func(s *state, rng *rand.Rand) (*dal.Operation, error) {
		return s.store.Performances.ListByOp("campaign_id", s.campaign(rng), repository.Page{Limit: 100})
	},
	"list_leads": func(s *state, rng *rand.Rand) (*dal.Operation, error) {
		return s.store.Leads.ListByOp("campaign_id", s.campaign(rng), repository.Page{Limit: 100})
	},
	"create_lead": func(s *state, rng *rand.Rand) (*dal.Operation, error) {
		n := rng.IntN(1_000_000)
		return s.store.Leads.CreateOp(map[string]interface{}{
			"campaign_id": s.campaign(rng),
			"email":       "lead" + strconv.Itoa(n) + "@example.com",
			"first_name":  "Load",
			"last_name":   strconv.Itoa(n),
			"source":      "loadtest",
			"score":       int64(n % 100),
		})
	},
	"create_memory": func(s *state, rng *rand.Rand) (*dal.Operation, error) {
		n := rng.IntN(1_000_000)
		return s.store.Memories.CreateOp(map[string]interface{}{
			"user_id":          s.ownerID,
			"campaign_id":      s.campaign(rng),
			"memory_type":      memoryTypes[n%len(memoryTypes)],
			"title":            "Load insight " + strconv.Itoa(n),
			"content":          "observed by the load harness",
			"importance_score": int64(1 + n%100),
		})
	},
	"search_memories": func(s *state, rng *rand.Rand) (*dal.Operation, error) {
		return s.store.Memories.SearchOp("insight", repository.MemoryFilter{UserID: s.ownerID}, repository.Page{Limit: 20})
	},
	"start_session": func(s *state, rng *rand.Rand) (*dal.Operation, error) {
		return s.store.Sessions.StartOp(int64(1 + rng.IntN(1000))), nil
	},
}

var (
	memoryTypes = []string{models.MemoryCampaignInsight, models.MemoryUserPreference, models.MemoryPerformancePattern}
	platforms   = []string{"google_ads", "meta", "linkedin"}
	adTypes     = []string{"search", "display", "video"}
)

// state is shared by the workers of one run
type state struct {
	store   *repository.Store
	ownerID int64

	mu        sync.RWMutex
	campaigns []int64
	next      int
}

const maxTrackedCampaigns = 1024

func (s *state) campaign(rng *rand.Rand) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.campaigns[rng.IntN(len(s.campaigns))]
}

func (s *state) addCampaign(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.campaigns) < maxTrackedCampaigns {
		s.campaigns = append(s.campaigns, id)
		return
	}
	s.campaigns[s.next] = id
	s.next = (s.next + 1) % maxTrackedCampaigns
}

type weighted struct {
	name     string
	scenario Scenario
	cumul    int
}

// mix picks scenarios in proportion to their weights
type mix struct {
	entries []weighted
	total   int
}

func newMix(weights map[string]int) (*mix, error) {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	m := &mix{}
	for _, name := range names {
		w := weights[name]
		if w < 0 {
			return nil, errors.Newf(errors.ErrorTypeConfig, "mix weight for %s must not be negative", name)
		}
		sc, ok := Scenarios[name]
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeConfig, "unknown load operation %q", name)
		}
		if w == 0 {
			continue
		}
		m.total += w
		m.entries = append(m.entries, weighted{name: name, scenario: sc, cumul: m.total})
	}
	if m.total == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "load mix has no weighted operations")
	}
	return m, nil
}

func (m *mix) pick(rng *rand.Rand) weighted {
	n := rng.IntN(m.total)
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].cumul > n })
	return m.entries[i]
}

func (m *mix) names() []string {
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.name
	}
	return out
}
