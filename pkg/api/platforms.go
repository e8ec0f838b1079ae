package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ajitpratap0/brick2/pkg/models"
	"github.com/ajitpratap0/brick2/pkg/platform"
	"github.com/ajitpratap0/brick2/pkg/repository"
)

// checkCampaign applies the platform rules when values name a known
// platform. Other platforms pass unchecked.
func checkCampaign(values map[string]interface{}) error {
	name, _ := values["platform"].(string)
	rules, ok := platform.Lookup(name)
	if !ok {
		return nil
	}
	return rules.ValidateCampaign(values, nil).Err()
}

func (h *Handler) listPlatforms(c *gin.Context) {
	respondJSON(c, http.StatusOK, gin.H{"platforms": platform.Supported()})
}

// platformRequest resolves :platform and splits the body into table
// columns and platform settings
func platformRequest(c *gin.Context, table *models.Table) (*platform.Rules, map[string]interface{}, map[string]interface{}, error) {
	rules, err := platform.Get(c.Param("platform"))
	if err != nil {
		return nil, nil, nil, err
	}
	body, err := decodeBody(c)
	if err != nil {
		return nil, nil, nil, err
	}
	columns, settings := platform.Split(table, body)
	return rules, columns, settings, nil
}

func (h *Handler) validatePlatformCampaign(c *gin.Context) {
	rules, columns, settings, err := platformRequest(c, models.CampaignsTable)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, rules.ValidateCampaign(columns, settings))
}

func (h *Handler) validatePlatformAd(c *gin.Context) {
	rules, columns, settings, err := platformRequest(c, models.AdsTable)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, rules.ValidateAd(columns, settings))
}

func (h *Handler) createPlatformCampaign(c *gin.Context) {
	rules, columns, settings, err := platformRequest(c, models.CampaignsTable)
	if err != nil {
		respondError(c, err)
		return
	}
	columns["platform"] = strings.ToLower(rules.Name)
	h.createChecked(c, h.store.Campaigns.Repository, columns, rules.ValidateCampaign(columns, settings))
}

func (h *Handler) createPlatformAd(c *gin.Context) {
	rules, columns, settings, err := platformRequest(c, models.AdsTable)
	if err != nil {
		respondError(c, err)
		return
	}
	h.createChecked(c, h.store.Ads, columns, rules.ValidateAd(columns, settings))
}

// createChecked creates the record when v is valid and reports it with the
// resolved platform settings and warnings
func (h *Handler) createChecked(c *gin.Context, repo *repository.Repository, columns map[string]interface{}, v *platform.Validation) {
	if err := v.Err(); err != nil {
		respondError(c, err)
		return
	}
	rec, err := repo.Create(c.Request.Context(), columns)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, gin.H{
		"record":     rec,
		"validation": v,
	})
}
