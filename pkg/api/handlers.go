package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ajitpratap0/brick2/internal/dispatcher"
	"github.com/ajitpratap0/brick2/pkg/dal"
	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/health"
	"github.com/ajitpratap0/brick2/pkg/json"
	"github.com/ajitpratap0/brick2/pkg/models"
	"github.com/ajitpratap0/brick2/pkg/performance"
	"github.com/ajitpratap0/brick2/pkg/pool"
	"github.com/ajitpratap0/brick2/pkg/repository"
)

// MaxBodyBytes bounds request bodies
const MaxBodyBytes = 1 << 20

// ServiceName is reported by the banner endpoint
const ServiceName = "BRICK 2 - Ad Orchestrator Backend"

// Dispatcher is the part of the dispatcher the handlers use
type Dispatcher interface {
	Dispatch(ctx context.Context, op *dal.Operation) (*dal.Result, error)
	Stats() dispatcher.Stats
	Snapshot() []dispatcher.RequestInfo
}

// HealthReporter reports the latest store probe
type HealthReporter interface {
	Status() health.Status
}

// Handler serves the REST resources
type Handler struct {
	store       *repository.Store
	dispatcher  Dispatcher
	health      HealthReporter
	version     string
	environment string
	logger      *zap.Logger
}

func respondJSON(c *gin.Context, status int, v interface{}) {
	buf, err := json.MarshalToBuffer(v)
	if err != nil {
		c.Data(http.StatusInternalServerError, "text/plain; charset=utf-8", []byte(http.StatusText(http.StatusInternalServerError)))
		return
	}
	defer json.ReleaseBuffer(buf)
	c.Data(status, "application/json; charset=utf-8", buf.Bytes())
}

func parseID(c *gin.Context, param string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id < 1 {
		return 0, errors.Newf(errors.ErrorTypeValidation, "%s must be a positive integer", param).
			WithDetail("field", param)
	}
	return id, nil
}

func parsePage(c *gin.Context) (repository.Page, error) {
	var page repository.Page
	if err := c.ShouldBindQuery(&page); err != nil {
		return page, errors.Wrap(err, errors.ErrorTypeValidation, "skip and limit must be integers")
	}
	return page.Normalize()
}

func decodeBody(c *gin.Context) (map[string]interface{}, error) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)
	var values map[string]interface{}
	if err := json.NewDecoder(body).Decode(&values); err != nil {
		if err == io.EOF {
			return nil, errors.New(errors.ErrorTypeValidation, "request body is empty")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "request body must be a JSON object")
	}
	if values == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "request body must be a JSON object")
	}
	return values, nil
}

func records(recs []models.Record) []models.Record {
	if recs == nil {
		return []models.Record{}
	}
	return recs
}

func (h *Handler) list(repo *repository.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, err := parsePage(c)
		if err != nil {
			respondError(c, err)
			return
		}
		recs, err := repo.List(c.Request.Context(), page)
		if err != nil {
			respondError(c, err)
			return
		}
		respondJSON(c, http.StatusOK, records(recs))
	}
}

// listBy serves a listing filtered on column = the path parameter
func (h *Handler) listBy(repo *repository.Repository, column, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseID(c, param)
		if err != nil {
			respondError(c, err)
			return
		}
		page, err := parsePage(c)
		if err != nil {
			respondError(c, err)
			return
		}
		recs, err := repo.ListBy(c.Request.Context(), column, id, page)
		if err != nil {
			respondError(c, err)
			return
		}
		respondJSON(c, http.StatusOK, records(recs))
	}
}

func (h *Handler) get(repo *repository.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		rec, err := repo.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		respondJSON(c, http.StatusOK, rec)
	}
}

func (h *Handler) count(repo *repository.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := repo.Count(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		respondJSON(c, http.StatusOK, gin.H{"count": n})
	}
}

func (h *Handler) create(repo *repository.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		values, err := decodeBody(c)
		if err != nil {
			respondError(c, err)
			return
		}
		switch repo.Table() {
		case models.UsersTable:
			hashPassword(values)
		case models.CampaignsTable:
			if err := checkCampaign(values); err != nil {
				respondError(c, err)
				return
			}
		}
		rec, err := repo.Create(c.Request.Context(), values)
		if err != nil {
			respondError(c, err)
			return
		}
		respondJSON(c, http.StatusCreated, rec)
	}
}

func (h *Handler) update(repo *repository.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		patch, err := decodeBody(c)
		if err != nil {
			respondError(c, err)
			return
		}
		if repo.Table() == models.UsersTable {
			hashPassword(patch)
		}
		rec, err := repo.Update(c.Request.Context(), id, patch)
		if err != nil {
			respondError(c, err)
			return
		}
		respondJSON(c, http.StatusOK, rec)
	}
}

func (h *Handler) remove(repo *repository.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		if err := repo.Delete(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// hashPassword replaces a plain "password" field with its digest
func hashPassword(values map[string]interface{}) {
	pw, ok := values["password"].(string)
	if !ok {
		return
	}
	delete(values, "password")
	sum := sha256.Sum256([]byte(pw))
	values["hashed_password"] = hex.EncodeToString(sum[:])
}

func (h *Handler) campaignByExternalID(c *gin.Context) {
	rec, err := h.store.Campaigns.GetByExternalID(c.Request.Context(), c.Param("external_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, rec)
}

func (h *Handler) root(c *gin.Context) {
	respondJSON(c, http.StatusOK, gin.H{
		"message": ServiceName,
		"version": h.version,
	})
}

func (h *Handler) healthCheck(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":      health.StatusHealthy,
		"version":     h.version,
		"environment": h.environment,
		"pool":        h.dispatcher.Stats().Pool,
	}
	if h.health != nil {
		s := h.health.Status()
		body["status"] = s.Status
		body["checks"] = s
		if !s.Healthy() {
			status = http.StatusServiceUnavailable
		}
	}
	respondJSON(c, status, body)
}

func (h *Handler) debugStats(c *gin.Context) {
	body := gin.H{
		"dispatcher": h.dispatcher.Stats(),
		"in_flight":  h.dispatcher.Snapshot(),
		"process":    performance.Snapshot(),
		"scan_pool":  pool.ValuesStats(),
	}
	if h.health != nil {
		body["health"] = h.health.Status()
	}
	respondJSON(c, http.StatusOK, body)
}
