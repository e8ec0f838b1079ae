package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/models"
	"github.com/ajitpratap0/brick2/pkg/repository"
)

// transition serves a POST that moves the record named by :id through fn
func (h *Handler) transition(fn func(ctx context.Context, id int64) (models.Record, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		rec, err := fn(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		respondJSON(c, http.StatusOK, rec)
	}
}

func bindFilter(c *gin.Context, filter interface{}) error {
	if err := c.ShouldBindQuery(filter); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "invalid query filter")
	}
	return nil
}

func (h *Handler) memoriesByUser(c *gin.Context) {
	id, err := parseID(c, "user_id")
	if err != nil {
		respondError(c, err)
		return
	}
	var filter repository.MemoryFilter
	if err := bindFilter(c, &filter); err != nil {
		respondError(c, err)
		return
	}
	page, err := parsePage(c)
	if err != nil {
		respondError(c, err)
		return
	}
	recs, err := h.store.Memories.ListByUser(c.Request.Context(), id, filter, page)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, records(recs))
}

func (h *Handler) memoriesByCampaign(c *gin.Context) {
	id, err := parseID(c, "campaign_id")
	if err != nil {
		respondError(c, err)
		return
	}
	page, err := parsePage(c)
	if err != nil {
		respondError(c, err)
		return
	}
	recs, err := h.store.Memories.ListForCampaign(c.Request.Context(), id, c.Query("memory_type"), page)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, records(recs))
}

func (h *Handler) searchMemories(c *gin.Context) {
	var filter repository.MemoryFilter
	if err := bindFilter(c, &filter); err != nil {
		respondError(c, err)
		return
	}
	page, err := parsePage(c)
	if err != nil {
		respondError(c, err)
		return
	}
	recs, err := h.store.Memories.Search(c.Request.Context(), c.Query("q"), filter, page)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, records(recs))
}

func (h *Handler) memoryStatistics(c *gin.Context) {
	var filter repository.MemoryFilter
	if err := bindFilter(c, &filter); err != nil {
		respondError(c, err)
		return
	}
	stats, err := h.store.Memories.Statistics(c.Request.Context(), filter.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, stats)
}

func (h *Handler) archiveExpiredMemories(c *gin.Context) {
	n, err := h.store.Memories.ArchiveExpired(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"archived": n})
}

func (h *Handler) sessionsByUser(c *gin.Context) {
	id, err := parseID(c, "user_id")
	if err != nil {
		respondError(c, err)
		return
	}
	var filter repository.SessionFilter
	if err := bindFilter(c, &filter); err != nil {
		respondError(c, err)
		return
	}
	page, err := parsePage(c)
	if err != nil {
		respondError(c, err)
		return
	}
	recs, err := h.store.Sessions.ListByUser(c.Request.Context(), id, filter, page)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, records(recs))
}

// completeSession accepts an optional {"output_data": ...} body
func (h *Handler) completeSession(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var output interface{}
	if c.Request.ContentLength != 0 {
		body, err := decodeBody(c)
		if err != nil {
			respondError(c, err)
			return
		}
		output = body["output_data"]
	}
	rec, err := h.store.Sessions.Complete(c.Request.Context(), id, output)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, rec)
}

func (h *Handler) failSession(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	body, err := decodeBody(c)
	if err != nil {
		respondError(c, err)
		return
	}
	msg, _ := body["error_message"].(string)
	rec, err := h.store.Sessions.Fail(c.Request.Context(), id, msg)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, rec)
}
