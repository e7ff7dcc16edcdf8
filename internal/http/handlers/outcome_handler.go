// Outcome reporting.
//
//   - POST /outcomes           (report a plain, valued or unique outcome)
//   - POST /outcomes/flush     (retry every queued outcome once)
//   - GET  /outcomes/pending   (list queued outcomes, paginated)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-outcomes/internal/domain"
	"github.com/tbourn/go-outcomes/internal/outcomes"
)

// OutcomeRequest reports one outcome. Weight and Unique are mutually exclusive.
type OutcomeRequest struct {
	Name   string   `json:"name" binding:"required"`
	Weight *float64 `json:"weight"`
	Unique bool     `json:"unique"`
}

// PendingOutcome is a queued event as stored.
type PendingOutcome struct {
	Name      string                `json:"name"`
	Weight    float64               `json:"weight,omitempty"`
	Timestamp int64                 `json:"timestamp"`
	Unique    bool                  `json:"unique"`
	Sources   *domain.OutcomeSource `json:"sources,omitempty"`
}

// ListPendingResponse is a page of queued outcomes.
type ListPendingResponse struct {
	Outcomes   []PendingOutcome `json:"outcomes"`
	Pagination Pagination       `json:"pagination"`
}

// ReportOutcome reports an outcome. It answers 202 when the outcome was
// queued for a later retry and 200 for every settled result.
//
//	POST /outcomes
//	Body: OutcomeRequest; weight and unique are mutually exclusive
//	200 outcomes.Result with status sent, duplicate or disabled
//	202 outcomes.Result with status queued and the failure reason
//	400 bad_request when name is blank, weight is not positive, or a
//	    unique outcome carries a weight
//	500 outcome_failed
func (h *Handlers) ReportOutcome(c *gin.Context) {
	ctx := c.Request.Context()

	var req OutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name required")
		return
	}
	if req.Unique && req.Weight != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unique outcomes cannot carry a weight")
		return
	}

	var (
		res outcomes.Result
		err error
	)
	switch {
	case req.Unique:
		res, err = h.outcomes.SendUniqueOutcome(ctx, req.Name)
	case req.Weight != nil:
		res, err = h.outcomes.SendOutcomeWithValue(ctx, req.Name, *req.Weight)
	default:
		res, err = h.outcomes.SendOutcome(ctx, req.Name)
	}
	if err != nil {
		failFor(c, err, ErrCodeOutcomeFailed)
		return
	}

	status := http.StatusOK
	if res.Status == outcomes.StatusQueued {
		status = http.StatusAccepted
	}
	ok(c, status, res)
}

// FlushOutcomes retries every queued outcome once.
//
//	POST /outcomes/flush
//	200 outcomes.FlushResult; 500 flush_failed.
func (h *Handlers) FlushOutcomes(c *gin.Context) {
	res, err := h.outcomes.SendSavedOutcomes(c.Request.Context())
	if err != nil {
		failFor(c, err, ErrCodeFlushFailed)
		return
	}
	ok(c, http.StatusOK, res)
}

// ListPending returns a page of queued outcomes, oldest first.
//
//	GET /outcomes/pending?page=1&page_size=50 (page_size capped at 200)
//	200 ListPendingResponse; 500 list_failed.
func (h *Handlers) ListPending(c *gin.Context) {
	page := clampPagination(c)

	items, total, err := h.outcomes.PendingPage(c.Request.Context(), page.Offset(), page.Size)
	if err != nil {
		failFor(c, err, ErrCodeListFailed)
		return
	}

	out := make([]PendingOutcome, 0, len(items))
	for _, p := range items {
		out = append(out, PendingOutcome{
			Name:      p.OutcomeID,
			Weight:    p.Weight,
			Timestamp: p.Timestamp,
			Unique:    p.Unique,
			Sources:   p.Source,
		})
	}
	ok(c, http.StatusOK, ListPendingResponse{
		Outcomes:   out,
		Pagination: newPagination(page, total),
	})
}
