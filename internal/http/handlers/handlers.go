// Package handlers exposes the attribution engine over the local agent API.
//
// Handlers are transport-thin: they validate and normalize input, call the
// engine through the service contracts below and translate results into
// HTTP responses.
package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-outcomes/internal/domain"
	"github.com/tbourn/go-outcomes/internal/influence"
	"github.com/tbourn/go-outcomes/internal/outcomes"
	"github.com/tbourn/go-outcomes/internal/utils"
)

//
// Service contracts (context-aware)
//

// SessionService receives the host app's delivery, open and focus signals.
// *influence.SessionManager implements it.
type SessionService interface {
	OnNotificationReceived(ctx context.Context, id string) error
	OnDirectInfluenceFromNotificationOpen(ctx context.Context, action domain.EntryAction, id string) error
	OnInAppMessageReceived(ctx context.Context, id string) error
	OnDirectInfluenceFromIAMClick(ctx context.Context, id string) error
	OnDirectInfluenceFromIAMClickFinished(ctx context.Context) error
	RestartSessionIfNeeded(ctx context.Context, action domain.EntryAction) error
	AttemptSessionUpgrade(ctx context.Context, action domain.EntryAction) error
	Influences(ctx context.Context) ([]domain.Influence, error)
	SessionAttribution(ctx context.Context) (map[string]any, error)
}

// OutcomeService reports outcomes and manages the queue of unsent ones.
// *outcomes.Controller implements it.
type OutcomeService interface {
	SendOutcome(ctx context.Context, name string) (outcomes.Result, error)
	SendOutcomeWithValue(ctx context.Context, name string, weight float64) (outcomes.Result, error)
	SendUniqueOutcome(ctx context.Context, name string) (outcomes.Result, error)
	SendSavedOutcomes(ctx context.Context) (outcomes.FlushResult, error)
	PendingPage(ctx context.Context, offset, limit int) ([]domain.OutcomeEventParams, int64, error)
}

// ParamsService persists server-delivered remote params.
// *influence.Params implements it.
type ParamsService interface {
	Save(ctx context.Context, rp influence.RemoteParams) error
}

//
// Handler wiring
//

// Handlers groups the agent endpoints.
type Handlers struct {
	sessions SessionService
	outcomes OutcomeService
	params   ParamsService
}

// New constructs Handlers bound to the given services.
func New(sessions SessionService, outcomes OutcomeService, params ParamsService) *Handlers {
	return &Handlers{sessions: sessions, outcomes: outcomes, params: params}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(p utils.Page, total int64) Pagination {
	totalPages := p.TotalPages(total)
	return Pagination{
		Page:       p.Number,
		PageSize:   p.Size,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    p.Number < totalPages,
	}
}

var pendingBounds = utils.PageBounds{DefaultSize: 50, MaxSize: 200}

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) utils.Page {
	return utils.ParsePage(c.Query("page"), c.Query("page_size"), pendingBounds)
}

// parseEntryAction reads an entry action, using def when raw is blank.
func parseEntryAction(raw string, def domain.EntryAction) (domain.EntryAction, bool) {
	if strings.TrimSpace(raw) == "" {
		return def, true
	}
	return domain.ParseEntryAction(raw)
}

const entryActionMessage = "entry_action must be one of APP_OPEN, APP_CLOSE, NOTIFICATION_CLICK, APP_OPEN_NORMAL"
