// Session boundaries and attribution reads.
//
//   - POST /sessions              (restart or upgrade the session for an entry action)
//   - GET  /sessions/influences   (current influences and heartbeat annotation)
//   - PUT  /remote-params         (persist server-delivered attribution params)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-outcomes/internal/domain"
	"github.com/tbourn/go-outcomes/internal/influence"
)

// SessionRequest is a focus change of the host app. Upgrade keeps the
// current session and only promotes channels with new ids in window.
type SessionRequest struct {
	EntryAction string `json:"entry_action" binding:"required"`
	Upgrade     bool   `json:"upgrade"`
}

// InfluencesResponse is the attribution in effect.
type InfluencesResponse struct {
	Influences         []domain.Influence `json:"influences"`
	SessionAttribution map[string]any     `json:"session_attribution"`
}

// StartSession restarts (or upgrades) the session for an entry action and
// returns the resulting influences.
//
//	POST /sessions
//	Body: SessionRequest; upgrade=true only promotes UNATTRIBUTED channels
//	200 InfluencesResponse
//	400 invalid_entry_action when entry_action is missing or unknown
//	500 session_failed
func (h *Handlers) StartSession(c *gin.Context) {
	ctx := c.Request.Context()

	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidEntryAction, entryActionMessage)
		return
	}
	action, valid := domain.ParseEntryAction(req.EntryAction)
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeInvalidEntryAction, entryActionMessage)
		return
	}

	var err error
	if req.Upgrade {
		err = h.sessions.AttemptSessionUpgrade(ctx, action)
	} else {
		err = h.sessions.RestartSessionIfNeeded(ctx, action)
	}
	if err != nil {
		failFor(c, err, ErrCodeSessionFailed)
		return
	}
	h.writeInfluences(c)
}

// GetInfluences returns the influences outcomes are currently credited to.
//
//	GET /sessions/influences
//	200 InfluencesResponse; 500 session_failed.
func (h *Handlers) GetInfluences(c *gin.Context) {
	h.writeInfluences(c)
}

func (h *Handlers) writeInfluences(c *gin.Context) {
	ctx := c.Request.Context()
	infl, err := h.sessions.Influences(ctx)
	if err != nil {
		failFor(c, err, ErrCodeSessionFailed)
		return
	}
	attr, err := h.sessions.SessionAttribution(ctx)
	if err != nil {
		failFor(c, err, ErrCodeSessionFailed)
		return
	}
	if attr == nil {
		attr = map[string]any{}
	}
	ok(c, http.StatusOK, InfluencesResponse{Influences: infl, SessionAttribution: attr})
}

// PutRemoteParams persists remote params; they take precedence over the
// configured defaults from then on.
//
//	PUT /remote-params
//	Body: influence.RemoteParams
//	204 on success
//	400 bad_request when the body is not JSON
//	400 invalid_params when a limit or window fails validation
//	500 params_failed
func (h *Handlers) PutRemoteParams(c *gin.Context) {
	var req influence.RemoteParams
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid remote params body")
		return
	}
	if err := h.params.Save(c.Request.Context(), req); err != nil {
		failFor(c, err, ErrCodeParamsFailed)
		return
	}
	noContent(c)
}
