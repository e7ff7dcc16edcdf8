// Delivery and interaction signals.
//
//   - POST /notifications/received      (record a delivered notification)
//   - POST /notifications/opened        (credit a tapped notification directly)
//   - POST /iams/received               (record a displayed in-app message)
//   - POST /iams/clicked                (credit a clicked in-app message directly)
//   - POST /iams/click-finished         (end the direct in-app-message credit)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-outcomes/internal/domain"
)

// MessageSignalRequest identifies one notification or in-app message.
type MessageSignalRequest struct {
	ID string `json:"id" binding:"required"`
}

// NotificationOpenedRequest is a notification tap. EntryAction defaults to
// NOTIFICATION_CLICK and must be a tap-driven action.
type NotificationOpenedRequest struct {
	ID          string `json:"id" binding:"required"`
	EntryAction string `json:"entry_action"`
}

func bindMessageID(c *gin.Context) (string, bool) {
	var req MessageSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id required")
		return "", false
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id required")
		return "", false
	}
	return id, true
}

// NotificationReceived records a delivered notification id.
//
//	POST /notifications/received
//	Body: MessageSignalRequest
//	204 on success; 400 bad_request when id is blank; 500 signal_failed.
func (h *Handlers) NotificationReceived(c *gin.Context) {
	id, valid := bindMessageID(c)
	if !valid {
		return
	}
	if err := h.sessions.OnNotificationReceived(c.Request.Context(), id); err != nil {
		failFor(c, err, ErrCodeSignalFailed)
		return
	}
	noContent(c)
}

// NotificationOpened credits a tapped notification directly and upgrades
// the remaining channels.
//
//	POST /notifications/opened
//	Body: NotificationOpenedRequest; entry_action defaults to NOTIFICATION_CLICK
//	204 on success
//	400 bad_request when id is blank
//	400 invalid_entry_action unless the action is APP_OPEN or NOTIFICATION_CLICK
//	500 signal_failed
func (h *Handlers) NotificationOpened(c *gin.Context) {
	var req NotificationOpenedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id required")
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id required")
		return
	}
	action, valid := parseEntryAction(req.EntryAction, domain.EntryNotificationClick)
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeInvalidEntryAction, entryActionMessage)
		return
	}
	if !action.IsNotificationTap() {
		fail(c, http.StatusBadRequest, ErrCodeInvalidEntryAction, "entry_action must be APP_OPEN or NOTIFICATION_CLICK")
		return
	}
	if err := h.sessions.OnDirectInfluenceFromNotificationOpen(c.Request.Context(), action, id); err != nil {
		failFor(c, err, ErrCodeSignalFailed)
		return
	}
	noContent(c)
}

// IAMReceived records a displayed in-app message id.
//
//	POST /iams/received
//	Body: MessageSignalRequest
//	204 on success; 400 bad_request when id is blank; 500 signal_failed.
func (h *Handlers) IAMReceived(c *gin.Context) {
	id, valid := bindMessageID(c)
	if !valid {
		return
	}
	if err := h.sessions.OnInAppMessageReceived(c.Request.Context(), id); err != nil {
		failFor(c, err, ErrCodeSignalFailed)
		return
	}
	noContent(c)
}

// IAMClicked credits a clicked in-app message directly.
//
//	POST /iams/clicked
//	Body: MessageSignalRequest
//	204 on success; 400 bad_request when id is blank; 500 signal_failed.
func (h *Handlers) IAMClicked(c *gin.Context) {
	id, valid := bindMessageID(c)
	if !valid {
		return
	}
	if err := h.sessions.OnDirectInfluenceFromIAMClick(c.Request.Context(), id); err != nil {
		failFor(c, err, ErrCodeSignalFailed)
		return
	}
	noContent(c)
}

// IAMClickFinished ends the direct in-app-message credit.
//
//	POST /iams/click-finished (no body)
//	204 on success; 500 signal_failed.
func (h *Handlers) IAMClickFinished(c *gin.Context) {
	if err := h.sessions.OnDirectInfluenceFromIAMClickFinished(c.Request.Context()); err != nil {
		failFor(c, err, ErrCodeSignalFailed)
		return
	}
	noContent(c)
}
