package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-outcomes/internal/influence"
	"github.com/tbourn/go-outcomes/internal/outcomes"
)

// newScopedRouter simulates RequestID + Logger by setting the header and a
// request-scoped logger writing to the returned buffer.
func newScopedRouter(rid string) (*gin.Engine, *bytes.Buffer) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Set("logger", &logger)
		c.Next()
	})
	return r, &buf
}

func Test_fail_LogLevelFollowsStatus(t *testing.T) {
	r, buf := newScopedRouter("rid-1")
	r.GET("/boom", func(c *gin.Context) {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "kaboom")
	})
	r.GET("/bad", func(c *gin.Context) {
		Fail(c, http.StatusBadRequest, ErrCodeBadRequest, "nope")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.RequestID != "rid-1" || resp.Code != ErrCodeInternal || resp.Message != "kaboom" {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("expected error log, got: %s", buf.String())
	}

	buf.Reset()
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bad", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(buf.String(), `"level":"debug"`) || strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("expected debug log only, got: %s", buf.String())
	}
}

func Test_SuccessHelpers(t *testing.T) {
	r, _ := newScopedRouter("rid-2")
	r.GET("/ok", func(c *gin.Context) { ok(c, http.StatusAccepted, gin.H{"status": "queued"}) })
	r.POST("/none", func(c *gin.Context) { noContent(c) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Code != http.StatusAccepted || !strings.Contains(w.Body.String(), `"queued"`) {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/none", nil))
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Fatalf("status=%d len=%d", w.Code, w.Body.Len())
	}
}

func Test_failFor_Mapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{influence.ErrEmptyID, http.StatusBadRequest, ErrCodeBadRequest},
		{fmt.Errorf("wrapped: %w", outcomes.ErrEmptyOutcomeName), http.StatusBadRequest, ErrCodeBadRequest},
		{outcomes.ErrInvalidWeight, http.StatusBadRequest, ErrCodeBadRequest},
		{influence.ErrInvalidParams, http.StatusBadRequest, ErrCodeInvalidParams},
		{fmt.Errorf("open: %w", influence.ErrNotDirectOpen), http.StatusBadRequest, ErrCodeInvalidEntryAction},
		{errors.New("io"), http.StatusInternalServerError, ErrCodeListFailed},
	}
	for _, tc := range cases {
		r, _ := newScopedRouter("rid")
		r.GET("/", func(c *gin.Context) { failFor(c, tc.err, ErrCodeListFailed) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != tc.status {
			t.Fatalf("%v: status=%d want %d", tc.err, w.Code, tc.status)
		}
		var er ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
			t.Fatalf("json: %v", err)
		}
		if er.Code != tc.code {
			t.Fatalf("%v: code=%q want %q", tc.err, er.Code, tc.code)
		}
	}
}
