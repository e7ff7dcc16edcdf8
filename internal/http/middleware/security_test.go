package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestAPIHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, tc := range []struct {
		name      string
		opt       HeaderOptions
		device    string
		preExpose string
		noStore   bool
		expose    string
	}{
		{name: "baseline", expose: "X-Request-ID"},
		{name: "no-store", opt: HeaderOptions{NoStore: true}, noStore: true, expose: "X-Request-ID"},
		{name: "device", device: "dev-1", expose: "X-Request-ID, X-Device-ID"},
		{name: "keeps existing", preExpose: "Retry-After, x-request-id", expose: "Retry-After, x-request-id"},
	} {
		r := gin.New()
		r.Use(RequestID(), DeviceID())
		if tc.preExpose != "" {
			r.Use(func(c *gin.Context) {
				c.Header("Access-Control-Expose-Headers", tc.preExpose)
				c.Next()
			})
		}
		r.Use(APIHeaders(tc.opt))
		r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if tc.device != "" {
			req.Header.Set("X-Device-ID", tc.device)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		h := w.Header()
		if h.Get("X-Content-Type-Options") != "nosniff" || h.Get("X-Frame-Options") != "DENY" {
			t.Fatalf("%s: missing baseline headers: %v", tc.name, h)
		}
		if got := h.Get("Cache-Control") == "no-store"; got != tc.noStore {
			t.Fatalf("%s: Cache-Control=%q", tc.name, h.Get("Cache-Control"))
		}
		if got := h.Get("Access-Control-Expose-Headers"); got != tc.expose {
			t.Fatalf("%s: expose=%q want %q", tc.name, got, tc.expose)
		}
	}
}
