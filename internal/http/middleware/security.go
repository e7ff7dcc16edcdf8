package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderOptions configures the response headers set by APIHeaders.
//
// NoStore marks responses as uncacheable. Influence and pending-outcome
// answers describe live engine state, so the agent API sets it.
type HeaderOptions struct {
	NoStore bool
}

// APIHeaders sets baseline hardening headers on every response and exposes
// the correlation headers to browser clients.
func APIHeaders(opt HeaderOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
		}

		exposeHeader(c, requestIDHeader)
		if DeviceIDFrom(c) != "" {
			exposeHeader(c, deviceIDHeader)
		}
		c.Next()
	}
}

// exposeHeader appends name to Access-Control-Expose-Headers once.
func exposeHeader(c *gin.Context, name string) {
	const hdr = "Access-Control-Expose-Headers"
	h := c.Writer.Header()
	cur := h.Get(hdr)
	switch {
	case cur == "":
		h.Set(hdr, name)
	case !containsToken(cur, name):
		h.Set(hdr, cur+", "+name)
	}
}

func containsToken(list, name string) bool {
	for _, part := range strings.Split(list, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return true
		}
	}
	return false
}
