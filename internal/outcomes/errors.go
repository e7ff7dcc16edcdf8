package outcomes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/tbourn/go-outcomes/internal/restclient"
)

var (
	// ErrNetworkFailure means no response was received; the event stays queued.
	ErrNetworkFailure = eris.New("network failure")

	// ErrEmptyOutcomeName is returned when the outcome name is blank.
	ErrEmptyOutcomeName = eris.New("outcome name is empty")

	// ErrInvalidWeight is returned when a valued outcome has a non-positive weight.
	ErrInvalidWeight = eris.New("outcome weight must be positive")
)

// ServerRejectedError is a non-2xx answer of the measurement backend. The
// event that caused it stays queued.
type ServerRejectedError struct {
	StatusCode int
	Body       string
	Reason     string
}

func (e *ServerRejectedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("server rejected outcome: %d %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("server rejected outcome: %d", e.StatusCode)
}

// ClientError reports a 4xx rejection.
func (e *ServerRejectedError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

func newServerRejected(resp restclient.Response) *ServerRejectedError {
	return &ServerRejectedError{
		StatusCode: resp.StatusCode,
		Body:       string(resp.Body),
		Reason:     rejectionReason(resp.Body),
	}
}

// rejectionReason extracts a human readable reason from an error body. The
// backend answers either {"errors":["..."]}, {"errors":"..."} or
// {"error":"..."}; anything else falls back to the status text.
func rejectionReason(body []byte) string {
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body))
	}
	res := gjson.ParseBytes(body)
	if errs := res.Get("errors"); errs.Exists() {
		if errs.IsArray() {
			parts := make([]string, 0, len(errs.Array()))
			for _, e := range errs.Array() {
				parts = append(parts, e.String())
			}
			return strings.Join(parts, "; ")
		}
		return errs.String()
	}
	if e := res.Get("error"); e.Exists() {
		return e.String()
	}
	return ""
}

// statusLabel names an outcome of a measure call for logs and metrics.
func statusLabel(err error) string {
	var rej *ServerRejectedError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &rej):
		return fmt.Sprintf("rejected_%dxx", rej.StatusCode/100)
	default:
		return "network_error"
	}
}
