package outcomes

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/tbourn/go-outcomes/internal/domain"
	"github.com/tbourn/go-outcomes/internal/restclient"
)

// measurePath is the endpoint of both schema versions.
const measurePath = "outcomes/measure"

// Version names a measurement schema.
type Version string

const (
	V1 Version = "v1"
	V2 Version = "v2"
)

// Device identifies the reporting installation in every request body.
type Device struct {
	AppID      string
	DeviceType int
}

type service struct {
	client restclient.Poster
	device Device
}

func (s service) post(ctx context.Context, body any) error {
	resp, err := s.client.Post(ctx, measurePath, body)
	if err != nil {
		return eris.Wrapf(ErrNetworkFailure, "post %s: %v", measurePath, err)
	}
	if !resp.OK() {
		return newServerRejected(resp)
	}
	return nil
}

// seconds converts the millisecond event timestamp to the wire unit.
func seconds(ms int64) int64 { return ms / 1000 }

type v1Request struct {
	AppID           string   `json:"app_id"`
	DeviceType      int      `json:"device_type"`
	Direct          *bool    `json:"direct,omitempty"`
	NotificationIDs []string `json:"notification_ids,omitempty"`
	ID              string   `json:"id"`
	Weight          float64  `json:"weight,omitempty"`
	Timestamp       int64    `json:"timestamp,omitempty"`
}

// V1Service speaks the single-channel schema: one request per influence
// bucket, told apart by the direct flag.
type V1Service struct{ service }

// NewV1Service returns a V1 service posting through client.
func NewV1Service(client restclient.Poster, device Device) *V1Service {
	return &V1Service{service{client: client, device: device}}
}

func (s *V1Service) request(ev domain.OutcomeEvent, direct *bool) v1Request {
	return v1Request{
		AppID:           s.device.AppID,
		DeviceType:      s.device.DeviceType,
		Direct:          direct,
		NotificationIDs: ev.NotificationIDs,
		ID:              ev.Name,
		Weight:          ev.Weight,
		Timestamp:       seconds(ev.Timestamp),
	}
}

// SendDirect measures a directly influenced outcome.
func (s *V1Service) SendDirect(ctx context.Context, ev domain.OutcomeEvent) error {
	direct := true
	return s.post(ctx, s.request(ev, &direct))
}

// SendIndirect measures an indirectly influenced outcome.
func (s *V1Service) SendIndirect(ctx context.Context, ev domain.OutcomeEvent) error {
	direct := false
	return s.post(ctx, s.request(ev, &direct))
}

// SendUnattributed measures an outcome with no influence; the direct flag
// is omitted.
func (s *V1Service) SendUnattributed(ctx context.Context, ev domain.OutcomeEvent) error {
	ev.NotificationIDs = nil
	return s.post(ctx, s.request(ev, nil))
}

type v2Request struct {
	AppID      string                `json:"app_id"`
	DeviceType int                   `json:"device_type"`
	ID         string                `json:"id"`
	Sources    *domain.OutcomeSource `json:"sources"`
	Weight     float64               `json:"weight,omitempty"`
	Timestamp  int64                 `json:"timestamp,omitempty"`
}

// V2Service speaks the multi-channel schema: the full source travels as-is.
type V2Service struct{ service }

// NewV2Service returns a V2 service posting through client.
func NewV2Service(client restclient.Poster, device Device) *V2Service {
	return &V2Service{service{client: client, device: device}}
}

// SendOutcomeEvent measures p with its complete multi-channel source.
func (s *V2Service) SendOutcomeEvent(ctx context.Context, p domain.OutcomeEventParams) error {
	src := p.Source
	if src == nil {
		src = &domain.OutcomeSource{}
	}
	return s.post(ctx, v2Request{
		AppID:      s.device.AppID,
		DeviceType: s.device.DeviceType,
		ID:         p.OutcomeID,
		Sources:    src,
		Weight:     p.Weight,
		Timestamp:  seconds(p.Timestamp),
	})
}
