package outcomes

import (
	"context"

	"github.com/tbourn/go-outcomes/internal/domain"
	"github.com/tbourn/go-outcomes/internal/restclient"
)

// Repository turns a queued event into a measure call for one schema
// version. V1Repository and V2Repository are its only implementations.
type Repository interface {
	Version() Version
	Measure(ctx context.Context, p domain.OutcomeEventParams) error
}

// V1Repository flattens events to the single-channel view before sending.
type V1Repository struct{ svc *V1Service }

func (V1Repository) Version() Version { return V1 }

// Measure sends one request for the event's notification bucket.
func (r V1Repository) Measure(ctx context.Context, p domain.OutcomeEventParams) error {
	ev := domain.OutcomeEventFromParams(p)
	switch ev.Session {
	case domain.InfluenceDirect:
		return r.svc.SendDirect(ctx, ev)
	case domain.InfluenceIndirect:
		return r.svc.SendIndirect(ctx, ev)
	default:
		return r.svc.SendUnattributed(ctx, ev)
	}
}

// V2Repository sends the full multi-channel source.
type V2Repository struct{ svc *V2Service }

func (V2Repository) Version() Version { return V2 }

// Measure sends p as-is.
func (r V2Repository) Measure(ctx context.Context, p domain.OutcomeEventParams) error {
	return r.svc.SendOutcomeEvent(ctx, p)
}

// SelectRepository picks the repository for the V2 flag.
func SelectRepository(v2Enabled bool, v1 V1Repository, v2 V2Repository) Repository {
	if v2Enabled {
		return v2
	}
	return v1
}

// V2Flag reports whether the V2 schema is selected.
type V2Flag interface {
	OutcomesV2Enabled(ctx context.Context) (bool, error)
}

// RepositoryFactory reads the V2 flag on every access. A flip applies to the
// next access; a send already running keeps the repository it started with.
type RepositoryFactory struct {
	flag V2Flag
	v1   V1Repository
	v2   V2Repository
}

// NewRepositoryFactory builds both repositories over client.
func NewRepositoryFactory(flag V2Flag, client restclient.Poster, device Device) *RepositoryFactory {
	return &RepositoryFactory{
		flag: flag,
		v1:   V1Repository{svc: NewV1Service(client, device)},
		v2:   V2Repository{svc: NewV2Service(client, device)},
	}
}

// Repository returns the repository for the current flag value.
func (f *RepositoryFactory) Repository(ctx context.Context) (Repository, error) {
	on, err := f.flag.OutcomesV2Enabled(ctx)
	if err != nil {
		return nil, err
	}
	return SelectRepository(on, f.v1, f.v2), nil
}
