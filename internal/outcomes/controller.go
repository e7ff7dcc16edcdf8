// Package outcomes reports named conversions to the measurement backend.
//
// Every reported outcome is first saved to the Cache, then measured through
// the Repository selected for the current schema version, and deleted once
// the backend acknowledges it. Failed sends stay queued until the next
// SendSavedOutcomes pass. Unique outcomes are gated by the dedup rows the
// Cache keeps per (message id, channel, name).
//
// Observability: public methods are OpenTelemetry-instrumented and every
// measure call is counted by version and result.
package outcomes

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/go-outcomes/internal/domain"
	"github.com/tbourn/go-outcomes/internal/influence"
	"github.com/tbourn/go-outcomes/internal/observer"
	"github.com/tbourn/go-outcomes/internal/sysutil"
)

// Status is the result of reporting one outcome.
type Status string

const (
	// StatusSent means the backend acknowledged the event.
	StatusSent Status = "sent"
	// StatusQueued means the send failed and the event waits for a retry.
	StatusQueued Status = "queued"
	// StatusDisabled means every channel has attribution disabled.
	StatusDisabled Status = "disabled"
	// StatusDuplicate means a unique outcome was already credited.
	StatusDuplicate Status = "duplicate"
)

// Result describes what happened to a reported outcome.
type Result struct {
	Status    Status                `json:"status"`
	Name      string                `json:"name"`
	Timestamp int64                 `json:"timestamp,omitempty"`
	Version   Version               `json:"version,omitempty"`
	Reason    string                `json:"reason,omitempty"`
	Source    *domain.OutcomeSource `json:"sources,omitempty"`
}

// FlushResult summarizes a SendSavedOutcomes pass.
type FlushResult struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// InfluenceSource supplies the influences credited by a new outcome.
type InfluenceSource interface {
	Influences(ctx context.Context) ([]domain.Influence, error)
}

// Controller is the entry point of outcome reporting.
type Controller struct {
	cache  *Cache
	source InfluenceSource
	repos  *RepositoryFactory
	clock  sysutil.Clock
	log    zerolog.Logger

	// unique serializes the dedup gate of unique outcomes with saving their
	// events and with the unattributed set.
	unique sync.Mutex
	// claim makes save-then-acquire of a new event atomic with respect to a
	// flush listing and acquiring its snapshot.
	claim    sync.Mutex
	mu       sync.Mutex
	inflight map[int64]struct{}
}

// NewController wires a controller.
func NewController(cache *Cache, source InfluenceSource, repos *RepositoryFactory, clock sysutil.Clock) *Controller {
	if clock == nil {
		clock = sysutil.SystemClock{}
	}
	return &Controller{
		cache:    cache,
		source:   source,
		repos:    repos,
		clock:    clock,
		log:      sysutil.Component("outcomes"),
		inflight: make(map[int64]struct{}),
	}
}

// Cache returns the controller's outcome cache.
func (c *Controller) Cache() *Cache { return c.cache }

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("outcomes/Controller").Start(ctx, name, trace.WithAttributes(attrs...))
}

// normalizeName trims name and puts it in Unicode NFC so the same outcome
// typed on different keyboards dedups as one.
func normalizeName(name string) (string, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return "", ErrEmptyOutcomeName
	}
	return name, nil
}

// SendOutcome reports a plain outcome credited to the current influences.
func (c *Controller) SendOutcome(ctx context.Context, name string) (Result, error) {
	ctx, span := startSpan(ctx, "SendOutcome", attribute.String("outcome.name", name))
	defer span.End()

	name, err := normalizeName(name)
	if err != nil {
		return Result{}, err
	}
	influences, err := c.source.Influences(ctx)
	if err != nil {
		return Result{}, err
	}
	res, err := c.sendAndCreateOutcomeEvent(ctx, name, 0, false, influences)
	reportedTotal.WithLabelValues("plain", string(res.Status)).Inc()
	return res, err
}

// SendOutcomeWithValue reports an outcome carrying a positive weight.
func (c *Controller) SendOutcomeWithValue(ctx context.Context, name string, weight float64) (Result, error) {
	ctx, span := startSpan(ctx, "SendOutcomeWithValue",
		attribute.String("outcome.name", name),
		attribute.Float64("outcome.weight", weight),
	)
	defer span.End()

	name, err := normalizeName(name)
	if err != nil {
		return Result{}, err
	}
	if !(weight > 0) {
		return Result{}, ErrInvalidWeight
	}
	influences, err := c.source.Influences(ctx)
	if err != nil {
		return Result{}, err
	}
	res, err := c.sendAndCreateOutcomeEvent(ctx, name, weight, false, influences)
	reportedTotal.WithLabelValues("valued", string(res.Status)).Inc()
	return res, err
}

// SendUniqueOutcome reports an outcome at most once per credited message id.
// Without any attributed channel it is sent at most once per session.
func (c *Controller) SendUniqueOutcome(ctx context.Context, name string) (Result, error) {
	ctx, span := startSpan(ctx, "SendUniqueOutcome", attribute.String("outcome.name", name))
	defer span.End()

	name, err := normalizeName(name)
	if err != nil {
		return Result{}, err
	}
	influences, err := c.source.Influences(ctx)
	if err != nil {
		return Result{}, err
	}
	res, err := c.sendUnique(ctx, name, influences)
	reportedTotal.WithLabelValues("unique", string(res.Status)).Inc()
	return res, err
}

func (c *Controller) sendUnique(ctx context.Context, name string, influences []domain.Influence) (Result, error) {
	c.unique.Lock()
	p, claimed, res, err := c.reserveUnique(ctx, name, influences)
	c.unique.Unlock()
	if err != nil {
		return Result{}, err
	}
	if p == nil {
		return res, nil
	}
	return c.deliver(ctx, p, claimed)
}

// reserveUnique applies the dedup gate and saves the event that passed it.
// A nil event means nothing is sent; res then carries the status.
func (c *Controller) reserveUnique(ctx context.Context, name string, influences []domain.Influence) (*domain.OutcomeEventParams, bool, Result, error) {
	switch {
	case hasType(influences, domain.InfluenceDirect) || hasType(influences, domain.InfluenceIndirect):
		fresh, err := c.cache.GetNotCachedUniqueInfluencesForOutcome(ctx, name, influences)
		if err != nil {
			return nil, false, Result{}, err
		}
		if len(fresh) == 0 {
			c.log.Debug().Str("name", name).Msg("unique outcome already credited to every influence")
			return nil, false, Result{Status: StatusDuplicate, Name: name}, nil
		}
		p, claimed, err := c.saveOutcomeEvent(ctx, name, 0, true, fresh)
		return p, claimed, Result{Status: StatusDisabled, Name: name}, err

	case hasType(influences, domain.InfluenceUnattributed):
		sent, err := c.cache.UnattributedUniqueOutcomesSent(ctx)
		if err != nil {
			return nil, false, Result{}, err
		}
		for _, s := range sent {
			if s == name {
				c.log.Debug().Str("name", name).Msg("unattributed unique outcome already sent this session")
				return nil, false, Result{Status: StatusDuplicate, Name: name}, nil
			}
		}
		p, claimed, err := c.saveOutcomeEvent(ctx, name, 0, true, influences)
		if err != nil || p == nil {
			return nil, false, Result{Status: StatusDisabled, Name: name}, err
		}
		if err := c.cache.MarkUnattributedUniqueOutcomeSent(ctx, name); err != nil {
			c.discard(ctx, p, claimed)
			return nil, false, Result{}, err
		}
		return p, claimed, Result{}, nil
	}

	c.log.Debug().Str("name", name).Msg("outcomes disabled for every channel")
	return nil, false, Result{Status: StatusDisabled, Name: name}, nil
}

// discard drops an event saved by a call that then failed.
func (c *Controller) discard(ctx context.Context, p *domain.OutcomeEventParams, claimed bool) {
	if err := c.cache.DeleteOldOutcomeEvent(ctx, *p); err != nil {
		c.log.Error().Err(err).Str("name", p.OutcomeID).Int64("timestamp", p.Timestamp).Msg("discard outcome event")
	}
	if claimed {
		c.release(p.Timestamp)
	}
}

func hasType(influences []domain.Influence, typ domain.InfluenceType) bool {
	for _, inf := range influences {
		if inf.Type == typ {
			return true
		}
	}
	return false
}

// buildSource folds influences into direct and indirect fragments. It
// reports false when every channel is disabled.
func buildSource(influences []domain.Influence) (*domain.OutcomeSource, bool) {
	src := &domain.OutcomeSource{}
	enabled := false
	for _, inf := range influences {
		switch inf.Type {
		case domain.InfluenceDirect:
			if src.DirectBody == nil {
				src.DirectBody = &domain.OutcomeSourceBody{}
			}
			src.DirectBody.SetIDs(inf.Channel, append([]string(nil), inf.IDs...))
			enabled = true
		case domain.InfluenceIndirect:
			if src.IndirectBody == nil {
				src.IndirectBody = &domain.OutcomeSourceBody{}
			}
			src.IndirectBody.SetIDs(inf.Channel, append([]string(nil), inf.IDs...))
			enabled = true
		case domain.InfluenceUnattributed:
			enabled = true
		}
	}
	return src, enabled
}

func (c *Controller) sendAndCreateOutcomeEvent(ctx context.Context, name string, weight float64, unique bool, influences []domain.Influence) (Result, error) {
	p, claimed, err := c.saveOutcomeEvent(ctx, name, weight, unique, influences)
	if err != nil {
		return Result{}, err
	}
	if p == nil {
		return Result{Status: StatusDisabled, Name: name}, nil
	}
	return c.deliver(ctx, p, claimed)
}

// saveOutcomeEvent persists a new event and claims it for sending. It
// returns a nil event when every channel is disabled.
func (c *Controller) saveOutcomeEvent(ctx context.Context, name string, weight float64, unique bool, influences []domain.Influence) (*domain.OutcomeEventParams, bool, error) {
	src, enabled := buildSource(influences)
	if !enabled {
		c.log.Debug().Str("name", name).Msg("outcomes disabled for every channel")
		return nil, false, nil
	}

	p := &domain.OutcomeEventParams{
		OutcomeID: name,
		Source:    src,
		Weight:    weight,
		Timestamp: c.clock.NowMillis(),
		Unique:    unique,
	}
	c.claim.Lock()
	defer c.claim.Unlock()
	if err := c.cache.SaveOutcomeEvent(ctx, p); err != nil {
		return nil, false, err
	}
	return p, c.acquire(p.Timestamp), nil
}

// deliver sends a saved event. An event claimed elsewhere is left to that
// caller and reported as queued.
func (c *Controller) deliver(ctx context.Context, p *domain.OutcomeEventParams, claimed bool) (Result, error) {
	res := Result{Name: p.OutcomeID, Timestamp: p.Timestamp, Source: p.Source}
	if !claimed {
		res.Status = StatusQueued
		return res, nil
	}
	defer c.release(p.Timestamp)

	version, err := c.measure(ctx, *p)
	res.Version = version
	if err != nil {
		res.Status = StatusQueued
		res.Reason = reason(err)
		return res, nil
	}
	if err := c.acknowledge(ctx, *p); err != nil {
		return res, err
	}
	res.Status = StatusSent
	return res, nil
}

// measure sends p through the current repository. Send errors are logged and
// returned; they never reach the host app as failures.
func (c *Controller) measure(ctx context.Context, p domain.OutcomeEventParams) (Version, error) {
	repo, err := c.repos.Repository(ctx)
	if err != nil {
		return "", err
	}
	err = repo.Measure(ctx, p)
	measureTotal.WithLabelValues(string(repo.Version()), statusLabel(err)).Inc()

	var ev *zerolog.Event
	var rej *ServerRejectedError
	switch {
	case err == nil:
		ev = c.log.Info()
	case errors.As(err, &rej) && rej.ClientError():
		ev = c.log.Warn().Err(err).Int("status", rej.StatusCode)
	default:
		ev = c.log.Error().Err(err)
	}
	msg := "outcome measured"
	if err != nil {
		msg = "outcome measure failed, event stays queued"
	}
	ev.Str("name", p.OutcomeID).
		Int64("timestamp", p.Timestamp).
		Str("version", string(repo.Version())).
		Bool("unique", p.Unique).
		Msg(msg)
	return repo.Version(), err
}

// acknowledge records dedup rows for unique events and drops the event.
func (c *Controller) acknowledge(ctx context.Context, p domain.OutcomeEventParams) error {
	if p.Unique {
		if err := c.cache.SaveUniqueOutcomeEventParams(ctx, p); err != nil {
			return err
		}
	}
	return c.cache.DeleteOldOutcomeEvent(ctx, p)
}

// SendSavedOutcomes retries every queued event once. Events currently being
// sent by another call are skipped.
func (c *Controller) SendSavedOutcomes(ctx context.Context) (FlushResult, error) {
	ctx, span := startSpan(ctx, "SendSavedOutcomes")
	defer span.End()

	var out FlushResult
	c.claim.Lock()
	events, err := c.cache.GetAllEventsToSend(ctx)
	if err != nil {
		c.claim.Unlock()
		return out, err
	}
	mine := events[:0:0]
	for _, p := range events {
		if c.acquire(p.Timestamp) {
			mine = append(mine, p)
		} else {
			out.Skipped++
		}
	}
	c.claim.Unlock()

	for _, p := range mine {
		_, err := c.measure(ctx, p)
		if err == nil {
			err = c.acknowledge(ctx, p)
			if err == nil {
				out.Sent++
			}
		}
		c.release(p.Timestamp)
		if err != nil {
			out.Failed++
		}
	}
	span.SetAttributes(
		attribute.Int("outcomes.sent", out.Sent),
		attribute.Int("outcomes.failed", out.Failed),
	)
	if len(events) > 0 {
		c.log.Info().Int("sent", out.Sent).Int("failed", out.Failed).Int("skipped", out.Skipped).Msg("saved outcomes flushed")
	}
	return out, nil
}

// PendingPage lists queued events.
func (c *Controller) PendingPage(ctx context.Context, offset, limit int) ([]domain.OutcomeEventParams, int64, error) {
	return c.cache.PendingPage(ctx, offset, limit)
}

// CleanOutcomes forgets which unattributed unique outcomes were sent, so a
// new session can send them again.
func (c *Controller) CleanOutcomes(ctx context.Context) error {
	c.unique.Lock()
	defer c.unique.Unlock()
	return c.cache.ClearUnattributedUniqueOutcomes(ctx)
}

// Attach subscribes the controller to session restarts.
func (c *Controller) Attach(m *influence.SessionManager) *observer.Subscription {
	return m.Subscribe(func(e influence.SessionEvent) {
		if e.Kind != influence.SessionRestarted {
			return
		}
		if err := c.CleanOutcomes(context.Background()); err != nil {
			c.log.Error().Err(err).Msg("clean unattributed unique outcomes")
		}
	})
}

func (c *Controller) acquire(ts int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[ts]; busy {
		return false
	}
	c.inflight[ts] = struct{}{}
	return true
}

func (c *Controller) release(ts int64) {
	c.mu.Lock()
	delete(c.inflight, ts)
	c.mu.Unlock()
}

func reason(err error) string {
	var rej *ServerRejectedError
	if errors.As(err, &rej) {
		return rej.Error()
	}
	if errors.Is(err, ErrNetworkFailure) {
		return ErrNetworkFailure.Error()
	}
	return err.Error()
}
