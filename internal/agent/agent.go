// Package agent assembles the attribution engine from configuration: the
// preference store, trackers, session manager, measurement client and
// outcome controller.
package agent

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-outcomes/internal/config"
	"github.com/tbourn/go-outcomes/internal/influence"
	"github.com/tbourn/go-outcomes/internal/observer"
	"github.com/tbourn/go-outcomes/internal/outcomes"
	"github.com/tbourn/go-outcomes/internal/repo"
	"github.com/tbourn/go-outcomes/internal/restclient"
	"github.com/tbourn/go-outcomes/internal/sysutil"
)

// Agent is a wired engine. Sessions, Outcomes and Params back the HTTP API.
type Agent struct {
	Sessions *influence.SessionManager
	Outcomes *outcomes.Controller
	Params   *influence.Params

	subs []*observer.Subscription
	wg   sync.WaitGroup
	log  zerolog.Logger

	// mu orders background flush starts against Close.
	mu     sync.Mutex
	closed bool
}

// Options overrides collaborators, mostly for tests. Zero values select the
// production defaults: inline dispatch, the system clock and a REST client
// built from cfg.Backend.
type Options struct {
	Dispatcher observer.Dispatcher
	Clock      sysutil.Clock
	Client     restclient.Poster
}

// New builds an Agent over an already migrated database.
func New(db *gorm.DB, cfg config.Config, opts Options) (*Agent, error) {
	client := opts.Client
	if client == nil {
		c, err := restclient.New(cfg.Backend)
		if err != nil {
			return nil, eris.Wrap(err, "build measurement client")
		}
		client = c
	}

	prefs := repo.NewPreferences(db)
	params := influence.NewParams(prefs, cfg.Attribution)
	factory := influence.NewTrackerFactory(prefs, params, opts.Clock)
	sessions := influence.NewSessionManager(factory, opts.Dispatcher)

	repos := outcomes.NewRepositoryFactory(params, client, outcomes.Device{
		AppID:      cfg.Backend.AppID,
		DeviceType: cfg.Backend.DeviceType,
	})
	ctrl := outcomes.NewController(outcomes.NewCache(db, prefs), sessions, repos, opts.Clock)

	a := &Agent{
		Sessions: sessions,
		Outcomes: ctrl,
		Params:   params,
		log:      sysutil.Component("agent"),
	}
	a.subs = append(a.subs,
		ctrl.Attach(sessions),
		sessions.Subscribe(a.onSessionEvent),
	)
	return a, nil
}

// onSessionEvent retries queued outcomes in the background whenever a new
// session starts.
func (a *Agent) onSessionEvent(e influence.SessionEvent) {
	if e.Kind != influence.SessionRestarted {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if _, err := a.Outcomes.SendSavedOutcomes(context.Background()); err != nil {
			a.log.Error().Err(err).Msg("session flush failed")
		}
	}()
}

// Start restores tracker state from the preference store and retries every
// outcome left queued by a previous run. A failed retry pass is logged, not
// returned: queued outcomes wait for the next trigger.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.Sessions.Factory().InitFromCache(ctx); err != nil {
		return eris.Wrap(err, "restore attribution state")
	}
	res, err := a.Outcomes.SendSavedOutcomes(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("startup flush failed")
		return nil
	}
	a.log.Info().Int("sent", res.Sent).Int("failed", res.Failed).Msg("agent started")
	return nil
}

// Close detaches from session events and waits for background flushes.
// Deliveries still queued in a dispatcher after Close start no new flush.
func (a *Agent) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	for _, s := range a.subs {
		s.Unsubscribe()
	}
	a.wg.Wait()
}
