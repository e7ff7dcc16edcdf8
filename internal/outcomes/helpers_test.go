package outcomes

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-outcomes/internal/config"
	"github.com/tbourn/go-outcomes/internal/domain"
	"github.com/tbourn/go-outcomes/internal/influence"
	"github.com/tbourn/go-outcomes/internal/repo"
	"github.com/tbourn/go-outcomes/internal/restclient"
)

type fakeClock struct{ now atomic.Int64 }

func (c *fakeClock) NowMillis() int64 { return c.now.Load() }

type postCall struct {
	Path string
	Body map[string]any
}

// fakePoster records requests. Responses are consumed in order; once they
// run out every call answers 200.
type fakePoster struct {
	mu        sync.Mutex
	calls     []postCall
	responses []func() (restclient.Response, error)
	onPost    func(n int)
}

func (f *fakePoster) Post(_ context.Context, path string, body any) (restclient.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return restclient.Response{}, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return restclient.Response{}, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, postCall{Path: path, Body: m})
	n := len(f.calls)
	var next func() (restclient.Response, error)
	if len(f.responses) > 0 {
		next, f.responses = f.responses[0], f.responses[1:]
	}
	hook := f.onPost
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if next != nil {
		return next()
	}
	return restclient.Response{StatusCode: 200, Body: []byte(`{}`)}, nil
}

func (f *fakePoster) push(fns ...func() (restclient.Response, error)) {
	f.mu.Lock()
	f.responses = append(f.responses, fns...)
	f.mu.Unlock()
}

func (f *fakePoster) Calls() []postCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]postCall(nil), f.calls...)
}

func networkDown() (restclient.Response, error) {
	return restclient.Response{}, fmt.Errorf("dial tcp: connection refused")
}

func status(code int, body string) func() (restclient.Response, error) {
	return func() (restclient.Response, error) {
		return restclient.Response{StatusCode: code, Body: []byte(body)}, nil
	}
}

type staticInfluences struct {
	mu  sync.Mutex
	inf []domain.Influence
}

func (s *staticInfluences) Influences(context.Context) ([]domain.Influence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Influence, 0, len(s.inf))
	for _, i := range s.inf {
		out = append(out, i.Copy())
	}
	return out, nil
}

func (s *staticInfluences) set(inf ...domain.Influence) {
	s.mu.Lock()
	s.inf = inf
	s.mu.Unlock()
}

type env struct {
	db      *gorm.DB
	prefs   *repo.Preferences
	params  *influence.Params
	cache   *Cache
	poster  *fakePoster
	source  *staticInfluences
	clock   *fakeClock
	ctrl    *Controller
	factory *RepositoryFactory
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:outcomes_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(db))
	return db
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := newTestDB(t)
	prefs := repo.NewPreferences(db)
	params := influence.NewParams(prefs, config.AttributionDefaults{
		Notification:        config.ChannelDefaults{Limit: 10, WindowMinutes: 1440},
		IAM:                 config.ChannelDefaults{Limit: 10, WindowMinutes: 1440},
		DirectEnabled:       true,
		IndirectEnabled:     true,
		UnattributedEnabled: true,
	})
	e := &env{
		db:     db,
		prefs:  prefs,
		params: params,
		cache:  NewCache(db, prefs),
		poster: &fakePoster{},
		source: &staticInfluences{},
		clock:  &fakeClock{},
	}
	e.clock.now.Store(1_700_000_000_000)
	e.factory = NewRepositoryFactory(params, e.poster, Device{AppID: "app-1", DeviceType: 1})
	e.ctrl = NewController(e.cache, e.source, e.factory, e.clock)
	return e
}

func (e *env) setV2(t *testing.T, on bool) {
	t.Helper()
	require.NoError(t, e.prefs.PutBool(context.Background(), "outcomes_v2_service_enabled", on))
}

func (e *env) pending(t *testing.T) []domain.OutcomeEventParams {
	t.Helper()
	events, err := e.cache.GetAllEventsToSend(context.Background())
	require.NoError(t, err)
	return events
}

func direct(ch domain.Channel, ids ...string) domain.Influence {
	return domain.Influence{Channel: ch, Type: domain.InfluenceDirect, IDs: ids}
}

func indirect(ch domain.Channel, ids ...string) domain.Influence {
	return domain.Influence{Channel: ch, Type: domain.InfluenceIndirect, IDs: ids}
}

func unattributed(ch domain.Channel) domain.Influence {
	return domain.Influence{Channel: ch, Type: domain.InfluenceUnattributed}
}

func disabled(ch domain.Channel) domain.Influence {
	return domain.Influence{Channel: ch, Type: domain.InfluenceDisabled}
}
