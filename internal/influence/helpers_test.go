package influence

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-outcomes/internal/config"
	"github.com/tbourn/go-outcomes/internal/repo"
)

type fakeClock struct{ now atomic.Int64 }

func (c *fakeClock) NowMillis() int64 { return c.now.Load() }
func (c *fakeClock) Set(ms int64)      { c.now.Store(ms) }
func (c *fakeClock) Advance(ms int64)  { c.now.Add(ms) }

func testDefaults() config.AttributionDefaults {
	return config.AttributionDefaults{
		Notification:        config.ChannelDefaults{Limit: 10, WindowMinutes: 1440},
		IAM:                 config.ChannelDefaults{Limit: 10, WindowMinutes: 1440},
		DirectEnabled:       true,
		IndirectEnabled:     true,
		UnattributedEnabled: true,
	}
}

func newTestPrefs(t *testing.T) *repo.Preferences {
	t.Helper()
	dsn := fmt.Sprintf("file:influence_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(db))
	return repo.NewPreferences(db)
}

type fixture struct {
	prefs   *repo.Preferences
	params  *Params
	clock   *fakeClock
	factory *TrackerFactory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	prefs := newTestPrefs(t)
	params := NewParams(prefs, testDefaults())
	clock := &fakeClock{}
	clock.Set(1_700_000_000_000)
	return &fixture{
		prefs:   prefs,
		params:  params,
		clock:   clock,
		factory: NewTrackerFactory(prefs, params, clock),
	}
}

// setParams overrides one channel's params on top of the defaults.
func (f *fixture) setParams(t *testing.T, notif, iam ChannelParams) {
	t.Helper()
	require.NoError(t, f.params.Save(context.Background(), RemoteParams{Notification: notif, IAM: iam}))
}

func defaultChannelParams() ChannelParams {
	return ChannelParams{Limit: 10, WindowMinutes: 1440, DirectEnabled: true, IndirectEnabled: true, UnattributedEnabled: true}
}
