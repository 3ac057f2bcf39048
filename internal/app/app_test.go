package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travellog/internal/config"
	"travellog/internal/importer"
	"travellog/internal/testutil"
	"travellog/internal/travellog"
)

// newTestConfig returns a config using in-memory backends under a temp dir.
func newTestConfig(t *testing.T, owner string) *config.Config {
	t.Helper()
	cfg := config.NewConfig(owner, t.TempDir())
	cfg.Database.Type = "memory"
	cfg.Remote.Type = "memory"
	cfg.Persistence.Type = "memory"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, configPath string) *TravelLogApp {
	t.Helper()
	a, err := NewTravelLogApp(context.Background(), cfg, configPath, "Test",
		WithIDGenerator(testutil.NewStubIDGenerator()))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestApp_AddListCount(t *testing.T) {
	a := newTestApp(t, newTestConfig(t, string(alice)), "")
	ctx := testCtx(t)

	var mu sync.Mutex
	var states []travellog.State
	a.OnProgress(func(n travellog.Notification) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, n.State)
	})

	h, err := a.Add(ctx, " Togo ", "Lomé", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, travellog.StateConfirmed, h.State())
	assert.NotEmpty(t, h.Ref())

	mu.Lock()
	assert.Equal(t, []travellog.State{
		travellog.StateSubmitting,
		travellog.StateAwaitingConfirmation,
		travellog.StateConfirmed,
		travellog.StateIdle,
	}, states)
	mu.Unlock()

	view, err := a.List(ctx, "", "", false)
	require.NoError(t, err)
	require.Len(t, view.Records, 1)
	assert.Equal(t, "Togo", view.Records[0].Country)
	assert.Equal(t, "id-1", view.Records[0].ID)

	n, err := a.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestApp_AddDefaultsToToday(t *testing.T) {
	clock := testutil.FixedClock()
	cfg := newTestConfig(t, string(alice))
	a, err := NewTravelLogApp(context.Background(), cfg, "", "Add", WithClock(clock))
	require.NoError(t, err)
	defer a.Close()

	// A zero confirm delay fires immediately on the stub clock.
	h, err := a.Add(testCtx(t), "Togo", "Lomé", "")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-20", h.Record().Date())
}

func TestApp_AddInvalid(t *testing.T) {
	a := newTestApp(t, newTestConfig(t, string(alice)), "")
	ctx := testCtx(t)

	tests := []struct {
		name    string
		country string
		city    string
		date    string
	}{
		{"future date", "Togo", "Lomé", "2999-01-01"},
		{"malformed date", "Togo", "Lomé", "01/01/2024"},
		{"blank city", "Togo", "  ", "2024-01-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := a.Add(ctx, tt.country, tt.city, tt.date)
			assert.Nil(t, h)
			require.Error(t, err)
			assert.Equal(t, travellog.KindInvalidInput, travellog.KindOf(err))
		})
	}
	assert.True(t, a.op.Failed())
}

func TestApp_NoOwner(t *testing.T) {
	a := newTestApp(t, newTestConfig(t, ""), "")
	ctx := testCtx(t)

	_, err := a.Add(ctx, "Togo", "Lomé", "2024-01-01")
	assert.ErrorIs(t, err, ErrNoOwner)
	_, err = a.List(ctx, "", "", false)
	assert.ErrorIs(t, err, ErrNoOwner)
	_, err = a.Count(ctx)
	assert.ErrorIs(t, err, ErrNoOwner)
	_, err = a.Import(ctx, importer.Sample())
	assert.ErrorIs(t, err, ErrNoOwner)
}

func TestApp_ImportAndList(t *testing.T) {
	a := newTestApp(t, newTestConfig(t, string(alice)), "")
	ctx := testCtx(t)

	handles, err := a.Import(ctx, importer.Sample())
	require.NoError(t, err)
	require.Len(t, handles, 3)

	var summary bytes.Buffer
	require.NoError(t, RenderImport(&summary, handles))
	assert.Equal(t, "imported 3 places\n", summary.String())

	view, err := a.List(ctx, "", "", true)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, RenderView(&buf, view, time.Now()))
	newGoldie(t).Assert(t, "list_after_import", buf.Bytes())

	view, err = a.List(ctx, "city_asc", "", false)
	require.NoError(t, err)
	var cities []string
	for _, r := range view.Records {
		cities = append(cities, r.City)
	}
	assert.Equal(t, []string{"Lomé", "Paris", "Tokyo"}, cities)

	view, err = a.List(ctx, "", "JAP", false)
	require.NoError(t, err)
	require.Len(t, view.Records, 1)
	assert.Equal(t, "Tokyo", view.Records[0].City)

	_, err = a.List(ctx, "by_mood", "", false)
	assert.Equal(t, travellog.KindInvalidInput, travellog.KindOf(err))
}

func TestApp_ImportRejects(t *testing.T) {
	a := newTestApp(t, newTestConfig(t, string(alice)), "")
	ctx := testCtx(t)

	_, err := a.Import(ctx, strings.NewReader("owner: 0xb0b\nvisits: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "belongs to owner 0xb0b")

	_, err = a.Import(ctx, strings.NewReader("visits:\n  - country: Togo\n    city: Lomé\n    visited_on: 2999-01-01\n"))
	require.Error(t, err)
	assert.Equal(t, travellog.KindInvalidInput, travellog.KindOf(err))

	n, err := a.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is written when validation fails")
}

func TestApp_Remove(t *testing.T) {
	a := newTestApp(t, newTestConfig(t, string(alice)), "")
	ctx := testCtx(t)

	_, err := a.Add(ctx, "Togo", "Lomé", "2024-01-01")
	require.NoError(t, err)
	_, err = a.List(ctx, "", "", false)
	require.NoError(t, err)

	removed, err := a.Remove(ctx, "id-1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = a.Remove(ctx, "id-1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestApp_SetOwner(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "travellog.toml")
	cfg := newTestConfig(t, string(alice))
	require.NoError(t, config.Init(configPath, cfg))

	a := newTestApp(t, cfg, configPath)
	ctx := testCtx(t)

	_, err := a.Add(ctx, "Togo", "Lomé", "2024-01-01")
	require.NoError(t, err)
	_, err = a.List(ctx, "", "", false)
	require.NoError(t, err)

	require.NoError(t, a.SetOwner(ctx, " 0xb0b "))
	assert.Equal(t, travellog.OwnerKey("0xb0b"), a.Owner())

	saved, err := config.ReadFromFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "0xb0b", saved.Owner)

	view, err := a.List(ctx, "", "", false)
	require.NoError(t, err)
	assert.Empty(t, view.Records, "owners never see each other's records")

	require.NoError(t, a.SetOwner(ctx, ""))
	assert.True(t, a.Owner().IsZero())
	saved, err = config.ReadFromFile(configPath)
	require.NoError(t, err)
	assert.Empty(t, saved.Owner)
}

func TestApp_InitKeys(t *testing.T) {
	a := newTestApp(t, newTestConfig(t, string(alice)), "")
	assert.ErrorIs(t, a.InitKeys("secret"), ErrEncryptionDisabled)

	cfg := newTestConfig(t, string(alice))
	cfg.Encryption.Type = "test"
	b := newTestApp(t, cfg, "")
	require.NoError(t, b.InitKeys("secret"))
}

func TestApp_EncryptedSnapshots(t *testing.T) {
	cfg := newTestConfig(t, string(alice))
	cfg.Persistence.Type = "filesystem"
	cfg.Encryption.Type = "age"

	ctx := testCtx(t)
	a, err := NewTravelLogApp(ctx, cfg, "", "Keys")
	require.NoError(t, err)
	require.NoError(t, a.InitKeys("correct horse"))
	_, err = a.Add(ctx, "Togo", "Lomé", "2024-01-01")
	require.NoError(t, err)
	_, err = a.List(ctx, "", "", false)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	matches, err := filepath.Glob(filepath.Join(cfg.Persistence.Root, "snapshots", "*.age"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Lomé")
}

func TestApp_WritesLogFile(t *testing.T) {
	cfg := newTestConfig(t, string(alice))
	var echo bytes.Buffer
	a, err := NewTravelLogApp(context.Background(), cfg, "", "Count", WithLogEcho(&echo))
	require.NoError(t, err)

	_, err = a.Count(testCtx(t))
	require.NoError(t, err)
	require.NoError(t, a.Close())

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, "travellog.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "operation finished")
	assert.Contains(t, string(data), "status=success")
	assert.Equal(t, string(data), echo.String())
}

func TestApp_BadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"log level", func(c *config.Config) { c.LogLevel = "chatty" }},
		{"insert policy", func(c *config.Config) { c.Sync.InsertPolicy = "middle" }},
		{"ordering", func(c *config.Config) { c.Sync.Ordering = "random" }},
		{"hard ceiling below soft max age", func(c *config.Config) { c.Sync.HardCeiling = config.Duration{Duration: time.Minute} }},
		{"database", func(c *config.Config) { c.Database.Type = "postgres" }},
		{"remote", func(c *config.Config) { c.Remote.Type = "ethereum" }},
		{"encryption", func(c *config.Config) { c.Encryption.Type = "rot13" }},
		{"persistence", func(c *config.Config) { c.Persistence.Type = "tape" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(t, string(alice))
			tt.mutate(cfg)
			_, err := NewTravelLogApp(context.Background(), cfg, "", "Test")
			assert.Error(t, err)
		})
	}
}
