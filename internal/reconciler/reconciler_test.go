package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"agendasync/internal/clients"
	"agendasync/internal/gateway"
	"agendasync/internal/store"
)

// fakeGateway is a scripted gateway: mode decides the outcome of every call.
type fakeGateway struct {
	mode string // "ok", "unavailable", "error", "timeout"

	nextID      int
	createCalls int
	updateCalls int
	deleteCalls int
	resetCalls  int
}

func (f *fakeGateway) outcome(id string) gateway.Outcome {
	switch f.mode {
	case "unavailable":
		return gateway.Unavailable()
	case "timeout":
		return gateway.Errored(fmt.Errorf("calendar call: %w", context.DeadlineExceeded))
	case "error":
		return gateway.Errored(errors.New("the API rejected the payload"))
	}
	return gateway.Outcome{State: gateway.StateOK, EventID: id}
}

func (f *fakeGateway) CreateEvent(_ context.Context, p gateway.EventPayload) gateway.Outcome {
	f.createCalls++
	f.nextID++
	o := f.outcome(fmt.Sprintf("gcal_%03d", f.nextID))
	if o.OK() {
		o.Summary = p.Summary
		o.StartISO = p.StartISO
		o.EndISO = p.EndISO
	}
	return o
}

func (f *fakeGateway) UpdateEvent(_ context.Context, eventID string, _ map[string]any) gateway.Outcome {
	f.updateCalls++
	return f.outcome(eventID)
}

func (f *fakeGateway) DeleteEvent(_ context.Context, eventID string) gateway.Outcome {
	f.deleteCalls++
	return f.outcome(eventID)
}

func (f *fakeGateway) GetEvent(_ context.Context, eventID string) gateway.Outcome {
	return f.outcome(eventID)
}

func (f *fakeGateway) Reset() { f.resetCalls++ }

func newTestEngine(t *testing.T, gw gateway.Gateway) (*Engine, *store.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := store.New(db, logger)
	require.NoError(t, s.AutoMigrate())
	resolver := clients.NewResolver(s, logger)

	tz := time.FixedZone("CST", -6*60*60)
	return NewEngine(logger, s, resolver, gw, tz, "primary"), s
}

var localIDPattern = regexp.MustCompile(`^local_[0-9a-f]{12}$`)

func TestCreate_Synced(t *testing.T) {
	gw := &fakeGateway{mode: "ok"}
	engine, s := newTestEngine(t, gw)
	ctx := context.Background()

	result, err := engine.Create(ctx, EventData{
		Summary:     "Kickoff with Tecnoflex",
		StartISO:    "2026-09-01T16:00:00Z",
		EndISO:      "2026-09-01T17:00:00Z",
		CompanyName: "Tecnoflex",
		PersonName:  "Laura Díaz",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusSynced, result.Status)
	assert.Equal(t, "gcal_001", result.EventID)

	ev, err := s.GetEvent(ctx, "gcal_001")
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, ev.Source)
	assert.Equal(t, "primary", ev.CalendarID)
	require.NotNil(t, ev.ClientID, "client must be resolved before persisting")
}

func TestCreate_NormalizesTimesToPrimaryTimezone(t *testing.T) {
	gw := &fakeGateway{mode: "ok"}
	engine, s := newTestEngine(t, gw)
	ctx := context.Background()

	_, err := engine.Create(ctx, EventData{
		Summary:  "Demo",
		StartISO: "2026-09-01T16:00:00Z",
		EndISO:   "2026-09-01T17:00:00Z",
	})
	require.NoError(t, err)

	ev, err := s.GetEvent(ctx, "gcal_001")
	require.NoError(t, err)
	assert.Equal(t, "2026-09-01T10:00:00-06:00", ev.StartISO)
	assert.Equal(t, "2026-09-01T11:00:00-06:00", ev.EndISO)
}

func TestCreate_InvalidTimestamp(t *testing.T) {
	engine, _ := newTestEngine(t, &fakeGateway{mode: "ok"})

	_, err := engine.Create(context.Background(), EventData{
		Summary:  "Demo",
		StartISO: "tomorrow at five",
		EndISO:   "2026-09-01T17:00:00Z",
	})
	assert.Error(t, err)
}

func TestCreate_GatewayTimeout_FallsBackToLocal(t *testing.T) {
	gw := &fakeGateway{mode: "timeout"}
	engine, s := newTestEngine(t, gw)
	ctx := context.Background()

	result, err := engine.Create(ctx, EventData{
		Summary:  "Demo",
		StartISO: "2026-09-01T16:00:00Z",
		EndISO:   "2026-09-01T17:00:00Z",
	})
	require.NoError(t, err, "a failed external leg must not fail the create")

	assert.Equal(t, StatusLocalOnly, result.Status)
	assert.Regexp(t, localIDPattern, result.EventID)
	assert.NotEmpty(t, result.Detail)

	ev, err := s.GetEvent(ctx, result.EventID)
	require.NoError(t, err)
	assert.Equal(t, "local", ev.CalendarID)
	assert.Equal(t, StatusLocalOnly, ev.Source)
}

func TestCreate_GatewayUnavailable_FallsBackToLocal(t *testing.T) {
	gw := &fakeGateway{mode: "unavailable"}
	engine, _ := newTestEngine(t, gw)

	result, err := engine.Create(context.Background(), EventData{
		Summary:  "Demo",
		StartISO: "2026-09-01T16:00:00Z",
		EndISO:   "2026-09-01T17:00:00Z",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusLocalOnly, result.Status)
	assert.Regexp(t, localIDPattern, result.EventID)
	assert.Empty(t, result.Detail, "unavailability is expected, not an error to report")
}

func TestDelete_LocalEventNeverReachesGateway(t *testing.T) {
	gw := &fakeGateway{mode: "unavailable"}
	engine, s := newTestEngine(t, gw)
	ctx := context.Background()

	created, err := engine.Create(ctx, EventData{
		Summary:  "Demo",
		StartISO: "2026-09-01T16:00:00Z",
		EndISO:   "2026-09-01T17:00:00Z",
	})
	require.NoError(t, err)
	require.Regexp(t, localIDPattern, created.EventID)

	gw.mode = "ok"
	result, err := engine.Delete(ctx, created.EventID)
	require.NoError(t, err)

	assert.Equal(t, StatusLocalEventSkipped, result.Status)
	assert.EqualValues(t, 1, result.Removed)
	assert.Zero(t, gw.deleteCalls, "locally minted ids must never be sent to the external service")

	_, err = s.GetEvent(ctx, created.EventID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDelete_Synced(t *testing.T) {
	gw := &fakeGateway{mode: "ok"}
	engine, _ := newTestEngine(t, gw)
	ctx := context.Background()

	created, err := engine.Create(ctx, EventData{
		Summary:  "Demo",
		StartISO: "2026-09-01T16:00:00Z",
		EndISO:   "2026-09-01T17:00:00Z",
	})
	require.NoError(t, err)

	result, err := engine.Delete(ctx, created.EventID)
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, result.Status)
	assert.EqualValues(t, 1, result.Removed)
	assert.Equal(t, 1, gw.deleteCalls)
}

func TestDelete_TimeoutStillDeletesLocally(t *testing.T) {
	gw := &fakeGateway{mode: "ok"}
	engine, s := newTestEngine(t, gw)
	ctx := context.Background()

	created, err := engine.Create(ctx, EventData{
		Summary:  "Demo",
		StartISO: "2026-09-01T16:00:00Z",
		EndISO:   "2026-09-01T17:00:00Z",
	})
	require.NoError(t, err)

	gw.mode = "timeout"
	result, err := engine.Delete(ctx, created.EventID)
	require.NoError(t, err)

	assert.Equal(t, StatusCalendarTimeout, result.Status)
	assert.EqualValues(t, 1, result.Removed)
	_, err = s.GetEvent(ctx, created.EventID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdate_SyncedEventUpdatesBothStores(t *testing.T) {
	gw := &fakeGateway{mode: "ok"}
	engine, s := newTestEngine(t, gw)
	ctx := context.Background()

	created, err := engine.Create(ctx, EventData{
		Summary:  "Demo",
		StartISO: "2026-09-01T16:00:00Z",
		EndISO:   "2026-09-01T17:00:00Z",
	})
	require.NoError(t, err)

	result, err := engine.Update(ctx, created.EventID, map[string]any{"summary": "Demo (moved)"})
	require.NoError(t, err)

	assert.Equal(t, StatusSynced, result.Status)
	assert.Equal(t, 1, gw.updateCalls)

	ev, err := s.GetEvent(ctx, created.EventID)
	require.NoError(t, err)
	assert.Equal(t, "Demo (moved)", ev.Summary)
}

func TestUpdate_LocalEventSkipsGateway(t *testing.T) {
	gw := &fakeGateway{mode: "unavailable"}
	engine, _ := newTestEngine(t, gw)
	ctx := context.Background()

	created, err := engine.Create(ctx, EventData{
		Summary:  "Demo",
		StartISO: "2026-09-01T16:00:00Z",
		EndISO:   "2026-09-01T17:00:00Z",
	})
	require.NoError(t, err)

	gw.mode = "ok"
	result, err := engine.Update(ctx, created.EventID, map[string]any{"summary": "Demo (moved)"})
	require.NoError(t, err)

	assert.Equal(t, StatusLocalOnly, result.Status)
	assert.Zero(t, gw.updateCalls)
}

func TestUpdate_ExternalErrorDegradesToLocal(t *testing.T) {
	gw := &fakeGateway{mode: "ok"}
	engine, s := newTestEngine(t, gw)
	ctx := context.Background()

	created, err := engine.Create(ctx, EventData{
		Summary:  "Demo",
		StartISO: "2026-09-01T16:00:00Z",
		EndISO:   "2026-09-01T17:00:00Z",
	})
	require.NoError(t, err)

	gw.mode = "error"
	result, err := engine.Update(ctx, created.EventID, map[string]any{"summary": "Demo (moved)"})
	require.NoError(t, err, "external failure must not fail the local update")

	assert.Equal(t, StatusCalendarError, result.Status)
	assert.NotEmpty(t, result.Detail)

	ev, err := s.GetEvent(ctx, created.EventID)
	require.NoError(t, err)
	assert.Equal(t, "Demo (moved)", ev.Summary, "local leg still applied")
}

func TestUpdate_ReResolvesClientOnCompanyChange(t *testing.T) {
	gw := &fakeGateway{mode: "ok"}
	engine, s := newTestEngine(t, gw)
	ctx := context.Background()

	created, err := engine.Create(ctx, EventData{
		Summary:     "Demo",
		StartISO:    "2026-09-01T16:00:00Z",
		EndISO:      "2026-09-01T17:00:00Z",
		CompanyName: "Tecnoflex",
	})
	require.NoError(t, err)
	oldClientID := created.Event.ClientID
	require.NotNil(t, oldClientID)

	result, err := engine.Update(ctx, created.EventID, map[string]any{"company_name": "Acme"})
	require.NoError(t, err)
	require.NotNil(t, result.Event)
	require.NotNil(t, result.Event.ClientID)
	assert.NotEqual(t, *oldClientID, *result.Event.ClientID, "client must be re-resolved")

	ev, err := s.GetEvent(ctx, created.EventID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", ev.CompanyName)
}

func TestUpdate_ExplicitClientIDSkipsResolution(t *testing.T) {
	gw := &fakeGateway{mode: "ok"}
	engine, s := newTestEngine(t, gw)
	ctx := context.Background()

	created, err := engine.Create(ctx, EventData{
		Summary:  "Demo",
		StartISO: "2026-09-01T16:00:00Z",
		EndISO:   "2026-09-01T17:00:00Z",
	})
	require.NoError(t, err)

	_, err = engine.Update(ctx, created.EventID, map[string]any{"company_name": "Acme", "client_id": int64(42)})
	require.NoError(t, err)

	ev, err := s.GetEvent(ctx, created.EventID)
	require.NoError(t, err)
	require.NotNil(t, ev.ClientID)
	assert.EqualValues(t, 42, *ev.ClientID)
}

func TestUpdate_NotFound(t *testing.T) {
	engine, _ := newTestEngine(t, &fakeGateway{mode: "ok"})

	_, err := engine.Update(context.Background(), "gcal_missing", map[string]any{"summary": "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdate_NeverRewritesEventID(t *testing.T) {
	gw := &fakeGateway{mode: "ok"}
	engine, s := newTestEngine(t, gw)
	ctx := context.Background()

	created, err := engine.Create(ctx, EventData{
		Summary:  "Demo",
		StartISO: "2026-09-01T16:00:00Z",
		EndISO:   "2026-09-01T17:00:00Z",
	})
	require.NoError(t, err)

	_, err = engine.Update(ctx, created.EventID, map[string]any{"event_id": "evil", "summary": "ok"})
	require.NoError(t, err)

	_, err = s.GetEvent(ctx, created.EventID)
	assert.NoError(t, err, "the join key must be untouched by partial updates")
}

func TestBackfillSync_PromotesLocalEvents(t *testing.T) {
	gw := &fakeGateway{mode: "timeout"}
	engine, s := newTestEngine(t, gw)
	ctx := context.Background()

	created, err := engine.Create(ctx, EventData{
		Summary:  "Offline demo",
		StartISO: "2026-09-01T16:00:00Z",
		EndISO:   "2026-09-01T17:00:00Z",
	})
	require.NoError(t, err)
	require.Regexp(t, localIDPattern, created.EventID)

	gw.mode = "ok"
	result, err := engine.BackfillSync(ctx)
	require.NoError(t, err)

	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, 1, result.TotalEvents)
	assert.Equal(t, 1, result.SyncedCount)
	require.Len(t, result.Results, 1)
	assert.Equal(t, BackfillSynced, result.Results[0].Status)
	assert.Equal(t, created.EventID, result.Results[0].OldEventID)

	newID := result.Results[0].NewEventID
	ev, err := s.GetEvent(ctx, newID)
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, ev.Source)
	assert.Equal(t, "primary", ev.CalendarID)

	// The promoted id now works for updates against both stores.
	updated, err := engine.Update(ctx, newID, map[string]any{"summary": "Back online"})
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, updated.Status)
	assert.Equal(t, 1, gw.updateCalls)
}

func TestBackfillSync_Idempotent(t *testing.T) {
	gw := &fakeGateway{mode: "unavailable"}
	engine, _ := newTestEngine(t, gw)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := engine.Create(ctx, EventData{
			Summary:  fmt.Sprintf("Offline %d", i),
			StartISO: "2026-09-01T16:00:00Z",
			EndISO:   "2026-09-01T17:00:00Z",
		})
		require.NoError(t, err)
	}

	gw.mode = "ok"
	first, err := engine.BackfillSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.SyncedCount)

	second, err := engine.BackfillSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.SyncedCount, "a second pass must not recreate anything")
	for _, item := range second.Results {
		assert.Equal(t, BackfillAlreadySynced, item.Status)
	}
}

func TestBackfillSync_UnavailableAbortsUntouched(t *testing.T) {
	gw := &fakeGateway{mode: "unavailable"}
	engine, s := newTestEngine(t, gw)
	ctx := context.Background()

	created, err := engine.Create(ctx, EventData{
		Summary:  "Offline demo",
		StartISO: "2026-09-01T16:00:00Z",
		EndISO:   "2026-09-01T17:00:00Z",
	})
	require.NoError(t, err)

	result, err := engine.BackfillSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, "failed", result.Status)
	assert.NotEmpty(t, result.Error)

	ev, err := s.GetEvent(ctx, created.EventID)
	require.NoError(t, err)
	assert.Equal(t, StatusLocalOnly, ev.Source, "no row is touched when the calendar is unavailable")
}

func TestBackfillSync_PartialFailureContinues(t *testing.T) {
	gw := &fakeGateway{mode: "unavailable"}
	engine, _ := newTestEngine(t, gw)
	ctx := context.Background()

	_, err := engine.Create(ctx, EventData{
		Summary:  "Offline demo",
		StartISO: "2026-09-01T16:00:00Z",
		EndISO:   "2026-09-01T17:00:00Z",
	})
	require.NoError(t, err)

	gw.mode = "error"
	result, err := engine.BackfillSync(ctx)
	require.NoError(t, err)

	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, 0, result.SyncedCount)
	require.Len(t, result.Results, 1)
	assert.Equal(t, BackfillFailed, result.Results[0].Status)
	assert.NotEmpty(t, result.Results[0].Error)
}

func TestResetConnection(t *testing.T) {
	gw := &fakeGateway{mode: "unavailable"}
	engine, _ := newTestEngine(t, gw)

	engine.ResetConnection()
	assert.Equal(t, 1, gw.resetCalls)
}

func TestNewLocalIDShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := newLocalID()
		assert.Regexp(t, localIDPattern, id)
		assert.False(t, seen[id], "local ids must not repeat")
		seen[id] = true
	}
}

func TestOutcomeTimeoutClassification(t *testing.T) {
	o := gateway.Errored(fmt.Errorf("wrapped: %w", context.DeadlineExceeded))
	assert.True(t, o.Timeout())

	o = gateway.Errored(errors.New("boom"))
	assert.False(t, o.Timeout())

	assert.False(t, gateway.Unavailable().Timeout())
}
