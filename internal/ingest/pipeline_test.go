package ingest

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-access/internal/blob"
	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/debounce"
	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/event"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/migrations"
)

var t0 = time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.AccessEvent
	block  chan struct{}
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e *event.AccessEvent) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *e)
	return p.err
}

func (p *recordingPublisher) published() []event.AccessEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]event.AccessEvent(nil), p.events...)
}

type recordingMetrics struct {
	mu         sync.Mutex
	decisions  []string
	suppressed int
}

func (m *recordingMetrics) RecordAccessDecision(_, decision, _ string, suppressed bool, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if suppressed {
		m.suppressed++
		return
	}
	m.decisions = append(m.decisions, decision)
}

type failingStore struct{}

func (failingStore) Create(context.Context, *event.AccessEvent) error {
	return errors.New("disk I/O error")
}

type failingBlobs struct{}

func (failingBlobs) Store(context.Context, []byte, string, string, string) (string, error) {
	return "", blob.ErrStoreFailed
}

type fixture struct {
	pipeline    *Pipeline
	events      *event.SQLiteRepository
	credentials *credential.SQLiteRepository
	devices     *device.Registry
	publisher   *recordingPublisher
	metrics     *recordingMetrics
	blobs       *blob.FileStore
}

func setupFixture(t *testing.T, mutate ...func(*Deps)) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	require.NoError(t, db.Migrate(ctx, migrations.FS))

	f := &fixture{
		events:      event.NewSQLiteRepository(db.DB),
		credentials: credential.NewSQLiteRepository(db.DB),
		devices:     device.NewRegistry(device.NewSQLiteRepository(db.DB)),
		publisher:   &recordingPublisher{},
		metrics:     &recordingMetrics{},
		blobs:       blob.NewFileStore(t.TempDir()),
	}

	mac := "aa:bb:cc:00:11:22"
	require.NoError(t, f.devices.CreateDevice(ctx, &device.Device{
		ID: "dev-gate", Name: "Main gate", Brand: device.BrandHikvision, Kind: device.KindLPRCamera,
		Host: "10.0.0.5", Direction: device.DirectionEntry, MAC: &mac,
	}))
	require.NoError(t, f.devices.CreateDevice(ctx, &device.Device{
		ID: "dev-exit", Name: "Exit lane", Brand: device.BrandHikvision, Kind: device.KindLPRCamera,
		Host: "10.0.0.6", Direction: device.DirectionExit,
	}))
	require.NoError(t, f.devices.CreateDevice(ctx, &device.Device{
		ID: "dev-aaa", Name: "A lobby reader", Brand: device.BrandGeneric, Kind: device.KindRFIDReader,
		Host: "10.0.0.7", Direction: device.DirectionEntry,
	}))

	require.NoError(t, f.credentials.CreateUser(ctx, &credential.User{ID: "u-1", Name: "Alice"}))
	owner := "u-1"
	require.NoError(t, f.credentials.CreateCredential(ctx, &credential.Credential{
		ID: "c-1", Type: credential.TypePlate, Value: "ABC123", UserID: &owner,
	}))

	deps := Deps{
		Parsers:     NewParserSet(),
		Devices:     f.devices,
		Credentials: f.credentials,
		Events:      f.events,
		Debounce:    debounce.New(debounce.DefaultWindow),
		Blobs:       f.blobs,
		Publisher:   f.publisher,
		Metrics:     f.metrics,
	}
	for _, m := range mutate {
		m(&deps)
	}

	p, err := New(Config{}, deps)
	require.NoError(t, err)
	f.pipeline = p
	return f
}

func genericDelivery(identifier string, at time.Time) Delivery {
	return Delivery{
		Brand:       device.BrandGeneric,
		ContentType: "application/json",
		Body:        []byte(`{"identifier":"` + identifier + `","access_type":"PLATE","device":"aa:bb:cc:00:11:22"}`),
		RemoteAddr:  "10.0.0.5:50123",
		ReceivedAt:  at,
	}
}

func (f *fixture) allEvents(t *testing.T) []event.AccessEvent {
	t.Helper()
	events, err := f.events.List(context.Background(), event.Filter{})
	require.NoError(t, err)
	return events
}

func TestPipeline_GrantOnExactMatch(t *testing.T) {
	f := setupFixture(t)

	out := f.pipeline.Handle(context.Background(), genericDelivery("abc-123", t0))
	f.pipeline.Wait()

	require.Equal(t, StatePersisted, out.State)
	require.NoError(t, out.Err)
	assert.Equal(t, http.StatusOK, out.Ack.StatusCode)

	ev := out.Event
	assert.Equal(t, event.DecisionGrant, ev.Decision)
	require.NotNil(t, ev.CredentialID)
	require.NotNil(t, ev.UserID)
	assert.Equal(t, "c-1", *ev.CredentialID)
	assert.Equal(t, "u-1", *ev.UserID)
	assert.Equal(t, "ABC123", *ev.DetectedIdentifier)
	assert.Equal(t, "dev-gate", ev.DeviceID)
	assert.Equal(t, device.DirectionEntry, ev.Direction)

	stored, err := f.events.Get(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, event.DecisionGrant, stored.Decision)

	published := f.publisher.published()
	require.Len(t, published, 1)
	assert.Equal(t, ev.ID, published[0].ID)
	assert.Equal(t, []string{"GRANT"}, f.metrics.decisions)
}

func TestPipeline_DenyWithoutMatch(t *testing.T) {
	f := setupFixture(t)

	out := f.pipeline.Handle(context.Background(), genericDelivery("ZZZ999", t0))
	f.pipeline.Wait()

	require.Equal(t, StatePersisted, out.State)
	assert.Equal(t, event.DecisionDeny, out.Event.Decision)
	assert.Nil(t, out.Event.CredentialID)
	assert.Nil(t, out.Event.UserID)
}

func TestPipeline_NoFuzzyMatching(t *testing.T) {
	f := setupFixture(t)

	// One character off, and a prefix: both must deny.
	for _, plate := range []string{"ABC124", "ABC12"} {
		out := f.pipeline.Handle(context.Background(), genericDelivery(plate, t0))
		require.Equal(t, StatePersisted, out.State)
		assert.Equal(t, event.DecisionDeny, out.Event.Decision, plate)
	}
}

func TestPipeline_DebounceWindow(t *testing.T) {
	tests := []struct {
		name       string
		gap        time.Duration
		wantEvents int
	}{
		{"within window", 4999 * time.Millisecond, 1},
		{"at window", 5000 * time.Millisecond, 2},
		{"well apart", time.Minute, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupFixture(t)
			ctx := context.Background()

			first := f.pipeline.Handle(ctx, genericDelivery("ABC123", t0))
			second := f.pipeline.Handle(ctx, genericDelivery("abc 123", t0.Add(tt.gap)))
			f.pipeline.Wait()

			assert.Equal(t, http.StatusOK, first.Ack.StatusCode)
			assert.Equal(t, http.StatusOK, second.Ack.StatusCode, "duplicates are acknowledged as success")
			assert.Len(t, f.allEvents(t), tt.wantEvents)
			if tt.wantEvents == 1 {
				assert.Equal(t, StateSuppressed, second.State)
				assert.Nil(t, second.Event)
				assert.Equal(t, 1, f.metrics.suppressed)
			}
		})
	}
}

func TestPipeline_DebounceIgnoresDevice(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	entry := genericDelivery("ABC123", t0)
	exit := genericDelivery("ABC123", t0.Add(time.Second))
	exit.Body = []byte(`{"identifier":"ABC123","access_type":"PLATE"}`)
	exit.RemoteAddr = "10.0.0.6:40000"

	require.Equal(t, StatePersisted, f.pipeline.Handle(ctx, entry).State)
	assert.Equal(t, StateSuppressed, f.pipeline.Handle(ctx, exit).State,
		"the same plate at a second device inside the window is suppressed")
}

func TestPipeline_ConcurrentDuplicates(t *testing.T) {
	f := setupFixture(t)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 8)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = f.pipeline.Handle(context.Background(), genericDelivery("ABC123", t0))
		}(i)
	}
	wg.Wait()
	f.pipeline.Wait()

	persisted := 0
	for _, o := range outcomes {
		assert.Equal(t, http.StatusOK, o.Ack.StatusCode)
		if o.State == StatePersisted {
			persisted++
		}
	}
	assert.Equal(t, 1, persisted)
	assert.Len(t, f.allEvents(t), 1)
}

func TestPipeline_DeviceResolution(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		remoteAddr string
		wantDevice string
		wantDir    device.Direction
	}{
		{"by MAC", `{"identifier":"A1","device":"AA-BB-CC-00-11-22"}`, "192.0.2.1:1", "dev-gate", device.DirectionEntry},
		{"by host", `{"identifier":"A1"}`, "10.0.0.6:5555", "dev-exit", device.DirectionExit},
		{"fallback first by name", `{"identifier":"A1","device":"ff:ff:ff:ff:ff:ff"}`, "192.0.2.1:1", "dev-aaa", device.DirectionEntry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupFixture(t)
			out := f.pipeline.Handle(context.Background(), Delivery{
				Brand:       device.BrandGeneric,
				ContentType: "application/json",
				Body:        []byte(tt.body),
				RemoteAddr:  tt.remoteAddr,
				ReceivedAt:  t0,
			})
			require.Equal(t, StatePersisted, out.State)
			assert.Equal(t, tt.wantDevice, out.Event.DeviceID)
			assert.Equal(t, tt.wantDir, out.Event.Direction)
		})
	}
}

func TestPipeline_RejectsUnparseable(t *testing.T) {
	f := setupFixture(t)

	tests := []struct {
		name string
		d    Delivery
	}{
		{"garbage", Delivery{Brand: device.BrandHikvision, ContentType: "application/xml", Body: []byte("<<<")}},
		{"no identifier", Delivery{Brand: device.BrandDahua, ContentType: "application/json", Body: []byte(`{"Code":"VideoMotion"}`)}},
		{"empty after cleaning", genericDelivery("--!!", t0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := f.pipeline.Handle(context.Background(), tt.d)
			assert.Equal(t, StateRejected, out.State)
			assert.ErrorIs(t, out.Err, ErrParse)
			assert.Equal(t, http.StatusBadRequest, out.Ack.StatusCode)
		})
	}
	assert.Empty(t, f.allEvents(t))
}

func TestPipeline_UnknownBrand(t *testing.T) {
	f := setupFixture(t)
	out := f.pipeline.Handle(context.Background(), Delivery{Brand: "ACME", Body: []byte("{}")})
	assert.Equal(t, StateRejected, out.State)
	assert.ErrorIs(t, out.Err, ErrUnknownBrand)
	assert.Equal(t, http.StatusNotFound, out.Ack.StatusCode)
}

func TestPipeline_PersistFailureIsFatal(t *testing.T) {
	f := setupFixture(t, func(d *Deps) { d.Events = failingStore{} })

	out := f.pipeline.Handle(context.Background(), genericDelivery("ABC123", t0))
	f.pipeline.Wait()

	assert.Equal(t, StateFailed, out.State)
	assert.ErrorIs(t, out.Err, ErrPersist)
	assert.Equal(t, http.StatusInternalServerError, out.Ack.StatusCode)
	assert.Empty(t, f.publisher.published(), "nothing is broadcast for a lost event")
}

func TestPipeline_Snapshot(t *testing.T) {
	hik := func() Delivery {
		ct, body := multipartBody(t,
			[3]string{"anpr.xml", "application/xml", hikANPRXML},
			[3]string{"licensePlatePicture", "image/jpeg", "\xff\xd8jpeg"},
		)
		return Delivery{Brand: device.BrandHikvision, ContentType: ct, Body: body, ReceivedAt: t0}
	}

	t.Run("stored", func(t *testing.T) {
		f := setupFixture(t)
		out := f.pipeline.Handle(context.Background(), hik())
		require.Equal(t, StatePersisted, out.State)
		require.NotNil(t, out.Event.SnapshotRef)

		img, err := f.blobs.Load(context.Background(), *out.Event.SnapshotRef)
		require.NoError(t, err)
		assert.Equal(t, []byte("\xff\xd8jpeg"), img)
		assert.Equal(t, "dev-gate", out.Event.DeviceID)
		assert.Equal(t, event.DecisionGrant, out.Event.Decision)
	})

	t.Run("blob failure is not fatal", func(t *testing.T) {
		f := setupFixture(t, func(d *Deps) { d.Blobs = failingBlobs{} })
		out := f.pipeline.Handle(context.Background(), hik())
		require.Equal(t, StatePersisted, out.State)
		assert.Nil(t, out.Event.SnapshotRef)
	})
}

func TestPipeline_BroadcastDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	f := setupFixture(t, func(d *Deps) {})
	f.publisher.block = release

	done := make(chan Outcome, 1)
	go func() { done <- f.pipeline.Handle(context.Background(), genericDelivery("ABC123", t0)) }()

	select {
	case out := <-done:
		assert.Equal(t, StatePersisted, out.State)
	case <-time.After(2 * time.Second):
		t.Fatal("Handle blocked on a slow publisher")
	}

	close(release)
	f.pipeline.Wait()
	assert.Len(t, f.publisher.published(), 1)
}

func TestPipeline_PublishErrorIgnored(t *testing.T) {
	f := setupFixture(t)
	f.publisher.err = errors.New("no subscribers")

	out := f.pipeline.Handle(context.Background(), genericDelivery("ABC123", t0))
	f.pipeline.Wait()
	assert.Equal(t, StatePersisted, out.State)
}

func TestPipeline_NoDevicesRegistered(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	require.NoError(t, db.Migrate(ctx, migrations.FS))

	p, err := New(Config{}, Deps{
		Parsers:     NewParserSet(),
		Devices:     device.NewRegistry(device.NewSQLiteRepository(db.DB)),
		Credentials: credential.NewSQLiteRepository(db.DB),
		Events:      event.NewSQLiteRepository(db.DB),
		Debounce:    debounce.New(debounce.DefaultWindow),
	})
	require.NoError(t, err)

	out := p.Handle(ctx, genericDelivery("ABC123", t0))
	require.Equal(t, StatePersisted, out.State)
	assert.Equal(t, UnresolvedDeviceID, out.Event.DeviceID)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}

func TestEventTime(t *testing.T) {
	assert.Equal(t, t0, eventTime(time.Time{}, t0))
	assert.Equal(t, t0.Add(-time.Minute), eventTime(t0.Add(-time.Minute), t0))
	assert.Equal(t, t0, eventTime(t0.Add(-48*time.Hour), t0), "implausible device clock is ignored")
}
