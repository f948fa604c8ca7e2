package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/debounce"
	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/driver"
	"github.com/nerrad567/gray-logic-access/internal/event"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/ingest"
	"github.com/nerrad567/gray-logic-access/internal/livesync"
	"github.com/nerrad567/gray-logic-access/internal/realtime"
	"github.com/nerrad567/gray-logic-access/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// stubDriver answers diagnostics calls from canned values.
type stubDriver struct {
	image    []byte
	imageErr error
	raw      *driver.RawResponse

	mu       sync.Mutex
	lastPath string
}

func (d *stubDriver) Brand() device.Brand { return device.BrandHikvision }

func (d *stubDriver) UpsertCredential(context.Context, credential.Subject, *device.Device) error {
	return nil
}

func (d *stubDriver) DeleteCredential(context.Context, credential.Subject, *device.Device) error {
	return nil
}

func (d *stubDriver) FetchSubjectImage(_ context.Context, _ *device.Device, _, _, path string) ([]byte, error) {
	d.mu.Lock()
	d.lastPath = path
	d.mu.Unlock()
	return d.image, d.imageErr
}

func (d *stubDriver) RawRequest(_ context.Context, _, path string, _ []byte, _ *device.Device) (*driver.RawResponse, error) {
	d.mu.Lock()
	d.lastPath = path
	d.mu.Unlock()
	return d.raw, nil
}

// stubSync records sync requests.
type stubSync struct {
	mu     sync.Mutex
	synced []string
	queued []string
}

func (s *stubSync) Sync(_ context.Context, id string) *livesync.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced = append(s.synced, id)
	return &livesync.Report{CredentialID: id, Operation: livesync.OperationUpsert, Results: []livesync.DeviceResult{
		{DeviceID: "dev-gate", Brand: device.BrandHikvision},
	}}
}

func (s *stubSync) SyncUser(ctx context.Context, userID string) ([]*livesync.Report, error) {
	if userID == "u-missing" {
		return nil, errors.New("listing credentials: boom")
	}
	return []*livesync.Report{s.Sync(ctx, "c-1"), s.Sync(ctx, "c-9")}, nil
}

func (s *stubSync) Enqueue(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, id)
}

type testEnv struct {
	srv      *Server
	handler  http.Handler
	events   *event.SQLiteRepository
	devices  *device.Registry
	driver   *stubDriver
	sync     *stubSync
	pipeline *ingest.Pipeline
	audit    *audit.SQLiteRepository
}

// newTestEnv wires a Server over an in-memory database and a real pipeline.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	env := &testEnv{
		events:  event.NewSQLiteRepository(db.DB),
		devices: device.NewRegistry(device.NewSQLiteRepository(db.DB)),
		driver:  &stubDriver{},
		sync:    &stubSync{},
		audit:   audit.NewSQLiteRepository(db.DB),
	}
	creds := credential.NewSQLiteRepository(db.DB)

	if err := env.devices.CreateDevice(ctx, &device.Device{
		ID: "dev-gate", Name: "Main gate", Brand: device.BrandHikvision, Kind: device.KindLPRCamera,
		Host: "192.0.2.10", Direction: device.DirectionEntry,
	}); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	if err := env.devices.CreateDevice(ctx, &device.Device{
		ID: "dev-door", Name: "Side door", Brand: device.BrandDahua, Kind: device.KindRFIDReader,
		Host: "192.0.2.11", Direction: device.DirectionEntry,
	}); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	if err := creds.CreateCredential(ctx, &credential.Credential{
		ID: "c-1", Type: credential.TypePlate, Value: "ABC123",
	}); err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	wsCfg := config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
	hub := NewHub(wsCfg, log)
	hubCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(hubCtx)

	env.pipeline, err = ingest.New(ingest.Config{}, ingest.Deps{
		Parsers:     ingest.NewParserSet(),
		Devices:     env.devices,
		Credentials: creds,
		Events:      env.events,
		Debounce:    debounce.New(debounce.DefaultWindow),
		Publisher:   realtime.New(hub, nil),
	})
	if err != nil {
		t.Fatalf("ingest.New: %v", err)
	}

	env.srv, err = New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
			Ingest:   config.IngestConfig{MaxConcurrent: 4, MaxBacklog: 16, Timeout: 5},
		},
		WS:       wsCfg,
		Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}},
		Logger:   log,
		Pipeline: env.pipeline,
		Events:   env.events,
		Devices:  env.devices,
		Drivers:  driver.NewRegistry(env.driver),
		Sync:     env.sync,
		Trigger:  env.sync,
		Hub:      hub,
		Audit:    env.audit,
		DB:       db.DB,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	env.handler = env.srv.Handler()
	return env
}

func signToken(t *testing.T, secret string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "operator-1",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, authorised bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if authorised {
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, time.Minute))
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

// ─── Health ─────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/health", nil, false)

	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Status  string            `json:"status"`
		Version string            `json:"version"`
		Checks  map[string]string `json:"checks"`
	}
	decode(t, w, &resp)
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("health = %+v, want ok/test", resp)
	}
	if resp.Checks["database"] != "ok" {
		t.Errorf("database check = %q, want ok", resp.Checks["database"])
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/metrics", nil, false)

	var m SystemMetrics
	decode(t, w, &m)
	if m.Devices.Total != 2 {
		t.Errorf("Devices.Total = %d, want 2", m.Devices.Total)
	}
	if m.Devices.ByBrand["DAHUA"] != 1 {
		t.Errorf("Devices.ByBrand[DAHUA] = %d, want 1", m.Devices.ByBrand["DAHUA"])
	}
}

// ─── Authentication ─────────────────────────────────────────────────

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t)

	expired := signToken(t, testSecret, -time.Minute)
	wrongKey := signToken(t, "another-secret-key-that-is-32-chars-long", time.Minute)
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x"}).SignedString([]byte(testSecret))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic YWRtaW46YWRtaW4=", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized},
		{"no expiry", "Bearer " + noExpiry, http.StatusUnauthorized},
		{"valid", "Bearer " + signToken(t, testSecret, time.Minute), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.handler.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAuthMiddleware_Issuer(t *testing.T) {
	env := newTestEnv(t)
	env.srv.secCfg.JWT.Issuer = "operator-auth"

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, time.Minute))
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("token without issuer: status = %d, want 401", w.Code)
	}
}

// ─── Notifications ──────────────────────────────────────────────────

func notifyRequest(brand, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notify/"+brand, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:40123"
	return req
}

func TestNotify_PersistsAndAcknowledges(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, notifyRequest("generic", `{"identifier":"abc-123","access_type":"PLATE"}`))
	env.pipeline.Wait()

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("ack body = %s, want generic success ack", w.Body.String())
	}

	events, err := env.events.List(context.Background(), event.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Decision != event.DecisionGrant || events[0].DeviceID != "dev-gate" {
		t.Errorf("event = %+v, want GRANT at dev-gate", events[0])
	}
}

func TestNotify_DuplicateStillSucceeds(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		env.handler.ServeHTTP(w, notifyRequest("generic", `{"identifier":"XYZ9"}`))
		if w.Code != http.StatusOK {
			t.Errorf("delivery %d status = %d, want 200", i, w.Code)
		}
	}
	env.pipeline.Wait()

	events, _ := env.events.List(context.Background(), event.Filter{})
	if len(events) != 1 {
		t.Errorf("events = %d, want 1", len(events))
	}
}

func TestNotify_VendorAcks(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name        string
		brand       string
		body        string
		contentType string
		wantStatus  int
		wantBody    string
	}{
		{"hikvision reject", "hikvision", "<<<", "application/xml", http.StatusBadRequest, "<ResponseStatus"},
		{"dahua reject", "dahua", `{"Code":"VideoMotion"}`, "application/json", http.StatusBadRequest, `"Result":false`},
		{"unknown brand", "acme", `{}`, "application/json", http.StatusNotFound, `"error"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := notifyRequest(tt.brand, tt.body)
			req.Header.Set("Content-Type", tt.contentType)
			w := httptest.NewRecorder()
			env.handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want containing %s", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestNotify_NoAuthRequired(t *testing.T) {
	env := newTestEnv(t)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, notifyRequest("generic", `{"identifier":"Q1"}`))
	env.pipeline.Wait()
	if w.Code == http.StatusUnauthorized {
		t.Error("notification route must not require a token")
	}
}

// ─── Events ─────────────────────────────────────────────────────────

func TestEvents_ListAndGet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, d := range []event.Decision{event.DecisionGrant, event.DecisionDeny, event.DecisionDeny} {
		id := "AAA" + string(rune('0'+i))
		if err := env.events.Create(ctx, &event.AccessEvent{
			ID: event.NewID(), Timestamp: base.Add(time.Duration(i) * time.Minute),
			DeviceID: "dev-gate", Decision: d, DetectedIdentifier: &id,
			AccessType: credential.TypePlate, Direction: device.DirectionEntry,
		}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantCount int
	}{
		{"all", "", http.StatusOK, 3},
		{"deny only", "?decision=DENY", http.StatusOK, 2},
		{"limit", "?limit=1", http.StatusOK, 1},
		{"since", "?since=2026-03-01T08:01:00Z", http.StatusOK, 2},
		{"other device", "?device_id=dev-door", http.StatusOK, 0},
		{"bad decision", "?decision=MAYBE", http.StatusBadRequest, 0},
		{"bad limit", "?limit=-1", http.StatusBadRequest, 0},
		{"bad since", "?since=yesterday", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/v1/events"+tt.query, nil, true)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var resp struct {
				Count  int                 `json:"count"`
				Events []event.AccessEvent `json:"events"`
			}
			decode(t, w, &resp)
			if resp.Count != tt.wantCount {
				t.Errorf("count = %d, want %d", resp.Count, tt.wantCount)
			}
		})
	}

	// Newest first, then fetch it by ID.
	w := env.do(t, http.MethodGet, "/api/v1/events?limit=1", nil, true)
	var list struct {
		Events []event.AccessEvent `json:"events"`
	}
	decode(t, w, &list)
	w = env.do(t, http.MethodGet, "/api/v1/events/"+list.Events[0].ID, nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", w.Code)
	}
	var got map[string]any
	decode(t, w, &got)
	if got["detected_identifier"] != "AAA2" {
		t.Errorf("detected_identifier = %v, want AAA2", got["detected_identifier"])
	}
	if _, ok := got["credential_id"]; ok {
		t.Error("credential_id must be absent on DENY events")
	}

	w = env.do(t, http.MethodGet, "/api/v1/events/does-not-exist", nil, true)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing event status = %d, want 404", w.Code)
	}
}

// ─── LiveSync trigger ───────────────────────────────────────────────

func TestSyncCredential(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/credentials/c-1/sync", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("sync status = %d, want 200", w.Code)
	}
	var report struct {
		CredentialID string `json:"credential_id"`
		Results      []struct {
			DeviceID string `json:"device_id"`
			OK       bool   `json:"ok"`
		} `json:"results"`
	}
	decode(t, w, &report)
	if report.CredentialID != "c-1" || len(report.Results) != 1 || !report.Results[0].OK {
		t.Errorf("report = %+v", report)
	}

	w = env.do(t, http.MethodPost, "/api/v1/credentials/c-2/sync?async=true", nil, true)
	if w.Code != http.StatusAccepted {
		t.Fatalf("async sync status = %d, want 202", w.Code)
	}
	if len(env.sync.queued) != 1 || env.sync.queued[0] != "c-2" {
		t.Errorf("queued = %v, want [c-2]", env.sync.queued)
	}
}

func TestSyncUser(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/users/u-1/sync", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	var body struct {
		UserID  string `json:"user_id"`
		Reports []struct {
			CredentialID string `json:"credential_id"`
		} `json:"reports"`
	}
	decode(t, w, &body)
	if body.UserID != "u-1" || len(body.Reports) != 2 {
		t.Errorf("body = %+v, want two reports for u-1", body)
	}

	if w := env.do(t, http.MethodPost, "/api/v1/users/u-missing/sync", nil, true); w.Code != http.StatusInternalServerError {
		t.Errorf("failing lookup status = %d, want 500", w.Code)
	}
}

// ─── Diagnostics ────────────────────────────────────────────────────

func TestSubjectImage(t *testing.T) {
	env := newTestEnv(t)
	jpeg := []byte("\xff\xd8\xff\xe0fakejpeg")

	tests := []struct {
		name     string
		path     string
		image    []byte
		imageErr error
		want     int
	}{
		{"found", "/api/v1/devices/dev-gate/subjects/u-1/image?path=/pic/1.jpg", jpeg, nil, http.StatusOK},
		{"absent", "/api/v1/devices/dev-gate/subjects/u-1/image", nil, nil, http.StatusNotFound},
		{"device offline", "/api/v1/devices/dev-gate/subjects/u-1/image", nil, driver.ErrConnection, http.StatusGatewayTimeout},
		{"device rejects", "/api/v1/devices/dev-gate/subjects/u-1/image", nil, driver.ErrAuth, http.StatusBadGateway},
		{"unknown device", "/api/v1/devices/nope/subjects/u-1/image", nil, nil, http.StatusNotFound},
		{"brand without driver", "/api/v1/devices/dev-door/subjects/u-1/image", nil, nil, http.StatusNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.driver.image, env.driver.imageErr = tt.image, tt.imageErr
			w := env.do(t, http.MethodGet, tt.path, nil, true)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
			if tt.want == http.StatusOK {
				if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
					t.Errorf("Content-Type = %q, want image/jpeg", ct)
				}
				if !bytes.Equal(w.Body.Bytes(), jpeg) {
					t.Error("image bytes not proxied unchanged")
				}
				if env.driver.lastPath != "/pic/1.jpg" {
					t.Errorf("path = %q, want /pic/1.jpg", env.driver.lastPath)
				}
			}
		})
	}
}

func TestRawRequest(t *testing.T) {
	env := newTestEnv(t)
	env.driver.raw = &driver.RawResponse{StatusCode: 404, ContentType: "application/xml", Body: []byte("<ResponseStatus/>")}

	w := env.do(t, http.MethodPost, "/api/v1/devices/dev-gate/raw",
		strings.NewReader(`{"method":"get","path":"/ISAPI/System/deviceInfo"}`), true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	var resp rawResponseBody
	decode(t, w, &resp)
	if resp.StatusCode != 404 || resp.Body != "<ResponseStatus/>" {
		t.Errorf("raw response = %+v", resp)
	}

	w = env.do(t, http.MethodPost, "/api/v1/devices/dev-gate/raw", strings.NewReader(`{"path":"no-slash"}`), true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("relative path status = %d, want 400", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/v1/devices/dev-gate/raw", strings.NewReader(`{`), true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad JSON status = %d, want 400", w.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	env := newTestEnv(t)
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("boom"))
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "abc" {
		t.Errorf("X-Request-ID = %q, want abc", got)
	}
}

// ─── WebSocket ──────────────────────────────────────────────────────

// connectWebSocket obtains a ticket and dials the live feed.
func connectWebSocket(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/auth/ws-ticket", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, time.Minute))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ws-ticket request failed: %v", err)
	}
	defer resp.Body.Close()

	var ticket struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode ticket response: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?ticket=" + ticket.Ticket
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendFrame(t *testing.T, ws *websocket.Conn, frameType, id string, data any) {
	t.Helper()
	f := Frame{Type: frameType, ID: id}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal frame data: %v", err)
		}
		f.Data = raw
	}
	if err := ws.WriteJSON(f); err != nil {
		t.Fatalf("write %s frame: %v", frameType, err)
	}
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func notifyGeneric(t *testing.T, ts *httptest.Server, identifier string) {
	t.Helper()
	body := strings.NewReader(`{"identifier":"` + identifier + `"}`)
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/notify/generic", body)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	resp.Body.Close()
}

func TestWebSocket_LiveFeed(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ws := connectWebSocket(t, ts)
	sendFrame(t, ws, FrameSubscribe, "sub-1", Subscription{Channels: []string{ChannelAccessEvent}})

	ack := readFrame(t, ws)
	if ack.Type != FrameAck || ack.ID != "sub-1" {
		t.Fatalf("subscribe reply = %+v", ack)
	}

	notifyGeneric(t, ts, "ABC123")

	f := readFrame(t, ws)
	if f.Type != FrameAccessEvent || f.Channel != ChannelAccessEvent {
		t.Fatalf("frame = %+v", f)
	}
	var ev event.AccessEvent
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		t.Fatalf("decode access event: %v", err)
	}
	if ev.DetectedIdentifier == nil || *ev.DetectedIdentifier != "ABC123" || ev.Decision != event.DecisionGrant {
		t.Errorf("event = %+v", ev)
	}
}

func TestWebSocket_UnknownChannelRejected(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ws := connectWebSocket(t, ts)
	sendFrame(t, ws, FrameSubscribe, "sub-1", Subscription{Channels: []string{ChannelAccessEvent, "device.state"}})

	f := readFrame(t, ws)
	if f.Type != FrameError || f.ID != "sub-1" {
		t.Fatalf("reply = %+v", f)
	}
	var reply struct {
		Channels []string `json:"channels"`
	}
	if err := json.Unmarshal(f.Data, &reply); err != nil {
		t.Fatalf("decode error data: %v", err)
	}
	if len(reply.Channels) != 1 || reply.Channels[0] != "device.state" {
		t.Errorf("unknown channels = %v", reply.Channels)
	}

	// The rejected subscribe must not have enabled access.event.
	sendFrame(t, ws, FramePing, "p-1", nil)
	notifyGeneric(t, ts, "ABC123")
	if f := readFrame(t, ws); f.Type != FramePong {
		t.Fatalf("frame after rejected subscribe = %+v", f)
	}
	ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var extra Frame
	if err := ws.ReadJSON(&extra); err == nil {
		t.Errorf("unexpected frame %+v", extra)
	}
}

func TestWebSocket_DeviceFilter(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ws := connectWebSocket(t, ts)
	sendFrame(t, ws, FrameSubscribe, "sub-1", Subscription{
		Channels:  []string{ChannelAccessEvent},
		DeviceIDs: []string{"dev-elsewhere"},
	})
	if f := readFrame(t, ws); f.Type != FrameAck {
		t.Fatalf("subscribe reply = %+v", f)
	}

	notifyGeneric(t, ts, "ABC123")

	ws.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var f Frame
	if err := ws.ReadJSON(&f); err == nil {
		t.Errorf("filtered client received %+v", f)
	}
}

func TestWebSocket_SyncReports(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ws := connectWebSocket(t, ts)
	sendFrame(t, ws, FrameSubscribe, "sub-1", Subscription{Channels: []string{ChannelSyncReport}})
	if f := readFrame(t, ws); f.Type != FrameAck {
		t.Fatalf("subscribe reply = %+v", f)
	}

	env.srv.Hub().BroadcastReport(&livesync.Report{CredentialID: "c-1", Operation: livesync.OperationUpsert})

	f := readFrame(t, ws)
	if f.Type != FrameSyncReport || f.Channel != ChannelSyncReport {
		t.Fatalf("frame = %+v", f)
	}
	var report struct {
		CredentialID string `json:"credential_id"`
		Operation    string `json:"operation"`
	}
	if err := json.Unmarshal(f.Data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.CredentialID != "c-1" || report.Operation != "upsert" {
		t.Errorf("report = %+v", report)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ws := connectWebSocket(t, ts)
	sendFrame(t, ws, FramePing, "p-1", nil)
	if f := readFrame(t, ws); f.Type != FramePong || f.ID != "p-1" {
		t.Errorf("pong = %+v", f)
	}
}

func TestWebSocket_TicketRequired(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	base := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	for _, url := range []string{base, base + "?ticket=invalid-ticket"} {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatalf("expected error dialing %s", url)
		}
		if resp != nil && resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	}
}

func TestTickets_SingleUseAndExpiry(t *testing.T) {
	env := newTestEnv(t)
	s := env.srv

	s.tickets.tickets["fresh"] = ticketEntry{subject: "op", expiresAt: time.Now().Add(time.Minute)}
	s.tickets.tickets["stale"] = ticketEntry{subject: "op", expiresAt: time.Now().Add(-time.Minute)}

	if _, ok := s.validateTicket("fresh"); !ok {
		t.Error("fresh ticket rejected")
	}
	if _, ok := s.validateTicket("fresh"); ok {
		t.Error("ticket accepted twice")
	}

	s.cleanExpiredTickets()
	if _, ok := s.tickets.tickets["stale"]; ok {
		t.Error("expired ticket not cleaned")
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New(Deps{}) error = nil, want missing logger")
	}
}
