package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/psds-microservice/stream-registry-service/internal/bus"
	"github.com/psds-microservice/stream-registry-service/internal/handler"
	"github.com/psds-microservice/stream-registry-service/internal/metrics"
	"github.com/psds-microservice/stream-registry-service/internal/model"
	"github.com/psds-microservice/stream-registry-service/internal/presence"
	"github.com/psds-microservice/stream-registry-service/internal/router"
	"github.com/psds-microservice/stream-registry-service/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// memHistory is a minimal in-memory history repo for HTTP-level tests.
type memHistory struct {
	mu      sync.Mutex
	records map[string]*model.SessionRecord
}

func (f *memHistory) Append(rec *model.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.records[rec.ID] = &cp
	return nil
}

func (f *memHistory) Finish(sessionID, status, errorMessage string, endedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[sessionID]
	if !ok || rec.Status != string(model.SessionStatusActive) {
		return nil
	}
	duration := endedAt.Sub(rec.StartedAt).Milliseconds()
	rec.Status = status
	rec.ErrorMessage = errorMessage
	rec.EndedAt = &endedAt
	rec.DurationMs = &duration
	return nil
}

func (f *memHistory) ListActiveIDs() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, rec := range f.records {
		if rec.Status == string(model.SessionStatusActive) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *memHistory) List(filter model.HistoryFilter) ([]model.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SessionRecord
	for _, rec := range f.records {
		if filter.StreamID != "" && rec.StreamID != filter.StreamID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (f *memHistory) PurgeOlderThan(cutoff time.Time) (int64, error) { return 0, nil }

// memTypes is a minimal in-memory type repo for HTTP-level tests.
type memTypes struct {
	mu    sync.Mutex
	types map[string]model.StreamType
}

func (f *memTypes) List() ([]model.StreamType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.StreamType, 0, len(f.types))
	for _, t := range f.types {
		out = append(out, t)
	}
	return out, nil
}

func (f *memTypes) Exists(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.types[name]
	return ok, nil
}

func (f *memTypes) Create(t *model.StreamType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types[t.Name] = *t
	return nil
}

func newTestServer(t *testing.T, negotiationTimeout time.Duration) (http.Handler, *bus.MemoryBus) {
	t.Helper()
	log := zap.NewNop()
	store := presence.NewMemoryStore()
	msgBus := bus.NewMemoryBus()
	history := &memHistory{records: make(map[string]*model.SessionRecord)}
	types := &memTypes{types: map[string]model.StreamType{
		"ndi": {Name: "ndi", DisplayName: "NDI"},
	}}
	m := metrics.New()
	hub := service.NewEventHub(log)

	tracker := service.NewTracker(store, history, hub, 30*time.Second, log)
	broker := service.NewBroker(store, msgBus, tracker, negotiationTimeout, log)
	registry := service.NewRegistry(store, broker, tracker, types, hub, m, 30*time.Second, log)

	r := router.New(
		handler.NewStreamHandler(registry),
		handler.NewSessionHandler(registry),
		handler.NewEventsWSHandler(hub, log),
		handler.NewHealthHandler(),
		m.Handler(func() { m.SetLive(registry.LiveCounts()) }),
	)
	return r, msgBus
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func advertiseBody() map[string]any {
	return map[string]any{
		"name":         "Camera A",
		"stream_type":  "ndi",
		"publisher_id": "pub-1",
		"protocol":     "ndi",
		"address":      "192.168.1.50",
		"port":         5960,
	}
}

func TestAdvertiseDiscoverNegotiate(t *testing.T) {
	h, msgBus := newTestServer(t, 2*time.Second)

	// Advertise.
	w := doJSON(t, h, http.MethodPost, "/streams/advertise", advertiseBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("advertise: %d %s", w.Code, w.Body.String())
	}
	ad := decode[model.Advertisement](t, w)
	if ad.ID == "" {
		t.Fatal("advertise returned no id")
	}

	// Discovery shows the stream with no sessions yet.
	w = doJSON(t, h, http.MethodGet, "/streams", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	list := decode[struct {
		Streams []model.Advertisement `json:"streams"`
	}](t, w)
	if len(list.Streams) != 1 || list.Streams[0].ActiveSessions != 0 {
		t.Fatalf("list = %+v", list.Streams)
	}

	// Publisher answers the negotiation subject.
	_, err := msgBus.Subscribe(bus.StreamRequestSubject(ad.ID), func(msg *bus.Message) {
		reply, _ := json.Marshal(model.NegotiationReply{
			Accepted:        true,
			TransportConfig: map[string]any{"ndi_name": "CAM-A"},
		})
		_ = msg.Respond(reply)
	})
	if err != nil {
		t.Fatalf("subscribe publisher: %v", err)
	}

	// Negotiate.
	w = doJSON(t, h, http.MethodPost, "/streams/"+ad.ID+"/request", map[string]any{
		"consumer_id":      "c1",
		"consumer_address": "192.168.1.60",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("request: %d %s", w.Code, w.Body.String())
	}
	offer := decode[model.StreamOffer](t, w)
	if offer.SessionID == "" || offer.TransportConfig["ndi_name"] != "CAM-A" {
		t.Fatalf("offer = %+v", offer)
	}

	// One active session is visible.
	w = doJSON(t, h, http.MethodGet, "/streams/sessions", nil)
	sessions := decode[struct {
		Sessions []model.Session `json:"sessions"`
	}](t, w)
	if len(sessions.Sessions) != 1 || sessions.Sessions[0].Status != model.SessionStatusActive {
		t.Fatalf("sessions = %+v", sessions.Sessions)
	}

	// The stream now reports one active session.
	w = doJSON(t, h, http.MethodGet, "/streams/"+ad.ID, nil)
	got := decode[model.Advertisement](t, w)
	if got.ActiveSessions != 1 {
		t.Errorf("active_sessions = %d, want 1", got.ActiveSessions)
	}
}

func TestNegotiationTimeoutReturns504(t *testing.T) {
	timeout := 150 * time.Millisecond
	h, _ := newTestServer(t, timeout)

	w := doJSON(t, h, http.MethodPost, "/streams/advertise", advertiseBody())
	ad := decode[model.Advertisement](t, w)

	start := time.Now()
	w = doJSON(t, h, http.MethodPost, "/streams/"+ad.ID+"/request", map[string]any{
		"consumer_id":      "c1",
		"consumer_address": "192.168.1.60",
	})
	elapsed := time.Since(start)

	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("request with no publisher: %d %s", w.Code, w.Body.String())
	}
	if elapsed < timeout {
		t.Errorf("returned after %v, want >= %v", elapsed, timeout)
	}

	w = doJSON(t, h, http.MethodGet, "/streams/sessions", nil)
	sessions := decode[struct {
		Sessions []model.Session `json:"sessions"`
	}](t, w)
	if len(sessions.Sessions) != 0 {
		t.Errorf("timed-out negotiation left sessions: %+v", sessions.Sessions)
	}
}

func TestRejectedNegotiationReturns502(t *testing.T) {
	h, msgBus := newTestServer(t, time.Second)
	w := doJSON(t, h, http.MethodPost, "/streams/advertise", advertiseBody())
	ad := decode[model.Advertisement](t, w)

	_, _ = msgBus.Subscribe(bus.StreamRequestSubject(ad.ID), func(msg *bus.Message) {
		reply, _ := json.Marshal(model.NegotiationReply{Accepted: false, Reason: "at capacity"})
		_ = msg.Respond(reply)
	})

	w = doJSON(t, h, http.MethodPost, "/streams/"+ad.ID+"/request", map[string]any{
		"consumer_id":      "c1",
		"consumer_address": "192.168.1.60",
	})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("rejected negotiation: %d %s", w.Code, w.Body.String())
	}
}

func TestGetMissingStreamReturns404(t *testing.T) {
	h, _ := newTestServer(t, time.Second)
	w := doJSON(t, h, http.MethodGet, "/streams/00000000-0000-0000-0000-000000000000", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get missing stream: %d", w.Code)
	}
}

func TestAdvertiseValidationReturns400(t *testing.T) {
	h, _ := newTestServer(t, time.Second)
	body := advertiseBody()
	delete(body, "publisher_id")
	w := doJSON(t, h, http.MethodPost, "/streams/advertise", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("advertise without publisher_id: %d %s", w.Code, w.Body.String())
	}
}

func TestWithdrawCascadesOverHTTP(t *testing.T) {
	h, msgBus := newTestServer(t, time.Second)
	w := doJSON(t, h, http.MethodPost, "/streams/advertise", advertiseBody())
	ad := decode[model.Advertisement](t, w)

	_, _ = msgBus.Subscribe(bus.StreamRequestSubject(ad.ID), func(msg *bus.Message) {
		reply, _ := json.Marshal(model.NegotiationReply{Accepted: true})
		_ = msg.Respond(reply)
	})
	w = doJSON(t, h, http.MethodPost, "/streams/"+ad.ID+"/request", map[string]any{
		"consumer_id":      "c1",
		"consumer_address": "192.168.1.60",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("request: %d", w.Code)
	}

	w = doJSON(t, h, http.MethodDelete, "/streams/"+ad.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("withdraw: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, h, http.MethodGet, "/streams/sessions", nil)
	sessions := decode[struct {
		Sessions []model.Session `json:"sessions"`
	}](t, w)
	if len(sessions.Sessions) != 0 {
		t.Errorf("sessions survive withdraw: %+v", sessions.Sessions)
	}

	// Cascade is visible in history.
	w = doJSON(t, h, http.MethodGet, "/streams/sessions/history?stream_id="+ad.ID, nil)
	history := decode[struct {
		History []model.SessionRecord `json:"history"`
	}](t, w)
	if len(history.History) != 1 || history.History[0].ErrorMessage != "stream withdrawn" {
		t.Errorf("history = %+v", history.History)
	}
}

func TestStopAndHeartbeatSession(t *testing.T) {
	h, msgBus := newTestServer(t, time.Second)
	w := doJSON(t, h, http.MethodPost, "/streams/advertise", advertiseBody())
	ad := decode[model.Advertisement](t, w)

	_, _ = msgBus.Subscribe(bus.StreamRequestSubject(ad.ID), func(msg *bus.Message) {
		reply, _ := json.Marshal(model.NegotiationReply{Accepted: true})
		_ = msg.Respond(reply)
	})
	w = doJSON(t, h, http.MethodPost, "/streams/"+ad.ID+"/request", map[string]any{
		"consumer_id":      "c1",
		"consumer_address": "192.168.1.60",
	})
	offer := decode[model.StreamOffer](t, w)

	w = doJSON(t, h, http.MethodPost, "/streams/sessions/"+offer.SessionID+"/heartbeat", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("session heartbeat: %d", w.Code)
	}

	w = doJSON(t, h, http.MethodDelete, "/streams/sessions/"+offer.SessionID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("stop session: %d %s", w.Code, w.Body.String())
	}

	// A heartbeat after stop reports the session as dead.
	w = doJSON(t, h, http.MethodPost, "/streams/sessions/"+offer.SessionID+"/heartbeat", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("heartbeat after stop: %d", w.Code)
	}
}

func TestStreamHeartbeatEndpoints(t *testing.T) {
	h, _ := newTestServer(t, time.Second)
	w := doJSON(t, h, http.MethodPost, "/streams/advertise", advertiseBody())
	ad := decode[model.Advertisement](t, w)

	w = doJSON(t, h, http.MethodPost, "/streams/"+ad.ID+"/heartbeat", nil)
	if w.Code != http.StatusOK {
		t.Errorf("stream heartbeat: %d", w.Code)
	}
	w = doJSON(t, h, http.MethodPost, "/streams/unknown/heartbeat", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown stream heartbeat: %d", w.Code)
	}
}

func TestStreamTypesEndpoints(t *testing.T) {
	h, _ := newTestServer(t, time.Second)

	w := doJSON(t, h, http.MethodPost, "/streams/types", map[string]any{
		"name":         "spout",
		"display_name": "Spout texture",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create type: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, h, http.MethodGet, "/streams/types", nil)
	types := decode[struct {
		Types []model.StreamType `json:"types"`
	}](t, w)
	if len(types.Types) != 2 {
		t.Errorf("types = %+v", types.Types)
	}
}

func TestStateSnapshotEndpoint(t *testing.T) {
	h, _ := newTestServer(t, time.Second)
	_ = doJSON(t, h, http.MethodPost, "/streams/advertise", advertiseBody())

	w := doJSON(t, h, http.MethodGet, "/streams/state", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("state: %d", w.Code)
	}
	state := decode[model.StateSnapshot](t, w)
	if len(state.Streams) != 1 || len(state.Types) != 1 {
		t.Errorf("state = %+v", state)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestServer(t, time.Second)
	w := doJSON(t, h, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Errorf("metrics: %d", w.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	h, _ := newTestServer(t, time.Second)
	for _, path := range []string{"/health", "/ready"} {
		w := doJSON(t, h, http.MethodGet, path, nil)
		if w.Code != http.StatusOK {
			t.Errorf("%s: %d", path, w.Code)
		}
	}
}
