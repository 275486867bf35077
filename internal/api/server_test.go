package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"

	"github.com/talgya/disaster-abm/internal/agents"
	"github.com/talgya/disaster-abm/internal/config"
	"github.com/talgya/disaster-abm/internal/engine"
	"github.com/talgya/disaster-abm/internal/world"
)

func testServer(t *testing.T, adminKey string) *Server {
	t.Helper()
	g := world.NewGraph()
	a := g.AddNode(orb.Point{0.05, 0.05})
	b := g.AddNode(orb.Point{0.051, 0.05})
	if _, err := g.AddRoad(a.ID, b.ID, world.RoadResidential, 40, true); err != nil {
		t.Fatalf("AddRoad: %v", err)
	}
	g.RebuildIndex()

	reg := agents.NewRegistry()
	for i := 0; i < 3; i++ {
		reg.Add(agents.NewIndividual(reg.NextID(), a.Coord, &agents.Individual{Age: 30, Home: a, Work: a, StayAtHome: true}))
	}
	p := config.Default()
	p.GroundZeroLon, p.GroundZeroLat = 0, 0
	sim := engine.NewSimulation(p, &world.City{Graph: g, Water: world.NewWater()}, reg, nil)
	return &Server{Sim: sim, Eng: engine.NewEngine(), AdminKey: adminKey}
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	s := testServer(t, "")
	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["population"] != float64(3) || body["detonated"] != false {
		t.Errorf("body = %v", body)
	}
	if body["detonation_at"] != "Day 1, 10:00" {
		t.Errorf("detonation_at = %v", body["detonation_at"])
	}
}

func TestAgentsFilter(t *testing.T) {
	s := testServer(t, "")
	h := s.Handler()

	var all []agents.Position
	rec := do(t, h, http.MethodGet, "/api/v1/agents?kind=individual", "", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len = %d, want 3", len(all))
	}

	rec = do(t, h, http.MethodGet, "/api/v1/agents?kind=group", "", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("groups = %s, want []", rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/v1/agents?status=x", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad status filter code = %d", rec.Code)
	}
}

func TestAdminAuth(t *testing.T) {
	h := testServer(t, "secret").Handler()
	body := `{"speed": 2}`

	if rec := do(t, h, http.MethodPost, "/api/v1/speed", "", body); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: code = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/speed", "wrong", body); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: code = %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/v1/speed", "secret", body)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"speed": 2`) {
		t.Errorf("speed: code=%d body=%s", rec.Code, rec.Body.String())
	}

	open := testServer(t, "").Handler()
	if rec := do(t, open, http.MethodPost, "/api/v1/speed", "", body); rec.Code != http.StatusForbidden {
		t.Errorf("no admin key: code = %d", rec.Code)
	}
	if rec := do(t, open, http.MethodGet, "/api/v1/speed", "", ""); rec.Code != http.StatusOK {
		t.Errorf("GET speed: code = %d", rec.Code)
	}
}

func TestRescheduleIntervention(t *testing.T) {
	s := testServer(t, "secret")
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/intervention", "secret", `{"type":"reschedule","tick":5,"lon":0.05,"lat":0.05}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("reschedule: code=%d body=%s", rec.Code, rec.Body.String())
	}
	if snap := s.Sim.Snapshot(); snap.EventTick != 5 || !snap.Epicenter.Equal(orb.Point{0.05, 0.05}) {
		t.Errorf("snapshot event = %d at %v", snap.EventTick, snap.Epicenter)
	}

	for tick := uint64(1); tick <= 5; tick++ {
		s.Sim.TickMinute(tick)
	}
	rec = do(t, h, http.MethodPost, "/api/v1/intervention", "secret", `{"type":"reschedule","tick":50}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("after detonation: code = %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/intervention", "secret", `{"type":"bogus"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown type: code = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/events?category=intervention", "", "")
	var events []engine.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("intervention events = %+v", events)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Error("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Error("other clients are unaffected")
	}
	if ra := rl.RetryAfter("a"); ra < 1 || ra > 60 {
		t.Errorf("RetryAfter = %d", ra)
	}

	h := RateLimitMiddleware(NewRateLimiter(1, time.Minute), func(w http.ResponseWriter, r *http.Request) {})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	h(httptest.NewRecorder(), req)
	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Errorf("code=%d retry-after=%q", rec.Code, rec.Header().Get("Retry-After"))
	}
}

func TestRateLimiterWindowReopens(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Close()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || rl.Allow("a") {
		t.Fatal("budget of one not enforced")
	}
	now = now.Add(30 * time.Second)
	if ra := rl.RetryAfter("a"); ra != 31 {
		t.Errorf("RetryAfter = %d, want 31", ra)
	}
	now = now.Add(30 * time.Second)
	if !rl.Allow("a") {
		t.Error("new window should allow the client again")
	}

	now = now.Add(3 * time.Minute)
	rl.forgetIdle()
	if rl.RetryAfter("a") != 0 || len(rl.clients) != 0 {
		t.Errorf("idle client kept: %v", rl.clients)
	}
}

func TestStream(t *testing.T) {
	s := testServer(t, "")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	s.hub.Poll = 10 * time.Millisecond
	go s.hub.Run()
	defer s.hub.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/stream", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	if f.Tick != 0 || len(f.Positions) != 3 {
		t.Errorf("first frame tick=%d positions=%d", f.Tick, len(f.Positions))
	}

	s.Sim.TickMinute(1)
	s.Sim.Publish()
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read second frame: %v", err)
	}
	if f.Tick != 1 {
		t.Errorf("second frame tick = %d, want 1", f.Tick)
	}
}
