package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"

	"github.com/instrumentkit/instrument-core/internal/history"
	"github.com/instrumentkit/instrument-core/internal/infrastructure/config"
	"github.com/instrumentkit/instrument-core/internal/infrastructure/logging"
	"github.com/instrumentkit/instrument-core/internal/instrument"
	"github.com/instrumentkit/instrument-core/internal/iprop"
	"github.com/instrumentkit/instrument-core/internal/registry"
	"github.com/instrumentkit/instrument-core/internal/transport"
)

// psuFactory builds a small power supply driver for API tests.
func psuFactory(name string, tr transport.Transport, opts ...instrument.Option) (*instrument.Driver, error) {
	d := instrument.NewDriver(name, tr, opts...)
	d.MustAdd(iprop.MustNew(iprop.Config{
		Name: "voltage", Get: "VOLT?", Set: "VOLT %s",
		Kind: iprop.KindFloat, Cache: true,
		Range: iprop.NewFloatRange(0, 30),
	}))
	d.MustAdd(iprop.MustNew(iprop.Config{
		Name: "output", Get: "OUTP?", Set: "OUTP %s",
		Kind: iprop.KindBool, Cache: true,
	}))
	d.MustAdd(iprop.MustNew(iprop.Config{
		Name: "display_brightness", Get: "DISP:BRIG?", Set: "DISP:BRIG %s",
		Kind: iprop.KindInt, Range: iprop.NewIntRange(0, 100),
	}))
	d.MustAdd(iprop.MustNew(iprop.Config{
		Name: "status_enable", Get: "*SRE?", Set: "*SRE %s",
		Kind: iprop.KindRegister, Bits: []string{"error", "warning", "ready"},
	}))
	ovp := d.MustAddSubsystem("ovp")
	ovp.MustAdd(iprop.MustNew(iprop.Config{
		Name: "level", Get: "VOLT:PROT?", Set: "VOLT:PROT %s",
		Kind: iprop.KindFloat, Cache: true,
	}))
	d.MustAddChannelGroup("out", instrument.ChannelConfig{
		Properties: []*iprop.Property{
			iprop.MustNew(iprop.Config{
				Name: "enabled", Get: "OUTP? (@{ch})", Set: "OUTP (@{ch}),%s",
				Kind: iprop.KindBool, Cache: true,
			}),
		},
	})
	return d, nil
}

// newTestServer wires a sim-backed driver into a running test server.
func newTestServer(t *testing.T, repo history.Repository) (*httptest.Server, *transport.Sim, *Server) {
	t.Helper()

	sim := transport.NewSim()
	reg := registry.New()
	if err := reg.Register("psu", func(name string, _ transport.Transport, opts ...instrument.Option) (*instrument.Driver, error) {
		return psuFactory(name, sim, opts...)
	}); err != nil {
		t.Fatal(err)
	}

	d, err := reg.GetDriver("psu", registry.ConnectionInfo{Transport: "sim"})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	srv, err := New(Deps{
		Config:   config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:       config.WebSocketConfig{SendBuffer: 16, PingInterval: 30, PongTimeout: 10, MaxMessageSize: 4096},
		Logger:   logging.Default(),
		Registry: reg,
		History:  repo,
		Version:  "test",
	})
	if err != nil {
		t.Fatal(err)
	}
	srv.hub = NewHub(srv.wsCfg, srv.logger)

	hctx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(hctx)
	srv.relayDriverEvents(hctx)

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return ts, sim, srv
}

func getJSON(t *testing.T, url string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec // Test server URL
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func doJSON(t *testing.T, method, url string, body any, wantStatus int) map[string]any {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: status = %d, want %d", method, url, resp.StatusCode, wantStatus)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	out := getJSON(t, ts.URL+"/api/v1/health", http.StatusOK)
	if out["status"] != "ok" || out["version"] != "test" {
		t.Errorf("health = %v", out)
	}
}

func TestListDriversAndInstruments(t *testing.T) {
	ts, _, srv := newTestServer(t, nil)
	srv.registry.RecordLoadingError("flaky", errString("missing calibration"))

	drivers := getJSON(t, ts.URL+"/api/v1/drivers", http.StatusOK)
	if drivers["count"].(float64) != 2 {
		t.Errorf("drivers = %v", drivers)
	}

	instruments := getJSON(t, ts.URL+"/api/v1/instruments", http.StatusOK)
	list := instruments["instruments"].([]any)
	if len(list) != 1 {
		t.Fatalf("instruments = %v", instruments)
	}
	first := list[0].(map[string]any)
	if first["name"] != "psu" || first["connected"] != true {
		t.Errorf("instrument = %v", first)
	}
}

func TestInstrumentTree(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	out := getJSON(t, ts.URL+"/api/v1/instruments/psu", http.StatusOK)
	tree := out["tree"].(map[string]any)

	props := tree["properties"].([]any)
	if len(props) != 4 {
		t.Errorf("properties = %v", props)
	}
	subs := tree["subsystems"].(map[string]any)
	if _, ok := subs["ovp"]; !ok {
		t.Errorf("subsystems = %v", subs)
	}
	groups := tree["groups"].(map[string]any)
	if _, ok := groups["out"]; !ok {
		t.Errorf("groups = %v", groups)
	}
}

func TestGetAndSetProperty(t *testing.T) {
	ts, sim, _ := newTestServer(t, nil)
	sim.Respond("VOLT?", "1.25E1")

	out := getJSON(t, ts.URL+"/api/v1/instruments/psu/properties/voltage", http.StatusOK)
	if out["value"].(float64) != 12.5 {
		t.Errorf("value = %v", out["value"])
	}

	doJSON(t, http.MethodPut, ts.URL+"/api/v1/instruments/psu/properties/voltage",
		setPropertyRequest{Value: 5.0}, http.StatusOK)
	sends := sim.Sends()
	if len(sends) != 1 || sends[0] != "VOLT 5" {
		t.Errorf("sends = %v", sends)
	}

	// Cached value short-circuits the transport.
	queries := len(sim.Queries())
	out = getJSON(t, ts.URL+"/api/v1/instruments/psu/properties/voltage", http.StatusOK)
	if out["value"].(float64) != 5.0 {
		t.Errorf("cached value = %v", out["value"])
	}
	if len(sim.Queries()) != queries {
		t.Error("cached read should not touch the transport")
	}
}

// JSON decoding turns numbers into float64 and objects into
// map[string]any; integer and register properties must accept both
// shapes when set over the REST API.
func TestSetIntAndRegisterOverJSON(t *testing.T) {
	ts, sim, _ := newTestServer(t, nil)
	sim.Respond("*SRE?", "4") // ready already set

	doJSON(t, http.MethodPut, ts.URL+"/api/v1/instruments/psu/properties/display_brightness",
		setPropertyRequest{Value: 80}, http.StatusOK)

	doJSON(t, http.MethodPut, ts.URL+"/api/v1/instruments/psu/properties/status_enable",
		setPropertyRequest{Value: map[string]any{"error": true}}, http.StatusOK)

	sends := sim.Sends()
	if len(sends) != 2 || sends[0] != "DISP:BRIG 80" || sends[1] != "*SRE 5" {
		t.Errorf("sends = %v", sends)
	}

	// Fractional values stay rejected for integer properties.
	out := doJSON(t, http.MethodPut, ts.URL+"/api/v1/instruments/psu/properties/display_brightness",
		setPropertyRequest{Value: 80.5}, http.StatusBadRequest)
	if out["code"] != ErrCodeValidation {
		t.Errorf("error code = %v", out["code"])
	}
}

func TestSubsystemAndChannelPaths(t *testing.T) {
	ts, sim, _ := newTestServer(t, nil)
	sim.Respond("VOLT:PROT?", "33")
	sim.Respond("OUTP? (@2)", "1")

	out := getJSON(t, ts.URL+"/api/v1/instruments/psu/properties/ovp.level", http.StatusOK)
	if out["value"].(float64) != 33 {
		t.Errorf("ovp.level = %v", out["value"])
	}

	out = getJSON(t, ts.URL+"/api/v1/instruments/psu/properties/out[2].enabled", http.StatusOK)
	if out["value"] != true {
		t.Errorf("out[2].enabled = %v", out["value"])
	}
}

func TestPropertyErrorMapping(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	// Unknown path → 404.
	getJSON(t, ts.URL+"/api/v1/instruments/psu/properties/ghost", http.StatusNotFound)

	// Unknown instrument → 404.
	getJSON(t, ts.URL+"/api/v1/instruments/scope/properties/voltage", http.StatusNotFound)

	// Out-of-range value → 400.
	out := doJSON(t, http.MethodPut, ts.URL+"/api/v1/instruments/psu/properties/voltage",
		setPropertyRequest{Value: 99.0}, http.StatusBadRequest)
	if out["code"] != ErrCodeValidation {
		t.Errorf("error code = %v", out["code"])
	}
}

func TestCacheEndpoints(t *testing.T) {
	ts, sim, _ := newTestServer(t, nil)
	sim.Respond("VOLT?", "12")
	sim.Respond("VOLT:PROT?", "33")

	getJSON(t, ts.URL+"/api/v1/instruments/psu/properties/voltage", http.StatusOK)
	getJSON(t, ts.URL+"/api/v1/instruments/psu/properties/ovp.level", http.StatusOK)

	out := getJSON(t, ts.URL+"/api/v1/instruments/psu/cache", http.StatusOK)
	if out["count"].(float64) != 2 {
		t.Errorf("cache = %v", out)
	}

	doJSON(t, http.MethodPost, ts.URL+"/api/v1/instruments/psu/cache/clear",
		clearCacheRequest{Path: "ovp"}, http.StatusOK)

	out = getJSON(t, ts.URL+"/api/v1/instruments/psu/cache", http.StatusOK)
	if out["count"].(float64) != 1 {
		t.Errorf("cache after clear = %v", out)
	}

	// Clearing an unknown subtree → 404.
	doJSON(t, http.MethodPost, ts.URL+"/api/v1/instruments/psu/cache/clear",
		clearCacheRequest{Path: "nonsense"}, http.StatusNotFound)
}

func TestHistoryEndpoint(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	schema := `
		CREATE TABLE property_history (
			id TEXT PRIMARY KEY,
			driver TEXT NOT NULL,
			path TEXT NOT NULL,
			op TEXT NOT NULL DEFAULT 'set',
			value TEXT NOT NULL,
			created_at TEXT NOT NULL
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatal(err)
	}
	repo := history.NewSQLiteRepository(db)
	if err := repo.Record(context.Background(), history.Entry{Driver: "psu", Path: "voltage", Op: "set", Value: 12.5}); err != nil {
		t.Fatal(err)
	}

	ts, _, _ := newTestServer(t, repo)

	out := getJSON(t, ts.URL+"/api/v1/history?driver=psu", http.StatusOK)
	if out["count"].(float64) != 1 {
		t.Errorf("history = %v", out)
	}

	getJSON(t, ts.URL+"/api/v1/history?limit=bogus", http.StatusBadRequest)
	getJSON(t, ts.URL+"/api/v1/history?since=bogus", http.StatusBadRequest)
}

func TestHistoryUnavailable(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)
	getJSON(t, ts.URL+"/api/v1/history", http.StatusServiceUnavailable)
}

func TestWebSocketEventStream(t *testing.T) {
	ts, sim, _ := newTestServer(t, nil)
	sim.Respond("VOLT?", "12")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Trigger a property event.
	doJSON(t, http.MethodPut, ts.URL+"/api/v1/instruments/psu/properties/voltage",
		setPropertyRequest{Value: 7.0}, http.StatusOK)

	//nolint:errcheck // Deadline on test connection
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading websocket event: %v", err)
	}
	if msg.Type != WSTypeEvent || msg.EventType != "psu" {
		t.Errorf("message = %+v", msg)
	}
	payload := msg.Payload.(map[string]any)
	if payload["path"] != "voltage" || payload["op"] != "set" {
		t.Errorf("payload = %v", payload)
	}
}

// errString is a trivial error for registry failure injection.
type errString string

func (e errString) Error() string { return string(e) }
