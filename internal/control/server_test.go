package control

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"AirModes-Relay/internal/metrics"
	"AirModes-Relay/internal/modes"
	"AirModes-Relay/internal/parambus"
)

func newBus(t *testing.T) (*parambus.Bus, *float64) {
	t.Helper()
	bus := parambus.New()
	gain := 20.0
	bus.Publish("gain", func() (any, error) { return gain, nil })
	bus.Subscribe("gain", func(v any) error {
		g, err := parambus.Float(v)
		if err != nil {
			return err
		}
		if g > 50 {
			return errors.New("gain out of range")
		}
		gain = g
		return nil
	})
	bus.Publish("pmf", func() (any, error) { return false, nil })
	return bus, &gain
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestParamsFlow(t *testing.T) {
	bus, gain := newBus(t)
	mux := http.NewServeMux()
	NewServer(bus, Options{}).Register(mux)

	rec := do(mux, http.MethodGet, "/api/params", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list failed: %d %s", rec.Code, rec.Body.String())
	}
	var list struct {
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Params["gain"] != 20.0 || list.Params["pmf"] != false {
		t.Fatalf("unexpected params %v", list.Params)
	}

	rec = do(mux, http.MethodPost, "/api/params/gain", `{"value":42}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set failed: %d %s", rec.Code, rec.Body.String())
	}
	if *gain != 42 || !strings.Contains(rec.Body.String(), `"value":42`) {
		t.Fatalf("set not applied: gain=%v body=%s", *gain, rec.Body.String())
	}

	rec = do(mux, http.MethodGet, "/api/params/gain", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"value":42`) {
		t.Fatalf("get failed: %d %s", rec.Code, rec.Body.String())
	}
}

func TestParamErrors(t *testing.T) {
	bus, _ := newBus(t)
	mux := http.NewServeMux()
	NewServer(bus, Options{}).Register(mux)

	if rec := do(mux, http.MethodGet, "/api/params/volume", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown get: %d", rec.Code)
	}
	if rec := do(mux, http.MethodPost, "/api/params/volume", `{"value":1}`); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown set: %d", rec.Code)
	}
	if rec := do(mux, http.MethodPost, "/api/params/gain", `{"value":"loud"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("wrong type: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(mux, http.MethodPost, "/api/params/gain", `{"value":90}`); rec.Code != http.StatusBadGateway {
		t.Fatalf("setter failure: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(mux, http.MethodPost, "/api/params/gain", `not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: %d", rec.Code)
	}
	if rec := do(mux, http.MethodPost, "/api/params/gain", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing value: %d", rec.Code)
	}
	if rec := do(mux, http.MethodDelete, "/api/params/gain", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := do(mux, http.MethodOptions, "/api/params/gain", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("options: %d", rec.Code)
	}
}

func TestPeersAndMetrics(t *testing.T) {
	bus, _ := newBus(t)
	m := metrics.New()
	m.RelayReceived()
	mux := http.NewServeMux()
	NewServer(bus, Options{
		Peers:   func() []string { return []string{"12D3KooWpeer"} },
		Metrics: m.Handler(),
	}).Register(mux)

	rec := do(mux, http.MethodGet, "/api/peers", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "12D3KooWpeer") {
		t.Fatalf("peers: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(mux, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "modes_relay_frames_total 1") {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body.String())
	}
}

func TestReportStream(t *testing.T) {
	bus, _ := newBus(t)
	stream := NewStream()
	mux := http.NewServeMux()
	NewServer(bus, Options{Stream: stream}).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/reports/stream")
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status %d", resp.StatusCode)
	}

	report := []byte(`{"df":17,"icao":"4840d6"}`)
	if err := stream.Write(&modes.Report{}, report); err != nil {
		t.Fatalf("write: %v", err)
	}

	lines := make(chan string, 8)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream ended before the report arrived")
			}
			if line == "data: "+string(report) {
				if err := stream.Close(); err != nil {
					t.Fatalf("close: %v", err)
				}
				return
			}
		case <-timeout:
			t.Fatal("report not streamed")
		}
	}
}

func TestStreamUnavailable(t *testing.T) {
	bus, _ := newBus(t)
	mux := http.NewServeMux()
	NewServer(bus, Options{}).Register(mux)
	if rec := do(mux, http.MethodGet, "/api/reports/stream", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("stream without sink: %d", rec.Code)
	}

	stream := NewStream()
	_ = stream.Close()
	mux = http.NewServeMux()
	NewServer(bus, Options{Stream: stream}).Register(mux)
	if rec := do(mux, http.MethodGet, "/api/reports/stream", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("closed stream: %d", rec.Code)
	}
}
