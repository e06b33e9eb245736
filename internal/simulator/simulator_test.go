package simulator

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	telemetry "telemetry-pipeline/internal/telemetry/domain"
)

func TestGeneratorRanges(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewGenerator("device-001", 42, func() time.Time { return fixed })
	for i := 0; i < 1000; i++ {
		evt := g.Next()
		if evt.DeviceID != "device-001" || evt.Timestamp != "2024-01-01T00:00:00.000000" {
			t.Fatalf("unexpected identity %+v", evt)
		}
		checkRange(t, "temperature", evt.Temperature, 20, 30)
		checkRange(t, "humidity", evt.Humidity, 40, 70)
		checkRange(t, "battery_level", evt.BatteryLevel, 10, 100)
	}
}

func TestGeneratedEventsPassValidation(t *testing.T) {
	g := NewGenerator("device-001", 7, nil)
	raw, err := json.Marshal(g.Next())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	evt, err := telemetry.ParseEvent(raw)
	if err != nil {
		t.Fatalf("generated event rejected: %v", err)
	}
	if _, err := evt.ObservedAt(); err != nil {
		t.Fatalf("generated timestamp not parseable: %v", err)
	}
}

func checkRange(t *testing.T, name string, v, low, high float64) {
	t.Helper()
	if v < low || v >= high {
		t.Fatalf("%s %v outside [%v,%v)", name, v, low, high)
	}
	if math.Abs(v*100-math.Round(v*100)) > 1e-6 {
		t.Fatalf("%s %v not rounded to 2 decimals", name, v)
	}
}

func TestClientSend(t *testing.T) {
	var got telemetry.TelemetryEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","message_id":"1"}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/ingest", srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	evt := telemetry.TelemetryEvent{DeviceID: "d1", Timestamp: "2024-01-01T00:00:00Z", Temperature: 21.5, Humidity: 50, BatteryLevel: 90}
	res, err := client.Send(context.Background(), evt)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.OK() || res.Body != `{"status":"success","message_id":"1"}` {
		t.Fatalf("unexpected result %+v", res)
	}
	if got != evt {
		t.Fatalf("server received %+v", got)
	}
}

func TestClientSendReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	res, err := client.Send(context.Background(), telemetry.TelemetryEvent{DeviceID: "d1"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.OK() || res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unexpected result %+v", res)
	}
}
