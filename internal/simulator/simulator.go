// Package simulator generates synthetic sensor readings and posts them to
// the ingestion gateway.
package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	telemetry "telemetry-pipeline/internal/telemetry/domain"
)

// Generator produces readings for one device.
type Generator struct {
	deviceID string
	rng      *rand.Rand
	now      func() time.Time
}

// NewGenerator seeds a generator. A nil now uses the wall clock.
func NewGenerator(deviceID string, seed int64, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{deviceID: deviceID, rng: rand.New(rand.NewSource(seed)), now: now}
}

// Next returns a reading with temperature in [20,30), humidity in [40,70)
// and battery level in [10,100), each rounded to two decimals.
func (g *Generator) Next() telemetry.TelemetryEvent {
	return telemetry.TelemetryEvent{
		DeviceID:     g.deviceID,
		Timestamp:    g.now().UTC().Format("2006-01-02T15:04:05.000000"),
		Temperature:  g.uniform(20, 30),
		Humidity:     g.uniform(40, 70),
		BatteryLevel: g.uniform(10, 100),
	}
}

func (g *Generator) uniform(low, high float64) float64 {
	v := math.Round((low+g.rng.Float64()*(high-low))*100) / 100
	if v >= high {
		v = high - 0.01
	}
	return v
}

// SendResult is the gateway response to one reading.
type SendResult struct {
	StatusCode int
	Body       string
}

// OK reports whether the gateway accepted the reading.
func (r SendResult) OK() bool {
	return r.StatusCode == http.StatusOK
}

// Client posts readings to the gateway ingest endpoint.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient constructs a client. A nil httpClient uses a 10s timeout client.
func NewClient(url string, httpClient *http.Client) (*Client, error) {
	if url == "" {
		return nil, errors.New("simulator client: empty url")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{url: url, httpClient: httpClient}, nil
}

// Send posts evt as JSON. Non-200 responses are returned in SendResult, not
// as errors; only transport failures return an error.
func (c *Client) Send(ctx context.Context, evt telemetry.TelemetryEvent) (SendResult, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return SendResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("simulator client: post: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return SendResult{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}, nil
}
