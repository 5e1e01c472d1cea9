package meter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/paddockhq/paddock/pkg/log"
	"github.com/paddockhq/paddock/pkg/metrics"
	"github.com/paddockhq/paddock/pkg/types"
)

const (
	eventSource = "/paddock/reconciler"
	eventType   = "com.paddock.usage.v1"
	serviceName = "paddock"
)

// Event is a CloudEvents 1.0 envelope carrying one usage sample.
type Event struct {
	ID              string    `json:"id"`
	Source          string    `json:"source"`
	SpecVersion     string    `json:"specversion"`
	Type            string    `json:"type"`
	Subject         string    `json:"subject"`
	Time            time.Time `json:"time"`
	DataContentType string    `json:"datacontenttype"`
	Data            Usage     `json:"data"`
}

// Usage is the event payload.
type Usage struct {
	Value       float64 `json:"value"` // elapsed seconds
	Metric      string  `json:"metric"`
	Cost        float64 `json:"cost"` // per-interval charge
	Currency    string  `json:"currency"`
	Unit        string  `json:"unit"`
	Accelerator string  `json:"accelerator"`
	Kind        string  `json:"kind"`
	Service     string  `json:"service"`
}

// Emitter posts usage events to the metering sink. Emission is best-effort:
// a broken sink trips the breaker and reconciliation carries on.
type Emitter struct {
	url     string
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewEmitter returns an Emitter for the sink at url. An empty url disables
// emission.
func NewEmitter(url, token string) *Emitter {
	return &Emitter{
		url:   url,
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "meter-sink",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

// IntervalCost converts a meter into the charge for an interval of delta.
// With both cost and costp set, cost is an hourly base and costp a percent
// surcharge, prorated by unit. With only cost set, the value is already
// per-unit and passes through. With neither, the meter is skipped (-1).
func IntervalCost(m types.Meter) float64 {
	if m.Cost == 0 && m.CostP == 0 {
		return -1
	}
	if m.CostP == 0 {
		return m.Cost
	}
	rate := m.Cost * (1 + m.CostP/100)
	switch m.Unit {
	case "second":
		return rate / 3600
	case "minute":
		return rate / 60
	}
	return rate // hour
}

// EmitUsage emits one event per configured meter for a container that spent
// delta in Running+ready. Errors are logged and counted, never returned.
func (e *Emitter) EmitUsage(ctx context.Context, c *types.Container, delta time.Duration) {
	if e.url == "" || len(c.Spec.Meters) == 0 {
		return
	}

	logger := log.WithContainerID(c.Metadata.ID)
	for _, m := range c.Spec.Meters {
		cost := IntervalCost(m)
		if cost < 0 {
			logger.Warn().Str("metric", m.Metric).Msg("meter has no cost, skipping")
			continue
		}

		ev := Event{
			ID:              uuid.NewString(),
			Source:          eventSource,
			SpecVersion:     "1.0",
			Type:            eventType,
			Subject:         c.Metadata.Owner,
			Time:            time.Now().UTC(),
			DataContentType: "application/json",
			Data: Usage{
				Value:       delta.Seconds(),
				Metric:      m.Metric,
				Cost:        cost,
				Currency:    m.Currency,
				Unit:        m.Unit,
				Accelerator: c.Status.Accelerator,
				Kind:        "container",
				Service:     serviceName,
			},
		}

		if err := e.send(ctx, &ev); err != nil {
			metrics.MeterEventFailures.Inc()
			logger.Error().Err(err).Str("metric", m.Metric).Msg("meter event emission failed")
			continue
		}
		metrics.MeterEventsTotal.Inc()
	}
}

func (e *Emitter) send(ctx context.Context, ev *Event) error {
	_, err := e.breaker.Execute(func() (interface{}, error) {
		body, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/cloudevents+json")
		if e.token != "" {
			req.Header.Set("Authorization", "Bearer "+e.token)
		}

		resp, err := e.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("sink returned %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}
