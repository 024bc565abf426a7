package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/evproxy/core/events"
	"github.com/kilianp07/evproxy/infra/logger"
)

// InfluxConfig locates the bucket receiving dispatch events.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// EventRecorder persists dispatch events.
type EventRecorder interface {
	RecordConfigureEvent(events.ConfigureEvent) error
	RecordTransmitEvent(events.TransmitEvent) error
}

// NopEventRecorder discards every event.
type NopEventRecorder struct{}

func (NopEventRecorder) RecordConfigureEvent(events.ConfigureEvent) error { return nil }
func (NopEventRecorder) RecordTransmitEvent(events.TransmitEvent) error   { return nil }

// InfluxRecorder writes dispatch events to an InfluxDB instance using the
// official client.
type InfluxRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxRecorder creates a recorder for the given InfluxDB endpoint.
func NewInfluxRecorder(cfg InfluxConfig) *InfluxRecorder {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxRecorder{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-events"),
	}
}

// NewInfluxRecorderWithFallback pings the InfluxDB instance and returns a
// NopEventRecorder if the health check fails.
func NewInfluxRecorderWithFallback(cfg InfluxConfig) EventRecorder {
	rec := NewInfluxRecorder(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := rec.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			rec.log.Errorf("influx health check error: %v", err)
		} else {
			rec.log.Errorf("influx health status: %s", health.Status)
		}
		rec.client.Close()
		return NopEventRecorder{}
	}
	return rec
}

// RecordConfigureEvent writes a sink configuration change.
func (r *InfluxRecorder) RecordConfigureEvent(ev events.ConfigureEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("sink_configure").
		AddTag("vehicle_id", ev.Vehicle).
		AddField("sinks", strings.Join(ev.Sinks, ",")).
		AddField("all_fields", ev.AllFields).
		AddField("fields", int64(len(ev.Fields))).
		SetTime(ev.Time)
	return r.writeAPI.WritePoint(ctx, p)
}

// RecordTransmitEvent writes one transmit attempt.
func (r *InfluxRecorder) RecordTransmitEvent(ev events.TransmitEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("sink_transmit").
		AddTag("vehicle_id", ev.Vehicle).
		AddTag("sink", ev.Sink).
		AddTag("outcome", ev.Outcome).
		AddField("latency_ms", round3(ev.Latency.Seconds()*1000)).
		AddField("fields", int64(ev.Fields))
	if ev.Err != nil {
		p = p.AddField("error", ev.Err.Error())
	}
	return r.writeAPI.WritePoint(ctx, p.SetTime(ev.Time))
}

// Close releases the client.
func (r *InfluxRecorder) Close() { r.client.Close() }

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
