package sinks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/evproxy/core/factory"
	"github.com/kilianp07/evproxy/core/logger"
	"github.com/kilianp07/evproxy/core/sink"
	"github.com/kilianp07/evproxy/core/telemetry"
	infralogger "github.com/kilianp07/evproxy/infra/logger"
)

// DefaultMeasurement is used when the settings name none.
const DefaultMeasurement = "telemetry"

var influxIntFields = map[string]bool{
	"charging": true, "fanFeedback": true, "fanStatus": true, "fix_mode": true,
	"normalChargePort": true, "rapidChargePort": true, "submit_queue_len": true,
}

var influxTagFields = map[string]bool{"cartype": true, "akey": true, "gps_device": true}

type influxConf struct {
	URL         string `json:"url"`
	Org         string `json:"org"`
	Bucket      string `json:"bucket"`
	Token       string `json:"token"`
	Measurement string `json:"measurement"`
}

// InfluxDB writes every flushed sample as one point.
type InfluxDB struct {
	vehicleID   string
	measurement string
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	log         logger.Logger
	closeOnce   sync.Once
}

func newInfluxDB(opts Options) factory.Factory[sink.Sink] {
	return func(cfg factory.ModuleConfig) (sink.Sink, error) {
		var c influxConf
		if err := factory.Decode(cfg.Conf, &c); err != nil {
			return nil, err
		}
		if c.URL == "" || c.Org == "" || c.Bucket == "" || c.Token == "" {
			return nil, errors.New("influxdb: url, org, bucket and token required")
		}
		if c.Measurement == "" {
			c.Measurement = DefaultMeasurement
		}
		httpClient := opts.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: 5 * time.Second}
		}
		client := influxdb2.NewClientWithOptions(c.URL, c.Token,
			influxdb2.DefaultOptions().SetHTTPClient(httpClient))
		return &InfluxDB{
			vehicleID:   cfg.Scope,
			measurement: c.Measurement,
			client:      client,
			writeAPI:    client.WriteAPIBlocking(c.Org, c.Bucket),
			log:         infralogger.New("sink-influxdb"),
		}, nil
	}
}

func (i *InfluxDB) Kind() sink.Kind            { return sink.KindInfluxDB }
func (i *InfluxDB) Fields() telemetry.FieldSet { return telemetry.AllFields() }
func (i *InfluxDB) Specs() telemetry.Specs     { return nil }

// Point converts a sample. Identity fields become tags, a few counters are
// written as integers and every other numeric value as a float.
func (i *InfluxDB) Point(s telemetry.Sample, now time.Time) *write.Point {
	p := write.NewPointWithMeasurement(i.measurement).AddTag("vehicle_id", i.vehicleID)
	ts := now
	if sec, ok := s.Number("timestamp"); ok {
		whole, frac := math.Modf(sec)
		ts = time.Unix(int64(whole), int64(frac*1e9))
	}
	for _, k := range s.Keys() {
		v := s[k]
		switch {
		case v == nil || k == "timestamp":
		case influxTagFields[k]:
			p.AddTag(k, fmt.Sprint(v))
		case influxIntFields[k]:
			if f, ok := telemetry.ToFloat(v); ok {
				p.AddField(k, int64(f))
			}
		default:
			if f, ok := telemetry.ToFloat(v); ok {
				p.AddField(k, f)
			}
		}
	}
	return p.SetTime(ts)
}

// Transmit writes s as one point.
func (i *InfluxDB) Transmit(ctx context.Context, s telemetry.Sample) error {
	p := i.Point(s, time.Now())
	if len(p.FieldList()) == 0 {
		return sink.Errorf(sink.KindInfluxDB, sink.ErrNothingToSend, "no numeric fields")
	}
	if err := i.writeAPI.WritePoint(ctx, p); err != nil {
		var herr *influxhttp.Error
		if errors.As(err, &herr) && herr.StatusCode == http.StatusTooManyRequests {
			return sink.Errorf(sink.KindInfluxDB, sink.ErrRateLimited, "write: %w", err)
		}
		return sink.Errorf(sink.KindInfluxDB, sink.ErrTransport, "write: %w", err)
	}
	i.log.Debugf("wrote %d fields for %s", len(p.FieldList()), i.vehicleID)
	return nil
}

// Shutdown closes the client.
func (i *InfluxDB) Shutdown(context.Context) error {
	i.closeOnce.Do(i.client.Close)
	return nil
}
