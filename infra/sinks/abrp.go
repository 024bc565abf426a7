package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kilianp07/evproxy/core/factory"
	"github.com/kilianp07/evproxy/core/logger"
	"github.com/kilianp07/evproxy/core/sink"
	"github.com/kilianp07/evproxy/core/telemetry"
	infralogger "github.com/kilianp07/evproxy/infra/logger"
)

// DefaultABRPURL is the ABRP telemetry API.
const DefaultABRPURL = "https://api.iternio.com/1/tlm"

// abrpFields maps client fields to ABRP telemetry keys.
var abrpFields = telemetry.Specs{
	"SOC_DISPLAY":             {Key: "soc", Decimals: 1},
	"dcBatteryPower":          {Key: "power", Decimals: 2},
	"speed":                   {Key: "speed", Decimals: 1},
	"latitude":                {Key: "lat", Decimals: 9},
	"longitude":               {Key: "lon", Decimals: 9},
	"charging":                {Key: "is_charging", Decimals: 0},
	"rapidChargePort":         {Key: "is_dcfc", Decimals: 0},
	"isParked":                {Key: "is_parked", Decimals: 0},
	"cumulativeEnergyCharged": {Key: "kwh_charged", Decimals: 2},
	"soh":                     {Key: "soh", Decimals: 1},
	"heading":                 {Key: "heading", Decimals: 2},
	"altitude":                {Key: "elevation", Decimals: 1},
	"externalTemperature":     {Key: "ext_temp", Decimals: 1},
	"batteryAvgTemperature":   {Key: "batt_temp", Decimals: 1},
	"dcBatteryVoltage":        {Key: "voltage", Decimals: 2},
	"dcBatteryCurrent":        {Key: "current", Decimals: 2},
	"odo":                     {Key: "odometer", Decimals: 2},
}

type abrpConf struct {
	Token string `json:"token"`
}

// ABRP forwards telemetry to A Better Route Planner.
type ABRP struct {
	apiKey string
	token  string
	url    string
	client *http.Client
	log    logger.Logger
	now    telemetry.Clock
	fields telemetry.FieldSet

	last telemetry.Sample
}

func newABRP(opts Options) factory.Factory[sink.Sink] {
	return func(cfg factory.ModuleConfig) (sink.Sink, error) {
		var c abrpConf
		if err := factory.Decode(cfg.Conf, &c); err != nil {
			return nil, err
		}
		if c.Token == "" {
			return nil, errors.New("abrp: token required")
		}
		if opts.ABRPAPIKey == "" {
			return nil, errors.New("abrp: no api key configured")
		}
		return &ABRP{
			apiKey: opts.ABRPAPIKey,
			token:  c.Token,
			url:    strings.TrimRight(opts.ABRPURL, "/"),
			client: opts.HTTPClient,
			log:    infralogger.New("sink-abrp"),
			now:    time.Now,
			fields: abrpFields.Fields().Union(telemetry.NewFieldSet("timestamp")),
			last:   telemetry.Sample{},
		}, nil
	}
}

func (a *ABRP) Kind() sink.Kind            { return sink.KindABRP }
func (a *ABRP) Fields() telemetry.FieldSet { return a.fields }
func (a *ABRP) Specs() telemetry.Specs     { return abrpFields }

// Transmit merges s into the last known state and sends it once a speed
// has been seen. Until then it returns sink.ErrNothingToSend.
func (a *ABRP) Transmit(ctx context.Context, s telemetry.Sample) error {
	for k, v := range s {
		if v != nil {
			a.last[k] = v
		}
	}
	if !a.last.Has("speed") {
		return sink.Errorf(sink.KindABRP, sink.ErrNothingToSend, "no speed yet")
	}

	tlm := map[string]any{"power": 0, "current": 0}
	if ts, ok := a.last.Number("timestamp"); ok {
		tlm["utc"] = int64(ts)
	} else {
		tlm["utc"] = a.now().Unix()
	}
	for field, spec := range abrpFields {
		if v, ok := a.last.Number(field); ok {
			tlm[spec.Key] = v
		}
	}
	if v, ok := tlm["speed"].(float64); ok {
		tlm["speed"] = v * 3.6
	}

	body := map[string]any{"api_key": a.apiKey, "token": a.token, "tlm": tlm}
	status, data, err := postJSON(ctx, a.client, a.url+"/send", body)
	if err != nil {
		return sink.Errorf(sink.KindABRP, sink.ErrTransport, "post: %w", err)
	}
	if status == http.StatusTooManyRequests {
		return sink.Errorf(sink.KindABRP, sink.ErrRateLimited, "code(%d)", status)
	}
	var reply struct {
		Status string `json:"status"`
	}
	if status != http.StatusOK {
		return sink.Errorf(sink.KindABRP, sink.ErrProtocol, "code(%d) %s", status, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, &reply); err != nil || reply.Status != "ok" {
		return sink.Errorf(sink.KindABRP, sink.ErrProtocol, "submit error: %s", strings.TrimSpace(string(data)))
	}
	a.log.Debugf("post result: %d", status)
	return nil
}

// Shutdown is a no-op; the HTTP client is shared.
func (a *ABRP) Shutdown(context.Context) error { return nil }
