package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kilianp07/evproxy/core/factory"
	"github.com/kilianp07/evproxy/core/logger"
	"github.com/kilianp07/evproxy/core/sink"
	"github.com/kilianp07/evproxy/core/telemetry"
	infralogger "github.com/kilianp07/evproxy/infra/logger"
)

// DefaultEVNotifyURL is the EVNotify REST API.
const DefaultEVNotifyURL = "https://app.evnotify.de/"

// evnotifyExtended are the fields sent with setExtended, keyed by themselves.
var evnotifyExtended = telemetry.Specs{
	"auxBatteryVoltage":          {Key: "auxBatteryVoltage", Decimals: 1},
	"batteryInletTemperature":    {Key: "batteryInletTemperature", Decimals: 1},
	"batteryMaxTemperature":      {Key: "batteryMaxTemperature", Decimals: 1},
	"batteryMinTemperature":      {Key: "batteryMinTemperature", Decimals: 1},
	"cumulativeEnergyCharged":    {Key: "cumulativeEnergyCharged", Decimals: 1},
	"cumulativeEnergyDischarged": {Key: "cumulativeEnergyDischarged", Decimals: 1},
	"charging":                   {Key: "charging", Decimals: 0},
	"normalChargePort":           {Key: "normalChargePort", Decimals: 0},
	"rapidChargePort":            {Key: "rapidChargePort", Decimals: 0},
	"dcBatteryCurrent":           {Key: "dcBatteryCurrent", Decimals: 2},
	"dcBatteryPower":             {Key: "dcBatteryPower", Decimals: 2},
	"dcBatteryVoltage":           {Key: "dcBatteryVoltage", Decimals: 2},
	"externalTemperature":        {Key: "externalTemperature", Decimals: 1},
	"odo":                        {Key: "odo", Decimals: 0},
	"soh":                        {Key: "soh", Decimals: 0},
}

var evnotifyLocation = []string{"latitude", "longitude", "speed"}

type evnotifyConf struct {
	AKey  string `json:"akey"`
	Token string `json:"token"`
}

// EVNotify forwards state of charge, extended data and location to EVNotify.
type EVNotify struct {
	akey   string
	token  string
	url    string
	client *http.Client
	log    logger.Logger
	fields telemetry.FieldSet

	socDisplay any
	socBMS     any
	extended   map[string]float64
	gps        map[string]float64
}

func newEVNotify(opts Options) factory.Factory[sink.Sink] {
	return func(cfg factory.ModuleConfig) (sink.Sink, error) {
		var c evnotifyConf
		if err := factory.Decode(cfg.Conf, &c); err != nil {
			return nil, err
		}
		if c.AKey == "" || c.Token == "" {
			return nil, errors.New("evnotify: akey and token required")
		}
		names := append([]string{"SOC_DISPLAY", "SOC_BMS", "fix_mode"}, evnotifyLocation...)
		return &EVNotify{
			akey:     c.AKey,
			token:    c.Token,
			url:      strings.TrimRight(opts.EVNotifyURL, "/") + "/",
			client:   opts.HTTPClient,
			log:      infralogger.New("sink-evnotify"),
			fields:   evnotifyExtended.Fields().Union(telemetry.NewFieldSet(names...)),
			extended: make(map[string]float64),
			gps:      make(map[string]float64),
		}, nil
	}
}

func (e *EVNotify) Kind() sink.Kind            { return sink.KindEVNotify }
func (e *EVNotify) Fields() telemetry.FieldSet { return e.fields }
func (e *EVNotify) Specs() telemetry.Specs     { return evnotifyExtended }

// Transmit updates the last known state and sends SOC, extended data and,
// when the car has a GPS fix and is not plugged in, its location.
func (e *EVNotify) Transmit(ctx context.Context, s telemetry.Sample) error {
	if v := s["SOC_DISPLAY"]; v != nil {
		e.socDisplay = v
	}
	if v := s["SOC_BMS"]; v != nil {
		e.socBMS = v
	}
	for field := range evnotifyExtended {
		if v, ok := s.Number(field); ok {
			e.extended[field] = v
		}
	}
	for _, field := range append([]string{"fix_mode"}, evnotifyLocation...) {
		if v, ok := s.Number(field); ok {
			e.gps[field] = v
		}
	}

	sent := false
	if e.socDisplay != nil || e.socBMS != nil {
		if err := e.call(ctx, "soc", map[string]any{"display": e.socDisplay, "bms": e.socBMS}); err != nil {
			return err
		}
		sent = true
	}
	if len(e.extended) > 0 {
		ext := make(map[string]any, len(e.extended))
		for k, v := range e.extended {
			ext[k] = v
		}
		if err := e.call(ctx, "extended", ext); err != nil {
			return err
		}
		sent = true
	}

	charging := e.extended["charging"] != 0
	connected := e.extended["normalChargePort"] != 0 || e.extended["rapidChargePort"] != 0
	if e.gps["fix_mode"] > 1 && !charging && !connected {
		loc := make(map[string]any, len(evnotifyLocation))
		for _, field := range evnotifyLocation {
			if v, ok := e.gps[field]; ok {
				loc[field] = v
			}
		}
		if err := e.call(ctx, "location", map[string]any{"location": loc}); err != nil {
			return err
		}
		sent = true
	}
	if !sent {
		return sink.Errorf(sink.KindEVNotify, sink.ErrNothingToSend, "no soc, extended or location data")
	}
	return nil
}

// call posts an authenticated request and expects a "synced" answer.
func (e *EVNotify) call(ctx context.Context, fn string, params map[string]any) error {
	params["akey"] = e.akey
	params["token"] = e.token
	status, data, err := postJSON(ctx, e.client, e.url+fn, params)
	if err != nil {
		return sink.Errorf(sink.KindEVNotify, sink.ErrTransport, "%s: connection failed: %w", fn, err)
	}
	switch {
	case status == http.StatusTooManyRequests:
		return sink.Errorf(sink.KindEVNotify, sink.ErrRateLimited, "%s: code(%d)", fn, status)
	case status >= http.StatusBadRequest:
		return sink.Errorf(sink.KindEVNotify, sink.ErrTransport, "%s: code(%d)", fn, status)
	}
	var reply map[string]any
	if err := json.Unmarshal(data, &reply); err != nil {
		return sink.Errorf(sink.KindEVNotify, sink.ErrProtocol, "%s: decode answer: %w", fn, err)
	}
	if _, ok := reply["synced"]; !ok {
		return sink.Errorf(sink.KindEVNotify, sink.ErrProtocol, "%s: return synced missing", fn)
	}
	e.log.Debugf("%s synced", fn)
	return nil
}

// Shutdown is a no-op; the HTTP client is shared.
func (e *EVNotify) Shutdown(context.Context) error { return nil }
