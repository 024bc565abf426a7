package scenarios

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/evproxy/core/dispatch"
	"github.com/kilianp07/evproxy/core/session"
	"github.com/kilianp07/evproxy/core/telemetry"
	"github.com/kilianp07/evproxy/infra/metrics"
	"github.com/kilianp07/evproxy/internal/sinktest"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Run replays sc and returns every mismatch with its expectations. An empty
// result means the scenario passed.
func Run(sc *Scenario) ([]string, error) {
	reg := prometheus.NewRegistry()
	rec, err := metrics.NewPromRecorder(reg)
	if err != nil {
		return nil, fmt.Errorf("prom recorder: %w", err)
	}
	fakes := &sinktest.Recorder{}
	clock := sinktest.NewClock(epoch)
	sessions := session.NewRegistry(fakes.Builder(), session.WithClock(clock.Now))
	d := dispatch.New(sessions,
		dispatch.WithClock(clock.Now),
		dispatch.WithMetrics(rec),
		dispatch.WithConfig(dispatch.Config{TransmitTimeout: time.Second}))

	ctx := context.Background()
	var problems []string
	for i, st := range sc.Steps {
		at := epoch.Add(time.Duration(st.AtSeconds * float64(time.Second)))
		clock.Advance(at.Sub(clock.Now()))
		if st.Configure != nil {
			_, err = d.Configure(ctx, st.Vehicle, st.Configure)
		} else {
			batch := make(telemetry.Batch, len(st.Samples))
			for j, s := range st.Samples {
				batch[j] = telemetry.Sample(s)
			}
			_, err = d.Ingest(ctx, st.Vehicle, batch)
		}
		if got := errorName(err); got != st.ExpectError {
			problems = append(problems, fmt.Sprintf("step %d: error %q, want %q", i, got, st.ExpectError))
		}
	}
	if sc.Shutdown {
		if err := d.Shutdown(ctx); err != nil {
			problems = append(problems, fmt.Sprintf("shutdown: %v", err))
		}
	}

	problems = append(problems, checkSinks(fakes, sc.Expected)...)
	outcomes, err := gatherOutcomes(reg)
	if err != nil {
		return nil, err
	}
	for _, o := range sortedKeys(sc.Expected.Outcomes) {
		if got := outcomes[o]; got != sc.Expected.Outcomes[o] {
			problems = append(problems, fmt.Sprintf("outcome %s: %d, want %d", o, got, sc.Expected.Outcomes[o]))
		}
	}
	return problems, nil
}

func errorName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, session.ErrClosed):
		return "closed"
	default:
		return err.Error()
	}
}

func checkSinks(fakes *sinktest.Recorder, exp Expected) []string {
	transmits := map[string]map[string]int{}
	shutdowns := map[string]int{}
	last := map[string]map[string]telemetry.Sample{}
	for _, f := range fakes.Created() {
		kind := f.Kind().String()
		if transmits[f.Vehicle] == nil {
			transmits[f.Vehicle] = map[string]int{}
			last[f.Vehicle] = map[string]telemetry.Sample{}
		}
		sent := f.Transmits()
		transmits[f.Vehicle][kind] += len(sent)
		if len(sent) > 0 {
			last[f.Vehicle][kind] = sent[len(sent)-1]
		}
		shutdowns[f.Vehicle] += f.Shutdowns()
	}

	var problems []string
	for _, v := range sortedKeys(exp.Transmits) {
		for _, k := range sortedKeys(exp.Transmits[v]) {
			if got, want := transmits[v][k], exp.Transmits[v][k]; got != want {
				problems = append(problems, fmt.Sprintf("%s/%s: %d transmits, want %d", v, k, got, want))
			}
		}
	}
	for _, v := range sortedKeys(exp.Last) {
		for _, k := range sortedKeys(exp.Last[v]) {
			s := last[v][k]
			for _, field := range sortedKeys(exp.Last[v][k]) {
				want := exp.Last[v][k][field]
				got, ok := s.Number(field)
				if !ok || math.Abs(got-want) > 1e-9 {
					problems = append(problems, fmt.Sprintf("%s/%s: last %s = %v, want %v", v, k, field, s[field], want))
				}
			}
		}
	}
	for _, v := range sortedKeys(exp.Shutdowns) {
		if got := shutdowns[v]; got != exp.Shutdowns[v] {
			problems = append(problems, fmt.Sprintf("%s: %d shutdowns, want %d", v, got, exp.Shutdowns[v]))
		}
	}
	return problems
}

// gatherOutcomes sums evproxy_transmit_total by outcome.
func gatherOutcomes(reg *prometheus.Registry) (map[string]int, error) {
	mfs, err := reg.Gather()
	if err != nil {
		return nil, err
	}
	out := map[string]int{}
	for _, mf := range mfs {
		if mf.GetName() != "evproxy_transmit_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "outcome" {
					out[lp.GetValue()] += int(m.GetCounter().GetValue())
				}
			}
		}
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
