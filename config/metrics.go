package config

import "errors"

// MetricsConfig enables the Prometheus endpoint and the optional InfluxDB
// event export.
type MetricsConfig struct {
	PrometheusEnabled bool         `json:"prometheus_enabled"`
	Path              string       `json:"path"`
	Influx            InfluxConfig `json:"influx"`
}

// InfluxConfig points the event export at an InfluxDB v2 bucket. An empty
// URL disables it.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

func (c *MetricsConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "/metrics"
	}
}

func (c MetricsConfig) Validate() error {
	if c.Path[0] != '/' {
		return errors.New("path must start with /")
	}
	i := c.Influx
	if i.URL != "" && (i.Org == "" || i.Bucket == "") {
		return errors.New("influx: org and bucket are required")
	}
	return nil
}
