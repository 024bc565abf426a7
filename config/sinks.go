package config

import (
	"fmt"
	"net/url"

	"github.com/kilianp07/evproxy/core/sink"
)

// SinksConfig holds process-wide sink settings.
type SinksConfig struct {
	ABRPAPIKey  string `json:"abrp_api_key"`
	ABRPURL     string `json:"abrp_url"`
	EVNotifyURL string `json:"evnotify_url"`
	// Defaults are merged under the settings a vehicle sends, per kind.
	Defaults map[string]map[string]any `json:"defaults"`
}

func (c *SinksConfig) SetDefaults() {}

func (c SinksConfig) Validate() error {
	for _, u := range []string{c.ABRPURL, c.EVNotifyURL} {
		if u == "" {
			continue
		}
		if _, err := url.ParseRequestURI(u); err != nil {
			return fmt.Errorf("invalid url %s: %w", u, err)
		}
	}
	for kind := range c.Defaults {
		if _, err := sink.ParseKind(kind); err != nil {
			return fmt.Errorf("defaults: %w", err)
		}
	}
	return nil
}
