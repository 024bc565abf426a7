package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kilianp07/evproxy/core/telemetry"
	"github.com/kilianp07/evproxy/infra/codec"
)

// StatusError is returned by Client when the proxy answers with a non-200
// status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("proxy: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("proxy: %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}

// NotConfigured reports whether the proxy asked for settings first.
func (e *StatusError) NotConfigured() bool { return e.Code == http.StatusPaymentRequired }

// Client speaks the wire protocol to a running proxy.
type Client struct {
	base  string
	key   string
	codec *codec.Codec
	http  *http.Client
}

// NewClient returns a client for the proxy at baseURL. A nil hc uses
// http.DefaultClient.
func NewClient(baseURL, key string, c *codec.Codec, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimSuffix(baseURL, "/"), key: key, codec: c, http: hc}
}

// Configure installs settings for vehicleID and returns the field interest.
// A nil slice means every field.
func (c *Client) Configure(ctx context.Context, vehicleID string, settings map[string]map[string]any) ([]string, error) {
	reply, err := c.post(ctx, "/setsvcsettings/"+vehicleID, settings)
	if err != nil {
		return nil, err
	}
	var fields codec.FieldsReply
	if err := c.codec.Decode(reply, &fields); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return fields.Fields, nil
}

// Transmit posts a batch of samples for vehicleID.
func (c *Client) Transmit(ctx context.Context, vehicleID string, batch telemetry.Batch) error {
	_, err := c.post(ctx, "/transmit/"+vehicleID, batch)
	return err
}

func (c *Client) post(ctx context.Context, path string, v any) ([]byte, error) {
	body, err := c.codec.Encode(v)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.key)
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}
