package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"

	"github.com/kilianp07/evproxy/api/proxy"
	"github.com/kilianp07/evproxy/core/telemetry"
	"github.com/kilianp07/evproxy/infra/codec"
)

type pushOptions struct {
	url         string
	key         string
	vehicle     string
	settings    string
	samples     string
	compression string
	timeout     time.Duration
}

var pushOpts pushOptions

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Encode a settings file and a samples file and post them to a proxy",
	Long: `push reads JSON files (comments allowed), encodes them with the wire
codec and posts them to a running proxy. Settings map sink kinds to their
settings; samples is an array of objects.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runPush(cmd.Context(), cmd.OutOrStdout(), pushOpts)
	},
}

func init() {
	f := pushCmd.Flags()
	f.StringVar(&pushOpts.url, "url", "http://localhost:8080", "proxy base URL")
	f.StringVar(&pushOpts.key, "key", "", "Authorization header value")
	f.StringVar(&pushOpts.vehicle, "vehicle", "", "vehicle id")
	f.StringVar(&pushOpts.settings, "settings", "", "settings file")
	f.StringVar(&pushOpts.samples, "samples", "", "samples file")
	f.StringVar(&pushOpts.compression, "compression", string(codec.CompressionXZ), "xz or zstd")
	f.DurationVar(&pushOpts.timeout, "timeout", 30*time.Second, "request timeout")
	_ = pushCmd.MarkFlagRequired("vehicle")
	rootCmd.AddCommand(pushCmd)
}

func runPush(ctx context.Context, out io.Writer, o pushOptions) error {
	if o.settings == "" && o.samples == "" {
		return fmt.Errorf("nothing to push: set --settings or --samples")
	}
	c, err := codec.New(codec.Options{Compression: codec.Compression(o.compression)})
	if err != nil {
		return err
	}
	client := proxy.NewClient(o.url, o.key, c, &http.Client{Timeout: o.timeout})

	if o.settings != "" {
		var settings map[string]map[string]any
		if err := readJSONC(o.settings, &settings); err != nil {
			return err
		}
		fields, err := client.Configure(ctx, o.vehicle, settings)
		if err != nil {
			return err
		}
		if fields == nil {
			fmt.Fprintln(out, "fields: all")
		} else {
			fmt.Fprintf(out, "fields: %s\n", strings.Join(fields, ","))
		}
	}
	if o.samples != "" {
		var batch telemetry.Batch
		if err := readJSONC(o.samples, &batch); err != nil {
			return err
		}
		if err := client.Transmit(ctx, o.vehicle, batch); err != nil {
			return err
		}
		fmt.Fprintf(out, "sent %d samples\n", len(batch))
	}
	return nil
}

func readJSONC(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
