package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/hokaccha/go-prettyjson"
	"github.com/spf13/cobra"

	"github.com/kilianp07/evproxy/infra/codec"
)

var decodePlain bool

var decodeCmd = &cobra.Command{
	Use:   "decode <file>",
	Short: "Print a wire payload as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return decodePayload(cmd.OutOrStdout(), data, decodePlain)
	},
}

func init() {
	decodeCmd.Flags().BoolVar(&decodePlain, "no-color", false, "disable colored output")
	rootCmd.AddCommand(decodeCmd)
}

// decodePayload prints data as JSON. The container is detected from the
// payload.
func decodePayload(out io.Writer, data []byte, plain bool) error {
	c, err := codec.New(codec.Options{})
	if err != nil {
		return err
	}
	var v any
	if err := c.Decode(data, &v); err != nil {
		return err
	}
	f := prettyjson.NewFormatter()
	f.DisabledColor = plain
	s, err := f.Marshal(v)
	if err != nil {
		return fmt.Errorf("format: %w", err)
	}
	_, err = fmt.Fprintln(out, string(s))
	return err
}
