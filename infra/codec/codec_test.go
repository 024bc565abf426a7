package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kilianp07/evproxy/core/telemetry"
)

func newCodec(t *testing.T, opts Options) *Codec {
	t.Helper()
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func TestCodec_ContainerMagic(t *testing.T) {
	xzc := newCodec(t, Options{})
	zc := newCodec(t, Options{Compression: CompressionZstd})

	data, err := xzc.Encode([]any{})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, xzMagic))

	data, err = zc.Encode([]any{})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, zstdMagic))
}

func TestCodec_DecodeAcceptsBothContainers(t *testing.T) {
	samples := []map[string]any{
		{"SOC_DISPLAY": 81.5, "charging": 1, "cartype": "IONIQ_BEV"},
		{"SOC_DISPLAY": 81.0, "speed": nil},
	}
	decoder := newCodec(t, Options{})
	for _, comp := range []Compression{CompressionXZ, CompressionZstd} {
		t.Run(string(comp), func(t *testing.T) {
			data, err := newCodec(t, Options{Compression: comp}).Encode(samples)
			require.NoError(t, err)

			batch, err := decoder.DecodeBatch(data)
			require.NoError(t, err)
			require.Len(t, batch, 2)
			assert.Equal(t, 81.5, batch[0]["SOC_DISPLAY"])
			assert.Equal(t, int64(1), batch[0]["charging"])
			assert.Equal(t, "IONIQ_BEV", batch[0]["cartype"])
			assert.True(t, batch[1].Has("speed"))
			assert.Nil(t, batch[1]["speed"])
		})
	}
}

func TestCodec_DecodeSettings(t *testing.T) {
	c := newCodec(t, Options{})
	data, err := c.Encode(map[string]any{
		"abrp": map[string]any{"enable": true, "token": "t", "interval": 5},
		"mqtt": map[string]any{"enable": false},
	})
	require.NoError(t, err)

	settings, err := c.DecodeSettings(data)
	require.NoError(t, err)
	assert.Equal(t, true, settings["abrp"]["enable"])
	assert.Equal(t, "t", settings["abrp"]["token"])
	assert.Equal(t, int64(5), settings["abrp"]["interval"])
	assert.Contains(t, settings, "mqtt")
}

func TestCodec_DecodeSettingsRejectsShape(t *testing.T) {
	c := newCodec(t, Options{})
	for name, v := range map[string]any{
		"list":        []any{1, 2},
		"scalar kind": map[string]any{"abrp": 1},
	} {
		t.Run(name, func(t *testing.T) {
			data, err := c.Encode(v)
			require.NoError(t, err)
			_, err = c.DecodeSettings(data)
			assert.ErrorIs(t, err, ErrMalformedPayload)
			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, "deserialize", de.Stage)
		})
	}
}

func TestCodec_DecodeBatchRejectsNonMaps(t *testing.T) {
	c := newCodec(t, Options{})
	data, err := c.Encode([]any{map[string]any{"a": 1}, "oops"})
	require.NoError(t, err)
	_, err = c.DecodeBatch(data)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestCodec_UnknownContainer(t *testing.T) {
	c := newCodec(t, Options{})
	raw, err := msgpack.Marshal([]any{})
	require.NoError(t, err)

	_, err = c.DecodeBatch(raw)
	require.ErrorIs(t, err, ErrMalformedPayload)
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "decompress", de.Stage)

	_, err = c.DecodeBatch(append(append([]byte{}, xzMagic...), 0x01, 0x02))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestCodec_PayloadLimit(t *testing.T) {
	big := []map[string]any{{"blob": string(bytes.Repeat([]byte("a"), 4096))}}
	for _, comp := range []Compression{CompressionXZ, CompressionZstd} {
		t.Run(string(comp), func(t *testing.T) {
			c := newCodec(t, Options{Compression: comp, MaxPayloadBytes: 1024})
			data, err := c.Encode(big)
			require.NoError(t, err)
			_, err = c.DecodeBatch(data)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestCodec_EncodeFields(t *testing.T) {
	c := newCodec(t, Options{})
	cases := map[string]struct {
		in   telemetry.FieldSet
		want []string
	}{
		"all":   {telemetry.AllFields(), nil},
		"empty": {telemetry.NewFieldSet(), []string{}},
		"some":  {telemetry.NewFieldSet("speed", "SOC_DISPLAY"), []string{"SOC_DISPLAY", "speed"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			data, err := c.EncodeFields(tc.in)
			require.NoError(t, err)
			var reply map[string]any
			require.NoError(t, c.Decode(data, &reply))
			require.Contains(t, reply, "fields")
			if tc.want == nil {
				assert.Nil(t, reply["fields"])
				return
			}
			got := make([]string, 0)
			for _, v := range reply["fields"].([]any) {
				got = append(got, v.(string))
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNew_UnknownCompression(t *testing.T) {
	_, err := New(Options{Compression: "gzip"})
	assert.Error(t, err)
}
