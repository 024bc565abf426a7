package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kilianp07/evproxy/core/telemetry"
)

// Compression selects the container used by Encode.
type Compression string

const (
	// CompressionXZ is the format of the EVNotiPi client (Python lzma).
	CompressionXZ   Compression = "xz"
	CompressionZstd Compression = "zstd"
)

// DefaultMaxPayload caps the decompressed size of a message.
const DefaultMaxPayload = 4 << 20

var (
	xzMagic   = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
)

// ErrMalformedPayload matches every DecodeError.
var ErrMalformedPayload = errors.New("malformed payload")

// DecodeError reports the stage at which a payload was rejected.
type DecodeError struct {
	Stage string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrMalformedPayload, e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrMalformedPayload) true for every DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrMalformedPayload }

func decompressErr(err error) error { return &DecodeError{Stage: "decompress", Err: err} }
func deserializeErr(err error) error {
	return &DecodeError{Stage: "deserialize", Err: err}
}

// Options configures a Codec.
type Options struct {
	Compression     Compression
	MaxPayloadBytes int64
}

// Codec compresses and serializes wire messages. It is safe for concurrent
// use.
type Codec struct {
	compression Compression
	maxPayload  int64
	zenc        *zstd.Encoder
	zdec        *zstd.Decoder
}

// New returns a codec. Zero options select xz and DefaultMaxPayload.
func New(opts Options) (*Codec, error) {
	c := &Codec{compression: opts.Compression, maxPayload: opts.MaxPayloadBytes}
	if c.compression == "" {
		c.compression = CompressionXZ
	}
	if c.compression != CompressionXZ && c.compression != CompressionZstd {
		return nil, fmt.Errorf("codec: unknown compression %q", c.compression)
	}
	if c.maxPayload <= 0 {
		c.maxPayload = DefaultMaxPayload
	}
	var err error
	c.zenc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("codec: zstd encoder: %w", err)
	}
	c.zdec, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(c.maxPayload)))
	if err != nil {
		return nil, fmt.Errorf("codec: zstd decoder: %w", err)
	}
	return c, nil
}

// Compression returns the container used by Encode.
func (c *Codec) Compression() Compression { return c.compression }

// Encode serializes v with MessagePack and compresses it.
func (c *Codec) Encode(v any) ([]byte, error) {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: serialize: %w", err)
	}
	if c.compression == CompressionZstd {
		return c.zenc.EncodeAll(raw, nil), nil
	}
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("codec: xz writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("codec: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode decompresses data, whichever container it uses, and deserializes
// it into v.
func (c *Codec) Decode(data []byte, v any) error {
	raw, err := c.decompress(data)
	if err != nil {
		return err
	}
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(v); err != nil {
		return deserializeErr(err)
	}
	return nil
}

func (c *Codec) decompress(data []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(data, xzMagic):
		r, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, decompressErr(err)
		}
		raw, err := io.ReadAll(io.LimitReader(r, c.maxPayload+1))
		if err != nil {
			return nil, decompressErr(err)
		}
		if int64(len(raw)) > c.maxPayload {
			return nil, decompressErr(fmt.Errorf("exceeds %d bytes", c.maxPayload))
		}
		return raw, nil
	case bytes.HasPrefix(data, zstdMagic):
		raw, err := c.zdec.DecodeAll(data, nil)
		if err != nil {
			return nil, decompressErr(err)
		}
		return raw, nil
	default:
		return nil, decompressErr(errors.New("unknown container"))
	}
}

// DecodeBatch decodes a telemetry message: an array of samples.
func (c *Codec) DecodeBatch(data []byte) (telemetry.Batch, error) {
	var items []any
	if err := c.Decode(data, &items); err != nil {
		return nil, err
	}
	batch := make(telemetry.Batch, 0, len(items))
	for i, it := range items {
		m, err := stringMap(it)
		if err != nil {
			return nil, deserializeErr(fmt.Errorf("sample %d: %w", i, err))
		}
		batch = append(batch, telemetry.Sample(m))
	}
	return batch, nil
}

// DecodeSettings decodes a configuration message: a map of sink kind to
// its settings.
func (c *Codec) DecodeSettings(data []byte) (map[string]map[string]any, error) {
	var top any
	if err := c.Decode(data, &top); err != nil {
		return nil, err
	}
	m, err := stringMap(top)
	if err != nil {
		return nil, deserializeErr(err)
	}
	out := make(map[string]map[string]any, len(m))
	for kind, v := range m {
		settings, err := stringMap(v)
		if err != nil {
			return nil, deserializeErr(fmt.Errorf("%s: %w", kind, err))
		}
		out[kind] = settings
	}
	return out, nil
}

// FieldsReply is the answer to a configuration message. A nil Fields means
// every field.
type FieldsReply struct {
	Fields []string `msgpack:"fields"`
}

// EncodeFields encodes the field interest returned to the client.
func (c *Codec) EncodeFields(f telemetry.FieldSet) ([]byte, error) {
	reply := FieldsReply{}
	if !f.All() {
		reply.Fields = f.Names()
		if reply.Fields == nil {
			reply.Fields = []string{}
		}
	}
	return c.Encode(reply)
}

// stringMap accepts the map shapes msgpack produces for string-keyed maps.
func stringMap(v any) (map[string]any, error) {
	switch m := v.(type) {
	case map[string]any:
		return m, nil
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			s, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string key %v", k)
			}
			out[s] = val
		}
		return out, nil
	case nil:
		return map[string]any{}, nil
	default:
		return nil, fmt.Errorf("expected map, got %T", v)
	}
}
