// Package transport carries worker requests and responses over byte streams.
package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Codec names.
const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

// ErrUnknownCodec is returned by CodecByName for unsupported names.
var ErrUnknownCodec = errors.New("unknown codec")

// Codec serialises messages and frames them on a stream. Marshal, Unmarshal
// and Name also satisfy grpc's encoding.Codec.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	NewFrameReader(r io.Reader) FrameReader
	NewEncoder(w io.Writer) Encoder
}

// FrameReader yields one encoded message at a time. It returns io.EOF when
// the stream ends cleanly.
type FrameReader interface {
	ReadFrame() ([]byte, error)
}

// Encoder writes one message per call.
type Encoder interface {
	Encode(v any) error
}

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", CodecJSON, "jsonl":
		return JSON, nil
	case CodecCBOR:
		return CBOR, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// JSON is the JSON-lines codec: one JSON object per line.
var JSON Codec = jsonCodec{}

type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecJSON }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) NewFrameReader(r io.Reader) FrameReader {
	return &lineReader{r: bufio.NewReader(r)}
}

func (jsonCodec) NewEncoder(w io.Writer) Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}

// lineReader splits a stream into non-blank lines. A malformed line only
// affects its own message.
type lineReader struct {
	r *bufio.Reader
}

func (l *lineReader) ReadFrame() ([]byte, error) {
	for {
		line, err := l.r.ReadBytes('\n')
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			return trimmed, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// CBOR is the CBOR-sequence codec using core deterministic encoding.
var CBOR Codec = newCBORCodec()

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() cborCodec {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("transport: CBOR encoder initialization failed: " + err.Error())
	}

	// Payloads decoded into any must be usable as JSON objects.
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("transport: CBOR decoder initialization failed: " + err.Error())
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) Name() string { return CodecCBOR }

func (c cborCodec) Marshal(v any) ([]byte, error) { return c.enc.Marshal(v) }

func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

func (c cborCodec) NewFrameReader(r io.Reader) FrameReader {
	return &cborFrameReader{dec: c.dec.NewDecoder(r)}
}

func (c cborCodec) NewEncoder(w io.Writer) Encoder {
	return c.enc.NewEncoder(w)
}

// cborFrameReader reads well-formed data items without interpreting them,
// so a type mismatch in one message does not break the stream.
type cborFrameReader struct {
	dec *cbor.Decoder
}

func (c *cborFrameReader) ReadFrame() ([]byte, error) {
	var raw cbor.RawMessage
	if err := c.dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}
