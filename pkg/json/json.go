// Package json provides JSON serialization backed by goccy/go-json with
// pooled buffers for response encoding.
package json

import (
	"bytes"
	"io"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/brick2/pkg/pool"
)

// RawMessage is a raw encoded JSON value
type RawMessage = gojson.RawMessage

// Number is a JSON number literal kept as text
type Number = gojson.Number

// Marshal is a high-performance drop-in replacement for json.Marshal
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal is a high-performance drop-in replacement for json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// MarshalIndent is a high-performance replacement for json.MarshalIndent
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// Valid reports whether data is valid JSON
func Valid(data []byte) bool {
	return gojson.Valid(data)
}

// NewEncoder returns an encoder writing to w with HTML escaping disabled
func NewEncoder(w io.Writer) *gojson.Encoder {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}

// NewDecoder returns a decoder that keeps numbers as json.Number
func NewDecoder(r io.Reader) *gojson.Decoder {
	dec := gojson.NewDecoder(r)
	dec.UseNumber()
	return dec
}

// MarshalToBuffer marshals v into a pooled buffer. The caller must hand
// the buffer back with ReleaseBuffer once it has been written out.
func MarshalToBuffer(v interface{}) (*bytes.Buffer, error) {
	buf := pool.GetBuffer()
	if err := NewEncoder(buf).Encode(v); err != nil {
		pool.PutBuffer(buf)
		return nil, err
	}
	return buf, nil
}

// ReleaseBuffer returns a buffer obtained from MarshalToBuffer
func ReleaseBuffer(buf *bytes.Buffer) {
	pool.PutBuffer(buf)
}
