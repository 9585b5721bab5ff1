// Package codec centralizes the encoding of tensor batches and reports.
//
// The CLI reads input batches and writes reports through a Codec selected by
// name. Both built-in codecs produce standard JSON.
package codec

import (
	"errors"
	"fmt"
	"io"
)

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// ErrInvalidBatch is returned when a batch shape does not match its data.
var ErrInvalidBatch = errors.New("codec: invalid batch")

// Batch is the wire form of a dense float32 tensor.
type Batch struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// Validate checks that Shape is non-empty, non-negative and covers Data.
func (b *Batch) Validate() error {
	if len(b.Shape) == 0 {
		return fmt.Errorf("%w: empty shape", ErrInvalidBatch)
	}
	n := 1
	for _, d := range b.Shape {
		if d < 0 {
			return fmt.Errorf("%w: negative dimension in %v", ErrInvalidBatch, b.Shape)
		}
		n *= d
	}
	if n != len(b.Data) {
		return fmt.Errorf("%w: shape %v needs %d values, got %d", ErrInvalidBatch, b.Shape, n, len(b.Data))
	}
	return nil
}

// ReadBatch decodes and validates a Batch from r.
func ReadBatch(c Codec, r io.Reader) (*Batch, error) {
	if c == nil {
		c = Default
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var b Batch
	if err := c.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("codec %s: %w", c.Name(), err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Write encodes v to w followed by a newline.
func Write(c Codec, w io.Writer, v any) error {
	if c == nil {
		c = Default
	}
	data, err := c.Marshal(v)
	if err != nil {
		return fmt.Errorf("codec %s: %w", c.Name(), err)
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// MustMarshal is a helper for tests.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
