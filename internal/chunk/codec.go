// ABOUTME: Wire codec for StreamChunk sequences over SSE frames or newline-delimited JSON.
// ABOUTME: Decoding peeks the type discriminant with gjson before the full unmarshal.

package chunk

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// DoneSentinel terminates a chunk stream on the wire.
const DoneSentinel = "[DONE]"

// maxLineSize bounds a single wire line; tool results can be large.
const maxLineSize = 4 << 20

// ErrMalformed indicates a frame that is not valid JSON.
var ErrMalformed = errors.New("malformed chunk frame")

// Format selects the wire framing used by an Encoder.
type Format int

const (
	FormatNDJSON Format = iota
	FormatSSE
)

// ParseFormat maps a user-facing name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "ndjson", "jsonl":
		return FormatNDJSON, nil
	case "sse":
		return FormatSSE, nil
	default:
		return 0, fmt.Errorf("unknown wire format %q", s)
	}
}

// Decoder reads StreamChunks from either SSE or NDJSON framing. The framing
// is detected per line, so mixed input decodes as long as each value is whole.
type Decoder struct {
	scanner *bufio.Scanner
	pending strings.Builder
	hasData bool
	done    bool
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Decoder{scanner: sc}
}

// Next returns the next chunk. It returns io.EOF at end of input or after
// the done sentinel.
func (d *Decoder) Next() (*StreamChunk, error) {
	if d.done {
		return nil, io.EOF
	}

	for d.scanner.Scan() {
		line := strings.TrimRight(d.scanner.Text(), "\r")

		switch {
		case line == "":
			if d.hasData {
				return d.flushPending()
			}
		case strings.HasPrefix(line, ":"):
			// SSE comment / keepalive
		case strings.HasPrefix(line, "data:"):
			payload := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			if d.hasData {
				d.pending.WriteByte('\n')
			}
			d.pending.WriteString(payload)
			d.hasData = true
		case strings.HasPrefix(line, "event:"), strings.HasPrefix(line, "id:"), strings.HasPrefix(line, "retry:"):
			// The chunk's own type field is authoritative.
		default:
			return d.parse(line)
		}
	}

	if err := d.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading chunk stream: %w", err)
	}
	if d.hasData {
		return d.flushPending()
	}
	return nil, io.EOF
}

func (d *Decoder) flushPending() (*StreamChunk, error) {
	payload := d.pending.String()
	d.pending.Reset()
	d.hasData = false
	return d.parse(payload)
}

func (d *Decoder) parse(payload string) (*StreamChunk, error) {
	payload = strings.TrimSpace(payload)
	if payload == DoneSentinel {
		d.done = true
		return nil, io.EOF
	}
	return Parse([]byte(payload))
}

// Parse decodes and validates a single JSON-encoded chunk.
func Parse(data []byte) (*StreamChunk, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrMalformed
	}
	t := Type(gjson.GetBytes(data, "type").String())
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	var c StreamChunk
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding %s chunk: %w", t, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Encoder writes StreamChunks in the configured framing.
type Encoder struct {
	w      io.Writer
	format Format
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer, format Format) *Encoder {
	return &Encoder{w: w, format: format}
}

// Encode writes one chunk.
func (e *Encoder) Encode(c *StreamChunk) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling chunk: %w", err)
	}

	if e.format == FormatSSE {
		if _, err := fmt.Fprintf(e.w, "event: %s\n", c.Type); err != nil {
			return err
		}
		_, err = fmt.Fprintf(e.w, "data: %s\n\n", data)
		return err
	}

	_, err = fmt.Fprintf(e.w, "%s\n", data)
	return err
}

// Close writes the done sentinel. NDJSON streams end at EOF and get nothing.
func (e *Encoder) Close() error {
	if e.format != FormatSSE {
		return nil
	}
	_, err := fmt.Fprintf(e.w, "data: %s\n\n", DoneSentinel)
	return err
}
