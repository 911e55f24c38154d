package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Wire format: one event per line.
//
//	type:phase_start payload:{"seq":3,"execution_id":"…","timestamp":"…","data":{…}}
const (
	typePrefix    = "type:"
	payloadMarker = " payload:"
)

// DefaultMaxFrame bounds a single line; larger frames are rejected.
const DefaultMaxFrame = 1 << 20

var (
	// ErrMalformedFrame indicates a complete line that is not a valid frame.
	ErrMalformedFrame = errors.New("malformed stream frame")

	// ErrFrameTooLarge indicates a line exceeding the parser's limit.
	ErrFrameTooLarge = errors.New("stream frame too large")

	// ErrIncompleteFrame indicates trailing bytes without a newline at end of stream.
	ErrIncompleteFrame = errors.New("incomplete stream frame")
)

// MarshalFrame encodes ev as a single newline-terminated line.
func MarshalFrame(ev Event) ([]byte, error) {
	if ev.Type == "" {
		return nil, fmt.Errorf("%w: empty type", ErrMalformedFrame)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(typePrefix) + len(ev.Type) + len(payloadMarker) + len(payload) + 1)
	buf.WriteString(typePrefix)
	buf.WriteString(string(ev.Type))
	buf.WriteString(payloadMarker)
	buf.Write(payload)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Encoder writes frames to an io.Writer.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes ev and flushes it.
func (e *Encoder) Encode(ev Event) error {
	line, err := MarshalFrame(ev)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(line); err != nil {
		return err
	}
	return e.w.Flush()
}

// ParseFrame decodes one line, without its trailing newline.
func ParseFrame(line []byte) (Event, error) {
	line = bytes.TrimRight(line, "\r")
	if !bytes.HasPrefix(line, []byte(typePrefix)) {
		return Event{}, fmt.Errorf("%w: missing %q prefix", ErrMalformedFrame, typePrefix)
	}
	rest := line[len(typePrefix):]
	idx := bytes.Index(rest, []byte(payloadMarker))
	if idx <= 0 {
		return Event{}, fmt.Errorf("%w: missing payload", ErrMalformedFrame)
	}
	typ := Type(rest[:idx])
	payload := rest[idx+len(payloadMarker):]

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	ev.Type = typ
	return ev, nil
}

// FrameError describes a complete line that could not be decoded.
type FrameError struct {
	Line []byte
	Err  error
}

func (e *FrameError) Error() string {
	return e.Err.Error()
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Frame is one complete line from the stream: a known event, or the error
// that kept it from decoding.
type Frame struct {
	Event Event
	Err   error
}

// Parser reassembles frames from arbitrarily split chunks.
//
// Partial lines are buffered until their newline arrives. Frames with an
// unknown type are dropped and counted; malformed frames are reported in
// arrival order and parsing continues with the next line. A line that
// outgrows the frame limit is reported once and skipped up to its newline.
type Parser struct {
	buf        []byte
	maxFrame   int
	skipped    int
	discarding bool
}

// NewParser returns a parser with the given frame limit (0 for DefaultMaxFrame).
func NewParser(maxFrame int) *Parser {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &Parser{maxFrame: maxFrame}
}

// Feed consumes a chunk and returns the frames it completes, in order.
// Failed frames carry a *FrameError.
func (p *Parser) Feed(chunk []byte) []Frame {
	if p.discarding {
		idx := bytes.IndexByte(chunk, '\n')
		if idx < 0 {
			return nil
		}
		chunk = chunk[idx+1:]
		p.discarding = false
	}
	p.buf = append(p.buf, chunk...)

	var frames []Frame
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		line := p.buf[:idx]
		p.buf = p.buf[idx+1:]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if len(line) > p.maxFrame {
			frames = append(frames, Frame{Err: &FrameError{Err: fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(line))}})
			continue
		}
		ev, err := ParseFrame(line)
		if err != nil {
			frames = append(frames, Frame{Err: &FrameError{Line: append([]byte(nil), line...), Err: err}})
			continue
		}
		if !ev.Type.Known() {
			p.skipped++
			continue
		}
		frames = append(frames, Frame{Event: ev})
	}

	if len(p.buf) > p.maxFrame {
		frames = append(frames, Frame{Err: &FrameError{Err: fmt.Errorf("%w: %d bytes without newline", ErrFrameTooLarge, len(p.buf))}})
		p.buf = nil
		p.discarding = true
	}
	// release the backing array once drained
	if len(p.buf) == 0 {
		p.buf = nil
	}
	return frames
}

// Buffered returns the number of bytes held for an incomplete frame.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

// Skipped returns how many frames with unknown types were ignored.
func (p *Parser) Skipped() int {
	return p.skipped
}

// Close reports ErrIncompleteFrame when the stream ended mid-frame.
func (p *Parser) Close() error {
	if len(bytes.TrimSpace(p.buf)) > 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrIncompleteFrame, len(p.buf))
	}
	return nil
}

// Decoder pulls events from an io.Reader using a Parser.
type Decoder struct {
	r       io.Reader
	p       *Parser
	pending []Frame
	chunk   []byte
	eof     bool
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, p: NewParser(0), chunk: make([]byte, 4096)}
}

// Next returns the next known event. Malformed frames surface as
// *FrameError in the position they arrived and may be skipped by calling
// Next again. io.EOF marks a clean end of stream.
func (d *Decoder) Next() (Event, error) {
	for {
		if len(d.pending) > 0 {
			f := d.pending[0]
			d.pending = d.pending[1:]
			return f.Event, f.Err
		}
		if d.eof {
			if err := d.p.Close(); err != nil {
				d.p.buf = nil
				return Event{}, err
			}
			return Event{}, io.EOF
		}

		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.pending = d.p.Feed(d.chunk[:n])
		}
		if errors.Is(err, io.EOF) {
			d.eof = true
		} else if err != nil {
			return Event{}, err
		}
	}
}

// Skipped returns how many unknown-type frames were ignored so far.
func (d *Decoder) Skipped() int {
	return d.p.Skipped()
}
