package protocol

import (
	"bytes"
	"fmt"
)

// Delimiter terminates every frame on the wire.
// The JSON encoding escapes newlines inside strings, so it never occurs in a payload.
const Delimiter = '\n'

// FrameError reports a frame whose payload could not be parsed.
// The frame has already been consumed, later frames are unaffected.
type FrameError struct {
	Payload []byte
	Err     error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("malformed frame %q: %v", e.Payload, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Encode appends one frame carrying m to buf.
func Encode(m Message, buf *bytes.Buffer) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	buf.Grow(len(data) + 1)
	buf.Write(data)
	buf.WriteByte(Delimiter)
	return nil
}

// Decoder splits a growing buffer into frames.
// It remembers how far the buffer was already searched for a delimiter so
// repeated calls while waiting for more bytes do not rescan from the start.
type Decoder struct {
	next int
}

// Decode returns the next message in buf.
// ok is false with a nil error when buf does not yet hold a complete frame.
// A *FrameError means one frame was consumed but could not be parsed.
func (d *Decoder) Decode(buf *bytes.Buffer) (msg Message, ok bool, err error) {
	pending := buf.Bytes()
	if d.next > len(pending) {
		// buffer was consumed behind our back
		d.next = 0
	}

	i := bytes.IndexByte(pending[d.next:], Delimiter)
	if i < 0 {
		d.next = len(pending)
		return nil, false, nil
	}

	pos := d.next + i
	d.next = 0
	frame := buf.Next(pos + 1)
	payload := frame[:pos]

	msg, err = Unmarshal(payload)
	if err != nil {
		return nil, false, &FrameError{Payload: append([]byte(nil), payload...), Err: err}
	}
	return msg, true, nil
}

// Scanned reports how many buffered bytes are known to hold no delimiter.
func (d *Decoder) Scanned() int { return d.next }
