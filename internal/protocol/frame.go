package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

const (
	DefaultMaxFrameSize = 1024 * 1024 // 1MB
	readChunkSize       = 4096
)

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// FrameReader reads messages from a byte stream.
type FrameReader struct {
	r       io.Reader
	buf     bytes.Buffer
	dec     Decoder
	maxSize int
	chunk   []byte
	eof     bool
}

// NewFrameReader wraps r. maxSize <= 0 means DefaultMaxFrameSize.
func NewFrameReader(r io.Reader, maxSize int) *FrameReader {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &FrameReader{
		r:       r,
		maxSize: maxSize,
		chunk:   make([]byte, readChunkSize),
	}
}

// ReadMessage blocks until one full frame is available.
// It returns io.EOF at a clean end of stream and io.ErrUnexpectedEOF when the
// stream ends inside a frame. A *FrameError leaves the reader usable.
func (fr *FrameReader) ReadMessage() (Message, error) {
	for {
		msg, ok, err := fr.dec.Decode(&fr.buf)
		if err != nil {
			return nil, err
		}
		if ok {
			return msg, nil
		}

		if fr.eof {
			if fr.buf.Len() == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		}
		if fr.buf.Len() > fr.maxSize {
			return nil, fmt.Errorf("%d bytes without delimiter: %w", fr.buf.Len(), ErrFrameTooLarge)
		}

		n, err := fr.r.Read(fr.chunk)
		if n > 0 {
			fr.buf.Write(fr.chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				fr.eof = true
				continue
			}
			return nil, err
		}
	}
}

// Buffered returns the number of bytes read but not yet decoded.
func (fr *FrameReader) Buffered() int { return fr.buf.Len() }

// FrameWriter writes one frame per call and flushes it.
type FrameWriter struct {
	w   *bufio.Writer
	buf bytes.Buffer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: bufio.NewWriter(w)}
}

// WriteMessage encodes m and flushes it to the underlying writer.
func (fw *FrameWriter) WriteMessage(m Message) error {
	fw.buf.Reset()
	if err := Encode(m, &fw.buf); err != nil {
		return err
	}
	if _, err := fw.w.Write(fw.buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if err := fw.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}
