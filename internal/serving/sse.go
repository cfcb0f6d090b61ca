// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package serving

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// STREAMING: Server-Sent Events framing for invocation streams.

// MaxEventSize is the largest single SSE event accepted.
// SECURITY: Bounds memory held for one event.
const MaxEventSize = 1024 * 1024

// doneSentinel terminates an invocation stream.
var doneSentinel = []byte("[DONE]")

// ErrEventTooLarge indicates an SSE event exceeded MaxEventSize.
var ErrEventTooLarge = errors.New("stream event too large")

// sseEvent is one dispatched Server-Sent Event.
type sseEvent struct {
	Type string
	Data []byte
}

// sseReader parses Server-Sent Events. Lines may end in LF, CRLF or a bare CR.
// Comment lines and the id/retry fields are ignored.
type sseReader struct {
	reader *bufio.Reader
	done   bool
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{reader: bufio.NewReaderSize(r, 4096)}
}

// next returns the next event with data. Returns io.EOF when the stream ends.
func (s *sseReader) next() (sseEvent, error) {
	if s.done {
		return sseEvent{}, io.EOF
	}

	var (
		ev      sseEvent
		hasData bool
		data    bytes.Buffer
	)
	for {
		line, err := s.readLine()
		if err == io.EOF {
			s.done = true
			if hasData {
				ev.Data = data.Bytes()
				return ev, nil
			}
			return sseEvent{}, io.EOF
		}
		if err != nil {
			return sseEvent{}, err
		}

		// A blank line dispatches the current event.
		if len(line) == 0 {
			if !hasData {
				ev.Type = ""
				continue
			}
			ev.Data = data.Bytes()
			return ev, nil
		}
		if line[0] == ':' {
			continue
		}

		field, value := splitField(line)
		switch string(field) {
		case "event":
			ev.Type = string(value)
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			hasData = true
			data.Write(value)
			if data.Len() > MaxEventSize {
				return sseEvent{}, fmt.Errorf("%w: more than %d bytes", ErrEventTooLarge, MaxEventSize)
			}
		}
	}
}

// splitField splits "field: value", stripping one leading space from value.
func splitField(line []byte) (field, value []byte) {
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return line, nil
	}
	field, value = line[:i], line[i+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return field, value
}

// readLine reads one line without its terminator.
func (s *sseReader) readLine() ([]byte, error) {
	var line []byte
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				return line, nil
			}
			return nil, err
		}
		switch b {
		case '\n':
			return line, nil
		case '\r':
			if next, err := s.reader.ReadByte(); err == nil && next != '\n' {
				_ = s.reader.UnreadByte()
			}
			return line, nil
		}
		line = append(line, b)
		if len(line) > MaxEventSize {
			return nil, fmt.Errorf("%w: line longer than %d bytes", ErrEventTooLarge, MaxEventSize)
		}
	}
}

// =============================================================================
// EVENT ITERATOR
// =============================================================================

// Events is a pull iterator over the data payloads of a streaming invocation.
//
//	for ev.Next() {
//	    frag, err := serving.DecodeFragment(task, ev.Data())
//	}
//	if err := ev.Err(); err != nil { ... }
type Events interface {
	// Next advances to the next payload. It returns false at [DONE], at the
	// end of the body, or on error.
	Next() bool
	// Data returns the current payload. Valid until the next call to Next.
	Data() []byte
	// Err returns the first transport error, if any.
	Err() error
	// Close releases the underlying connection.
	Close() error
}

// sseEvents adapts an SSE body to Events.
type sseEvents struct {
	body   io.ReadCloser
	reader *sseReader
	data   []byte
	err    error
	done   bool
}

func newSSEEvents(body io.ReadCloser) *sseEvents {
	return &sseEvents{body: body, reader: newSSEReader(body)}
}

func (e *sseEvents) Next() bool {
	if e.done {
		return false
	}
	ev, err := e.reader.next()
	if err != nil {
		e.done = true
		if err != io.EOF {
			e.err = err
		}
		return false
	}
	if bytes.Equal(bytes.TrimSpace(ev.Data), doneSentinel) {
		e.done = true
		return false
	}
	e.data = ev.Data
	return true
}

func (e *sseEvents) Data() []byte { return e.data }

func (e *sseEvents) Err() error { return e.err }

func (e *sseEvents) Close() error {
	e.done = true
	return e.body.Close()
}
