package stream

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// Frame is one dispatched Server-Sent Event.
type Frame struct {
	ID    string
	Event string
	Data  string
}

const defaultEventType = "message"

// readFrames parses an event stream and calls fn for every dispatched frame
// until fn returns false, the reader ends, or it fails. A clean end of input
// returns nil.
func readFrames(r io.Reader, fn func(Frame) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanLines())

	var (
		id      string
		event   string
		data    strings.Builder
		hasData bool
	)
	dispatch := func() bool {
		defer func() {
			event = ""
			data.Reset()
			hasData = false
		}()
		if !hasData {
			return true
		}
		name := event
		if name == "" {
			name = defaultEventType
		}
		return fn(Frame{ID: id, Event: name, Data: data.String()})
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if !dispatch() {
				return nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				id = value
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	// A trailing frame without its blank line is incomplete and is discarded.
	return nil
}

// scanLines splits on CRLF, LF or a bare CR. A CR ends its line immediately,
// so a CRLF split across two reads skips the LF that follows.
func scanLines() bufio.SplitFunc {
	skipLF := false
	return func(data []byte, atEOF bool) (int, []byte, error) {
		start := 0
		if skipLF && len(data) > 0 {
			skipLF = false
			if data[0] == '\n' {
				start = 1
			}
		}
		if i := bytes.IndexAny(data[start:], "\r\n"); i >= 0 {
			end := start + i
			if data[end] == '\n' {
				return end + 1, data[start:end], nil
			}
			if end+1 < len(data) {
				if data[end+1] == '\n' {
					return end + 2, data[start:end], nil
				}
				return end + 1, data[start:end], nil
			}
			skipLF = true
			return end + 1, data[start:end], nil
		}
		if atEOF && len(data) > start {
			return len(data), data[start:], nil
		}
		return start, nil, nil
	}
}
