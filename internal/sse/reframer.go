package sse

import "bytes"

var (
	delimiter = []byte("\n\n")
	dataLabel = []byte("data")
	doneToken = []byte("[DONE]")
)

// Reframer splits a text/event-stream body on blank lines and keeps the
// data lines of every event. One instance serves one response body.
type Reframer struct {
	// buf holds the tail of the stream after the last delimiter seen.
	// It never contains a delimiter itself.
	buf  []byte
	done bool
}

func (r *Reframer) Done() bool { return r.done }

func (r *Reframer) Feed(chunk []byte) (events [][]byte, first []byte) {
	if r.done || len(chunk) == 0 {
		return nil, nil
	}
	start := 0
	if len(r.buf) > 0 {
		var raw []byte
		switch {
		case r.buf[len(r.buf)-1] == '\n' && chunk[0] == '\n':
			// the delimiter straddles the two reads
			raw = r.buf[:len(r.buf)-1]
			start = 1
		default:
			i := bytes.Index(chunk, delimiter)
			if i < 0 {
				r.buf = append(r.buf, chunk...)
				return nil, nil
			}
			raw = append(r.buf, chunk[:i]...)
			start = i + len(delimiter)
		}
		first = payload(raw)
		r.buf = nil
		if first != nil && isDone(first) {
			r.done = true
			return nil, nil
		}
	}

	rest := chunk[start:]
	for {
		i := bytes.Index(rest, delimiter)
		if i < 0 {
			break
		}
		p := payload(rest[:i])
		rest = rest[i+len(delimiter):]
		if p == nil {
			continue
		}
		if isDone(p) {
			r.done = true
			return events, first
		}
		events = append(events, p)
	}
	if len(rest) > 0 {
		r.buf = append(r.buf[:0], rest...)
	}
	return events, first
}

// Flush treats a leftover fragment as a final event with a missing delimiter.
func (r *Reframer) Flush() []byte {
	if r.done || len(r.buf) == 0 {
		return nil
	}
	p := payload(r.buf)
	r.buf = nil
	if p != nil && isDone(p) {
		r.done = true
		return nil
	}
	return p
}

// payload joins the values of an event's data lines. Events without data,
// or with only empty data, yield nil.
func payload(event []byte) []byte {
	var out []byte
	seen := false
	for len(event) > 0 {
		line := event
		if i := bytes.IndexByte(event, '\n'); i >= 0 {
			line, event = event[:i], event[i+1:]
		} else {
			event = nil
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})
		label, value, ok := bytes.Cut(line, []byte{':'})
		if !ok || !bytes.Equal(label, dataLabel) {
			continue
		}
		value = bytes.TrimPrefix(value, []byte{' '})
		if seen {
			out = append(out, '\n')
		}
		out = append(out, value...)
		seen = true
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isDone(p []byte) bool {
	return bytes.Equal(bytes.TrimSpace(p), doneToken)
}
