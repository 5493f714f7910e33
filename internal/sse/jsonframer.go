package sse

// JSONFramer extracts top-level JSON objects by brace depth. It tolerates
// streams that do not use blank-line framing (bare concatenated objects,
// JSON arrays, data: prefixes). Bytes outside an object are ignored.
type JSONFramer struct {
	buf      []byte
	depth    int
	inString bool
	escaped  bool
}

func (f *JSONFramer) Done() bool { return false }

// Flush drops an unterminated object; it can never be decoded.
func (f *JSONFramer) Flush() []byte {
	f.reset()
	return nil
}

func (f *JSONFramer) Feed(chunk []byte) (events [][]byte, first []byte) {
	carried := f.depth > 0
	for _, b := range chunk {
		if f.depth == 0 && b != '{' {
			continue
		}
		f.buf = append(f.buf, b)
		if f.inString {
			switch {
			case f.escaped:
				f.escaped = false
			case b == '\\':
				f.escaped = true
			case b == '"':
				f.inString = false
			}
			continue
		}
		switch b {
		case '"':
			f.inString = true
		case '{':
			f.depth++
		case '}':
			f.depth--
			if f.depth == 0 {
				obj := f.buf
				f.buf = nil
				if carried {
					first = obj
					carried = false
				} else {
					events = append(events, obj)
				}
			}
		}
	}
	return events, first
}

func (f *JSONFramer) reset() {
	f.buf = nil
	f.depth = 0
	f.inString = false
	f.escaped = false
}
