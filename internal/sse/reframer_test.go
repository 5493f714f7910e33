package sse

import (
	"bytes"
	"fmt"
	"math/rand"
	"strings"
	"testing"
)

// feedAll runs chunks through a framer and returns payloads in stream order.
func feedAll(f Framer, chunks [][]byte) []string {
	var out []string
	for _, c := range chunks {
		events, first := f.Feed(c)
		if first != nil {
			out = append(out, string(first))
		}
		for _, e := range events {
			out = append(out, string(e))
		}
	}
	if tail := f.Flush(); tail != nil {
		out = append(out, string(tail))
	}
	return out
}

func TestReframerSplitAcrossThreeReads(t *testing.T) {
	r := &Reframer{}
	chunks := []string{"data:", " {\"a\"", ":1}\n\n"}

	for i, c := range chunks[:2] {
		events, first := r.Feed([]byte(c))
		if len(events) != 0 || first != nil {
			t.Fatalf("call %d: expected no output, got events=%q first=%q", i, events, first)
		}
	}
	events, first := r.Feed([]byte(chunks[2]))
	if len(events) != 0 {
		t.Fatalf("expected buffered event to come back as first, got events=%q", events)
	}
	if string(first) != `{"a":1}` {
		t.Fatalf("first = %q", first)
	}
}

func TestReframerFirstPrecedesChunkEvents(t *testing.T) {
	r := &Reframer{}
	r.Feed([]byte("data: one"))
	events, first := r.Feed([]byte("\n\ndata: two\n\ndata: thr"))
	if string(first) != "one" {
		t.Fatalf("first = %q", first)
	}
	if len(events) != 1 || string(events[0]) != "two" {
		t.Fatalf("events = %q", events)
	}
	events, first = r.Feed([]byte("ee\n\n"))
	if string(first) != "three" || len(events) != 0 {
		t.Fatalf("got first=%q events=%q", first, events)
	}
}

func TestReframerDelimiterStraddlesReads(t *testing.T) {
	r := &Reframer{}
	if events, first := r.Feed([]byte("data: x\n")); events != nil || first != nil {
		t.Fatalf("unexpected output %q %q", events, first)
	}
	events, first := r.Feed([]byte("\ndata: y\n\n"))
	if string(first) != "x" {
		t.Fatalf("first = %q", first)
	}
	if len(events) != 1 || string(events[0]) != "y" {
		t.Fatalf("events = %q", events)
	}
}

func TestReframerKeepsOnlyDataLines(t *testing.T) {
	r := &Reframer{}
	in := "event: message\nid: 7\ndata: {\"x\":1}\nretry: 10\n\n: keepalive\n\ndata:no-space\n\n"
	events, _ := r.Feed([]byte(in))
	want := []string{`{"x":1}`, "no-space"}
	if len(events) != len(want) {
		t.Fatalf("events = %q", events)
	}
	for i := range want {
		if string(events[i]) != want[i] {
			t.Fatalf("event %d = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestReframerJoinsMultipleDataLines(t *testing.T) {
	r := &Reframer{}
	events, _ := r.Feed([]byte("data: a\r\ndata: b\n\n"))
	if len(events) != 1 || string(events[0]) != "a\nb" {
		t.Fatalf("events = %q", events)
	}
}

func TestReframerDoneEndsStream(t *testing.T) {
	r := &Reframer{}
	events, _ := r.Feed([]byte("data: 1\n\ndata: [DONE]\n\ndata: 2\n\n"))
	if len(events) != 1 || string(events[0]) != "1" {
		t.Fatalf("events = %q", events)
	}
	if !r.Done() {
		t.Fatal("expected Done after [DONE]")
	}
	if events, first := r.Feed([]byte("data: 3\n\n")); events != nil || first != nil {
		t.Fatalf("expected nothing after done, got %q %q", events, first)
	}
}

func TestReframerDoneAsFirst(t *testing.T) {
	r := &Reframer{}
	r.Feed([]byte("data: [DO"))
	events, first := r.Feed([]byte("NE]\n\n"))
	if events != nil || first != nil {
		t.Fatalf("expected [DONE] dropped, got %q %q", events, first)
	}
	if !r.Done() {
		t.Fatal("expected Done")
	}
}

func TestReframerFlushTail(t *testing.T) {
	r := &Reframer{}
	r.Feed([]byte("data: 1\n\ndata: tail"))
	if got := r.Flush(); string(got) != "tail" {
		t.Fatalf("Flush = %q", got)
	}
	if got := r.Flush(); got != nil {
		t.Fatalf("second Flush = %q", got)
	}
}

func TestReframerPayloadsAreNotAliased(t *testing.T) {
	r := &Reframer{}
	chunk := []byte("data: abc\n\n")
	events, _ := r.Feed(chunk)
	copy(chunk, bytes.Repeat([]byte{'z'}, len(chunk)))
	if string(events[0]) != "abc" {
		t.Fatalf("payload changed with source buffer: %q", events[0])
	}
}

func captureStream(n int) []byte {
	var b strings.Builder
	for i := 0; i < n; i++ {
		switch i % 4 {
		case 0:
			fmt.Fprintf(&b, "data: {\"id\":%d,\"choices\":[{\"delta\":{\"content\":\"tok\\n%d\"}}]}\n\n", i, i)
		case 1:
			fmt.Fprintf(&b, "event: delta\ndata: {\"id\":%d}\n\n", i)
		case 2:
			b.WriteString(": comment\n\n")
		default:
			fmt.Fprintf(&b, "id: %d\ndata: line-%d\ndata: cont\n\n\n", i, i)
		}
	}
	b.WriteString("data: [DONE]\n\n")
	return []byte(b.String())
}

func randomChunks(rng *rand.Rand, stream []byte, maxLen int) [][]byte {
	var chunks [][]byte
	for len(stream) > 0 {
		n := 1 + rng.Intn(maxLen)
		if n > len(stream) {
			n = len(stream)
		}
		c := make([]byte, n)
		copy(c, stream[:n])
		chunks = append(chunks, c)
		stream = stream[n:]
	}
	return chunks
}

func TestReframerRechunkingIsLossless(t *testing.T) {
	stream := captureStream(60)
	want := feedAll(&Reframer{}, [][]byte{stream})
	if len(want) == 0 {
		t.Fatal("expected payloads from whole stream")
	}
	for _, p := range want {
		if p == "[DONE]" {
			t.Fatal("[DONE] must not be emitted")
		}
	}

	t.Run("single bytes", func(t *testing.T) {
		var chunks [][]byte
		for i := range stream {
			chunks = append(chunks, stream[i:i+1])
		}
		assertSame(t, want, feedAll(&Reframer{}, chunks))
	})

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		maxLen := 1 + rng.Intn(64)
		chunks := randomChunks(rng, stream, maxLen)
		got := feedAll(&Reframer{}, chunks)
		if !equal(want, got) {
			t.Fatalf("run %d (max chunk %d): payloads differ\nwant %q\ngot  %q", i, maxLen, want, got)
		}
	}
}

func TestReframerNoDuplicates(t *testing.T) {
	stream := captureStream(40)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		got := feedAll(&Reframer{}, randomChunks(rng, stream, 16))
		seen := make(map[string]bool)
		for _, p := range got {
			// every generated event carries its own index
			if seen[p] {
				t.Fatalf("payload %q returned twice", p)
			}
			seen[p] = true
		}
	}
}

func assertSame(t *testing.T, want, got []string) {
	t.Helper()
	if !equal(want, got) {
		t.Fatalf("payloads differ\nwant %q\ngot  %q", want, got)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
