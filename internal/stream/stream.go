// Package stream implements the streaming bridge: it turns a byte-level
// input reader into a bounded channel of one-document-per-buffer []byte
// values, in ndjson, concatenated-json-stream, or single-key
// nested-selection mode.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"io"

	"github.com/lychee-technology/flattab"
)

// maxLineBytes bounds a single ndjson line / selected element; generous
// enough for the documents this engine targets while still catching a
// runaway unbounded buffer.
const maxLineBytes = 64 * 1024 * 1024

// Produce reads from r according to opts.InputMode (and opts.Path for
// nested-selection) and sends one []byte per document on out, closing out
// when done. It polls flattab.Terminated() between documents and returns
// flattab.ErrCancelledRun if the flag is set.
func Produce(ctx context.Context, r io.Reader, opts *flattab.Options, out chan<- []byte) error {
	defer close(out)

	send := func(b []byte) error {
		if flattab.Terminated() {
			return flattab.ErrCancelledRun
		}
		select {
		case out <- b:
			return nil
		case <-ctx.Done():
			return flattab.ErrCancelledRun
		}
	}

	switch {
	case opts.InputMode == flattab.InputNDJSON:
		return produceNDJSON(r, send)
	case opts.InputMode == flattab.InputJSONStream:
		return produceJSONStream(r, send)
	case len(opts.Path) > 0:
		return producePathSelected(r, opts.Path, send)
	default:
		return produceSingleDocument(r, send)
	}
}

func produceNDJSON(r io.Reader, send func([]byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		buf := make([]byte, len(line))
		copy(buf, line)
		if err := send(buf); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return flattab.ParseErrorf("ndjson", "scanning input: %v", err)
	}
	return nil
}

func produceJSONStream(r io.Reader, send func([]byte) error) error {
	dec := json.NewDecoder(r)
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return flattab.ParseErrorf("json_stream", "decoding document: %v", err)
		}
		if err := send([]byte(raw)); err != nil {
			return err
		}
	}
	return nil
}

func produceSingleDocument(r io.Reader, send func([]byte) error) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return flattab.IOErrorf("input", "reading input: %v", err)
	}
	if len(data) == 0 {
		return nil
	}
	return send(data)
}

// producePathSelected drives a byte-level object walk looking for a single
// top-level key (selector[0]) whose value is an array; every element of
// that array is surfaced as one document. Selection is single-level only:
// a bare identifier, not a JSONPath expression.
func producePathSelected(r io.Reader, selector []string, send func([]byte) error) error {
	if len(selector) == 0 {
		return produceSingleDocument(r, send)
	}
	key := selector[0]

	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return flattab.ParseErrorf("path", "reading root token: %v", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return flattab.ParseErrorf("path", "expected a JSON object at the root for path selection")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return flattab.ParseErrorf("path", "reading key: %v", err)
		}
		k, _ := keyTok.(string)

		if k != key {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return flattab.ParseErrorf("path", "skipping key %q: %v", k, err)
			}
			continue
		}

		if err := decodeSelectedArray(dec, send); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return flattab.ParseErrorf("path", "reading closing brace: %v", err)
	}
	return nil
}

func decodeSelectedArray(dec *json.Decoder, send func([]byte) error) error {
	tok, err := dec.Token()
	if err != nil {
		return flattab.ParseErrorf("path", "reading selected value: %v", err)
	}
	d, ok := tok.(json.Delim)
	if !ok || d != '[' {
		return flattab.ConfigErrorf("path", "%s", fmt.Sprintf("selected key's value is not an array (got %v)", tok))
	}
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return flattab.ParseErrorf("path", "decoding element: %v", err)
		}
		if err := send([]byte(raw)); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return flattab.ParseErrorf("path", "reading closing bracket: %v", err)
	}
	return nil
}
