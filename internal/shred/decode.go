// Package shred implements the recursive object-shredding algorithm: it
// walks one parsed JSON document, rewrites it in place, and emits
// (table, row) tuples to a Sink.
package shred

import (
	"encoding/json"
	"io"

	omap "github.com/wk8/go-ordered-map/v2"
)

// Object is a JSON object decoded with its key order preserved.
// encoding/json's interface{} unmarshal always yields an unordered
// map[string]interface{}, which would make field-accretion order
// nondeterministic across otherwise-identical runs; decoding object members
// into an ordered map keeps the original document order stable.
type Object = *omap.OrderedMap[string, any]

// DecodeValue reads one JSON value from dec, token by token, producing
// Object for objects (order-preserving), []any for arrays, json.Number for
// numbers (dec must have UseNumber enabled by the caller), and native
// string/bool/nil for the remaining scalars.
func DecodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeFromToken(dec, tok)
}

func decodeFromToken(dec *json.Decoder, tok json.Token) (any, error) {
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		obj := omap.New[string, any]()
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, _ := keyTok.(string)
			val, err := DecodeValue(dec)
			if err != nil {
				return nil, err
			}
			obj.Set(key, val)
		}
		if _, err := dec.Token(); err != nil && err != io.EOF {
			return nil, err
		}
		return obj, nil
	case '[':
		var arr []any
		for dec.More() {
			val, err := DecodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil && err != io.EOF {
			return nil, err
		}
		return arr, nil
	default:
		return tok, nil
	}
}

// NewDecoder returns a json.Decoder configured the way every decode path in
// this package expects: numbers preserved as json.Number so the shredder's
// mixed-array stringification round-trips exact source text.
func NewDecoder(r io.Reader) *json.Decoder {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec
}
