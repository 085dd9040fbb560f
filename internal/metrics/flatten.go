package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/joseph-ayodele/docbench/constants"
)

// Pair is one flattened key/value entry.
type Pair struct {
	Key   string
	Value string
}

// KV is an ordered flat mapping. Order matters: the greedy matcher walks
// both sides in this order.
type KV []Pair

// Map returns the pairs as a plain map (later keys win).
func (kv KV) Map() map[string]string {
	m := make(map[string]string, len(kv))
	for _, p := range kv {
		m[p.Key] = p.Value
	}
	return m
}

var ErrNotObject = errors.New("document is not a JSON object")

// kvBuilder keeps dict semantics: re-setting a key updates the value in place
// and keeps the first position.
type kvBuilder struct {
	kv  KV
	idx map[string]int
}

func newKVBuilder() *kvBuilder {
	return &kvBuilder{idx: map[string]int{}}
}

func (b *kvBuilder) set(key, value string) {
	if i, ok := b.idx[key]; ok {
		b.kv[i].Value = value
		return
	}
	b.idx[key] = len(b.kv)
	b.kv = append(b.kv, Pair{Key: key, Value: value})
}

// Flatten reduces a raw JSON document to a flat KV using the adapter for
// dataset. Unknown datasets are treated as already flat.
func Flatten(dataset string, doc []byte) (KV, error) {
	ds, _ := constants.CanonicalDataset(dataset)
	switch ds {
	case constants.DatasetCORD:
		return FlattenCORD(doc)
	case constants.DatasetFUNSD:
		return FlattenFUNSD(doc)
	default:
		return FlattenFlat(doc)
	}
}

// FlattenCORD walks nested objects and lists, joining keys (and list
// indexes) with underscores. Nulls are dropped; leaves are stringified.
func FlattenCORD(doc []byte) (KV, error) {
	value, typ, _, err := jsonparser.Get(doc)
	if err != nil {
		return nil, fmt.Errorf("cord: parse: %w", err)
	}
	b := newKVBuilder()
	if err := walkCORD(b, "", value, typ); err != nil {
		return nil, fmt.Errorf("cord: %w", err)
	}
	return b.kv, nil
}

func walkCORD(b *kvBuilder, prefix string, value []byte, typ jsonparser.ValueType) error {
	switch typ {
	case jsonparser.Null:
		return nil
	case jsonparser.Object:
		return jsonparser.ObjectEach(value, func(rawKey, v []byte, t jsonparser.ValueType, _ int) error {
			key, err := jsonparser.ParseString(rawKey)
			if err != nil {
				return err
			}
			next := key
			if prefix != "" {
				next = prefix + "_" + key
			}
			return walkCORD(b, next, v, t)
		})
	case jsonparser.Array:
		var walkErr error
		index := 0
		_, err := jsonparser.ArrayEach(value, func(v []byte, t jsonparser.ValueType, _ int, err error) {
			if walkErr != nil {
				return
			}
			if err != nil {
				walkErr = err
				return
			}
			// a list directly under the root keeps the empty prefix
			next := prefix
			if prefix != "" {
				next = prefix + "_" + strconv.Itoa(index)
			}
			index++
			walkErr = walkCORD(b, next, v, t)
		})
		if err != nil {
			return err
		}
		return walkErr
	default:
		s, err := stringify(value, typ)
		if err != nil {
			return err
		}
		b.set(prefix, s)
		return nil
	}
}

// FlattenFUNSD keeps top-level pairs, except list values under keys that
// contain HEADER or OTHER: each list item becomes a key with an empty value.
func FlattenFUNSD(doc []byte) (KV, error) {
	b := newKVBuilder()
	err := eachTopLevel(doc, func(key string, v []byte, t jsonparser.ValueType) error {
		if t == jsonparser.Array && (strings.Contains(key, "HEADER") || strings.Contains(key, "OTHER")) {
			var itemErr error
			_, err := jsonparser.ArrayEach(v, func(item []byte, it jsonparser.ValueType, _ int, err error) {
				if itemErr != nil {
					return
				}
				if err != nil {
					itemErr = err
					return
				}
				s, err := stringify(item, it)
				if err != nil {
					itemErr = err
					return
				}
				b.set(s, "")
			})
			if err != nil {
				return err
			}
			return itemErr
		}
		if t == jsonparser.Null {
			b.set(key, "")
			return nil
		}
		s, err := stringify(v, t)
		if err != nil {
			return err
		}
		b.set(key, s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("funsd: %w", err)
	}
	return b.kv, nil
}

// FlattenFlat treats the document as an already-flat object and stringifies
// each value.
func FlattenFlat(doc []byte) (KV, error) {
	b := newKVBuilder()
	err := eachTopLevel(doc, func(key string, v []byte, t jsonparser.ValueType) error {
		s, err := stringify(v, t)
		if err != nil {
			return err
		}
		b.set(key, s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("flat: %w", err)
	}
	return b.kv, nil
}

func eachTopLevel(doc []byte, fn func(key string, v []byte, t jsonparser.ValueType) error) error {
	value, typ, _, err := jsonparser.Get(doc)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if typ != jsonparser.Object {
		return ErrNotObject
	}
	return jsonparser.ObjectEach(value, func(rawKey, v []byte, t jsonparser.ValueType, _ int) error {
		key, err := jsonparser.ParseString(rawKey)
		if err != nil {
			return err
		}
		return fn(key, v, t)
	})
}

// stringify renders a JSON leaf the way the annotation tooling prints
// values: integers as-is, floats in shortest repr with a trailing ".0" for
// whole numbers, booleans capitalised.
func stringify(value []byte, typ jsonparser.ValueType) (string, error) {
	switch typ {
	case jsonparser.String:
		return jsonparser.ParseString(value)
	case jsonparser.Number:
		return formatNumber(string(value)), nil
	case jsonparser.Boolean:
		v, err := jsonparser.ParseBoolean(value)
		if err != nil {
			return "", err
		}
		if v {
			return "True", nil
		}
		return "False", nil
	case jsonparser.Null:
		return "None", nil
	default:
		// objects and arrays are compared by their text
		return string(value), nil
	}
}

func formatNumber(raw string) string {
	if !strings.ContainsAny(raw, ".eE") {
		return raw
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	exp := 0
	if e := strconv.FormatFloat(f, 'e', -1, 64); strings.Contains(e, "e") {
		exp, _ = strconv.Atoi(e[strings.LastIndex(e, "e")+1:])
	}
	if f != 0 && (exp < -4 || exp >= 16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
