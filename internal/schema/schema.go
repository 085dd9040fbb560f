// Package schema holds the output shapes the LLM stage is asked to produce,
// one per dataset, and turns raw completions into the value that is scored.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/docbench/constants"
)

var (
	//go:embed cord.json
	cordDoc []byte
	//go:embed funsd.json
	funsdDoc []byte
	//go:embed generic.json
	genericDoc []byte
)

// ErrMismatch marks a completion that cannot be coerced into the schema.
var ErrMismatch = errors.New("response does not match schema")

// Descriptor is a compiled output schema. Coerce mirrors what a typed model
// layer would do with a completion: fields come back in declaration order,
// nulls and undeclared fields are dropped, and a single-field wrapper around
// an object is unwrapped to that object.
type Descriptor struct {
	name     string
	dataset  constants.Dataset
	doc      []byte
	compiled *jsonschema.Schema
	prepare  func([]byte) ([]byte, error)
}

// For returns the descriptor for a dataset; unknown names get the generic
// flat-object schema.
func For(dataset string) (*Descriptor, error) {
	ds, _ := constants.CanonicalDataset(dataset)
	switch ds {
	case constants.DatasetCORD:
		return newDescriptor("cord", ds, cordDoc, collapseSingleMenu)
	case constants.DatasetFUNSD:
		return newDescriptor("funsd", ds, funsdDoc, nil)
	default:
		return newDescriptor("generic", constants.DatasetGeneric, genericDoc, nil)
	}
}

func newDescriptor(name string, ds constants.Dataset, doc []byte, prepare func([]byte) ([]byte, error)) (*Descriptor, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".json", bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	compiled, err := compiler.Compile(name + ".json")
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Descriptor{
		name:     name,
		dataset:  ds,
		doc:      doc,
		compiled: compiled,
		prepare:  prepare,
	}, nil
}

func (d *Descriptor) Name() string               { return d.name }
func (d *Descriptor) Dataset() constants.Dataset { return d.dataset }

// JSONSchema is the schema document sent to the provider.
func (d *Descriptor) JSONSchema() json.RawMessage { return json.RawMessage(d.doc) }

// Validate checks a document against the schema.
func (d *Descriptor) Validate(doc []byte) error {
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrMismatch, err)
	}
	if err := d.compiled.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMismatch, err)
	}
	return nil
}

// Coerce turns a raw completion into the scored value.
func (d *Descriptor) Coerce(raw []byte) (json.RawMessage, error) {
	value, vt, _, err := jsonparser.Get(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMismatch, err)
	}
	if vt != jsonparser.Object {
		return nil, fmt.Errorf("%w: top level is %s, want object", ErrMismatch, vt)
	}
	if d.prepare != nil {
		if value, err = d.prepare(value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMismatch, err)
		}
	}
	out, keep, err := d.project(value, vt, d.doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMismatch, err)
	}
	if !keep {
		out = []byte("{}")
	}
	if err := d.Validate(out); err != nil {
		return nil, err
	}
	// Any object left with one field after nulls are dropped is a wrapper,
	// whatever the schema declares. Scalars stay wrapped so they can be scored.
	if inner, ok := Unwrap(out); ok && isObject(inner) {
		return inner, nil
	}
	return out, nil
}

func isObject(doc []byte) bool {
	_, vt, _, err := jsonparser.Get(doc)
	return err == nil && vt == jsonparser.Object
}

// Unwrap returns the value of an object's only field.
func Unwrap(doc []byte) (json.RawMessage, bool) {
	value, vt, _, err := jsonparser.Get(doc)
	if err != nil || vt != jsonparser.Object {
		return nil, false
	}
	var inner []byte
	n := 0
	_ = jsonparser.ObjectEach(value, func(_, v []byte, t jsonparser.ValueType, _ int) error {
		n++
		inner = literal(v, t)
		return nil
	})
	if n != 1 {
		return nil, false
	}
	return json.RawMessage(inner), true
}

// project re-emits value following node: declared properties in declaration
// order, nulls and undeclared fields dropped. Nodes without properties or
// items pass the value through untouched. keep is false for a null.
func (d *Descriptor) project(value []byte, vt jsonparser.ValueType, node []byte) ([]byte, bool, error) {
	if vt == jsonparser.Null {
		return nil, false, nil
	}
	node = d.resolve(node)
	if alt, ok := d.pickAlternative(node, vt); ok {
		node = alt
	}

	switch vt {
	case jsonparser.Object:
		props, pt, _, err := jsonparser.Get(node, "properties")
		if err != nil || pt != jsonparser.Object {
			return literal(value, vt), true, nil
		}
		var buf bytes.Buffer
		buf.WriteByte('{')
		first := true
		err = jsonparser.ObjectEach(props, func(rawName, sub []byte, _ jsonparser.ValueType, _ int) error {
			name, err := jsonparser.ParseString(rawName)
			if err != nil {
				return err
			}
			v, t, _, err := jsonparser.Get(value, name)
			if errors.Is(err, jsonparser.KeyPathNotFoundError) {
				return nil
			}
			if err != nil {
				return err
			}
			out, keep, err := d.project(v, t, sub)
			if err != nil || !keep {
				return err
			}
			if !first {
				buf.WriteByte(',')
			}
			first = false
			key, _ := json.Marshal(name)
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(out)
			return nil
		})
		if err != nil {
			return nil, false, err
		}
		buf.WriteByte('}')
		return buf.Bytes(), true, nil

	case jsonparser.Array:
		items, it, _, err := jsonparser.Get(node, "items")
		if err != nil || it != jsonparser.Object {
			return literal(value, vt), true, nil
		}
		var buf bytes.Buffer
		buf.WriteByte('[')
		i := 0
		var itemErr error
		_, err = jsonparser.ArrayEach(value, func(v []byte, t jsonparser.ValueType, _ int, err error) {
			if itemErr != nil {
				return
			}
			if err != nil {
				itemErr = err
				return
			}
			out, keep, err := d.project(v, t, items)
			if err != nil {
				itemErr = err
				return
			}
			if !keep {
				out = []byte("null")
			}
			if i > 0 {
				buf.WriteByte(',')
			}
			i++
			buf.Write(out)
		})
		if err != nil {
			return nil, false, err
		}
		if itemErr != nil {
			return nil, false, itemErr
		}
		buf.WriteByte(']')
		return buf.Bytes(), true, nil

	default:
		return literal(value, vt), true, nil
	}
}

// resolve follows a local "#/$defs/<name>" reference.
func (d *Descriptor) resolve(node []byte) []byte {
	ref, err := jsonparser.GetString(node, "$ref")
	if err != nil || !strings.HasPrefix(ref, "#/$defs/") {
		return node
	}
	def, _, _, err := jsonparser.Get(d.doc, "$defs", strings.TrimPrefix(ref, "#/$defs/"))
	if err != nil {
		return node
	}
	return def
}

// pickAlternative selects the anyOf branch whose declared type fits vt.
func (d *Descriptor) pickAlternative(node []byte, vt jsonparser.ValueType) ([]byte, bool) {
	alts, at, _, err := jsonparser.Get(node, "anyOf")
	if err != nil || at != jsonparser.Array {
		return nil, false
	}
	var picked []byte
	_, _ = jsonparser.ArrayEach(alts, func(alt []byte, _ jsonparser.ValueType, _ int, _ error) {
		if picked != nil {
			return
		}
		alt = d.resolve(alt)
		if typ, _ := jsonparser.GetString(alt, "type"); typ == vt.String() {
			picked = alt
		}
	})
	return picked, picked != nil
}

// collapseSingleMenu turns a one-element menu list into the element itself,
// which is how single-item receipts are annotated.
func collapseSingleMenu(doc []byte) ([]byte, error) {
	menu, mt, _, err := jsonparser.Get(doc, "menu")
	if err != nil || mt != jsonparser.Array {
		return doc, nil
	}
	var items [][]byte
	_, err = jsonparser.ArrayEach(menu, func(v []byte, t jsonparser.ValueType, _ int, _ error) {
		items = append(items, literal(v, t))
	})
	if err != nil {
		return nil, err
	}
	if len(items) != 1 {
		return doc, nil
	}
	return jsonparser.Set(doc, items[0], "menu")
}

// literal restores the JSON text of a value returned by jsonparser, which
// strips the quotes from strings.
func literal(v []byte, t jsonparser.ValueType) []byte {
	if t != jsonparser.String {
		return v
	}
	out := make([]byte, 0, len(v)+2)
	out = append(out, '"')
	out = append(out, v...)
	return append(out, '"')
}
