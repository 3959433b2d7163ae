package orion

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"orion-bridge/pkg/ontology"
)

// Attributes is the plain name to value view of an entity.
type Attributes map[string]interface{}

// aboutKey is never sent to the broker.
const aboutKey = "_about"

const (
	isoLayout        = "2006-01-02T15:04:05"
	isoMicroLayout   = "2006-01-02T15:04:05.000000"
	nestedTimeLayout = "2006-01-02T15:04:05Z"
)

var timeType = reflect.TypeOf(time.Time{})

// EncodeAttributes converts a plain mapping into the broker's attribute list,
// ordered by attribute name.
func EncodeAttributes(attrs map[string]interface{}) ([]ontology.Attribute, error) {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		if name == aboutKey {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ontology.Attribute, 0, len(names))
	for _, name := range names {
		attr, err := EncodeAttribute(name, attrs[name])
		if err != nil {
			return nil, err
		}
		out = append(out, attr)
	}
	return out, nil
}

// EncodeAttribute infers the wire type of a single value.
func EncodeAttribute(name string, val interface{}) (ontology.Attribute, error) {
	attr := ontology.Attribute{Name: name, Value: val}

	switch v := val.(type) {
	case nil:
		return attr, fmt.Errorf("%w: %s is nil", ErrUnsupportedValue, name)
	case time.Time:
		attr.Type = ontology.AttrTypeDatetime
		attr.Value = isoformat(v)
		return attr, nil
	case *time.Time:
		if v == nil {
			return attr, fmt.Errorf("%w: %s is nil", ErrUnsupportedValue, name)
		}
		attr.Type = ontology.AttrTypeDatetime
		attr.Value = isoformat(*v)
		return attr, nil
	case json.Number:
		if _, err := v.Int64(); err == nil {
			attr.Type = ontology.AttrTypeInteger
		} else if _, err := v.Float64(); err == nil {
			attr.Type = ontology.AttrTypeFloat
		} else {
			return attr, fmt.Errorf("%w: %s=%q", ErrUnsupportedValue, name, v.String())
		}
		return attr, nil
	}

	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Bool:
		attr.Type = ontology.AttrTypeBoolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		attr.Type = ontology.AttrTypeInteger
	case reflect.Float32, reflect.Float64:
		attr.Type = ontology.AttrTypeFloat
	case reflect.String:
		attr.Type = ontology.AttrTypeString
		attr.Value = rv.String()
	case reflect.Slice, reflect.Array, reflect.Map:
		attr.Type = ontology.AttrTypeGeneric
		attr.Value = normalizeNested(rv)
	default:
		return attr, fmt.Errorf("%w: don't know how to encode %s of kind %T", ErrUnsupportedValue, name, val)
	}
	return attr, nil
}

// isoformat renders t with microseconds only when present and a numeric offset.
func isoformat(t time.Time) string {
	layout := isoLayout
	if t.Nanosecond()/int(time.Microsecond) != 0 {
		layout = isoMicroLayout
	}
	return t.Format(layout + "-07:00")
}

// normalizeNested rewrites times nested inside generic values to the compact
// UTC form the broker stores.
func normalizeNested(rv reflect.Value) interface{} {
	if !rv.IsValid() {
		return nil
	}
	if rv.Type() == timeType {
		return rv.Interface().(time.Time).UTC().Format(nestedTimeLayout)
	}

	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return normalizeNested(rv.Elem())
	case reflect.Slice:
		if rv.IsNil() {
			return []interface{}{}
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Interface()
		}
		fallthrough
	case reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = normalizeNested(rv.Index(i))
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return rv.Interface()
		}
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalizeNested(iter.Value())
		}
		return out
	default:
		return rv.Interface()
	}
}

// DecodeAttributes flattens a single entity response, unwrapping an optional
// contextElement level.
func DecodeAttributes(body []byte) (Attributes, error) {
	var doc struct {
		ContextElement *ontology.ContextElement `json:"contextElement"`
		Attributes     []ontology.Attribute     `json:"attributes"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode entity: %w", err)
	}

	attrs := doc.Attributes
	if doc.ContextElement != nil {
		attrs = doc.ContextElement.Attributes
	}
	return flatten(attrs), nil
}

// DecodeContextResponses returns one mapping per entity id in a
// contextResponses envelope. Responses without a contextElement are skipped.
func DecodeContextResponses(body []byte) (map[string]Attributes, error) {
	var doc ontology.QueryContextResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode context responses: %w", err)
	}

	out := make(map[string]Attributes, len(doc.ContextResponses))
	for _, cr := range doc.ContextResponses {
		if cr.ContextElement == nil {
			continue
		}
		out[cr.ContextElement.ID] = flatten(cr.ContextElement.Attributes)
	}
	return out, nil
}

func flatten(attrs []ontology.Attribute) Attributes {
	out := make(Attributes, len(attrs))
	for _, a := range attrs {
		out[a.Name] = a.Value
	}
	return out
}
