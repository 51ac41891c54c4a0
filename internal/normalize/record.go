package normalize

import (
	"encoding/json"
	"math"
	"strings"
)

// Record is one loosely typed vendor observation as decoded from JSON.
type Record map[string]any

// path addresses a value inside a Record, e.g. {"metric", "pressureMean"}.
type path []string

// chain is an ordered list of paths; the first one holding a usable value wins.
type chain []path

func p(keys ...string) path {
	return path(keys)
}

func (r Record) lookup(at path) (any, bool) {
	if len(at) == 0 {
		return nil, false
	}
	var cur any = map[string]any(r)
	for _, key := range at {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Record:
		return m, true
	}
	return nil, false
}

// number returns the finite numeric value at the path.
func (r Record) number(at path) (float64, bool) {
	v, ok := r.lookup(at)
	if !ok {
		return 0, false
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// text returns the non-blank string at the path.
func (r Record) text(at path) (string, bool) {
	v, ok := r.lookup(at)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// resolve walks the chain and returns the first present number, or nil.
func (c chain) resolve(r Record) *float64 {
	for _, at := range c {
		if f, ok := r.number(at); ok {
			return &f
		}
	}
	return nil
}

func (c chain) resolveText(r Record) (string, bool) {
	for _, at := range c {
		if s, ok := r.text(at); ok {
			return s, true
		}
	}
	return "", false
}
