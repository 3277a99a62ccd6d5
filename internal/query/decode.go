package query

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// FromJSON decodes a JSON document into a Query. Objects with a single
// operator key are matchers:
//
//	{"$not": m}          Not(m)
//	{"$regex": "pat"}    regexp.MustCompile(pat)
//	{"$defined": bool}   IsDefined / IsUndefined
//
// Any other object is a nested query, arrays are "one of" and null
// matches an undefined attribute.
func FromJSON(data []byte) (Query, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromObject(raw)
}

func fromObject(raw map[string]any) (Query, error) {
	q := make(Query, len(raw))
	for k, v := range raw {
		m, err := fromValue(v)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrMalformed, k, err)
		}
		q[k] = m
	}
	return q, nil
}

func fromValue(v any) (any, error) {
	switch vv := v.(type) {
	case []any:
		out := make([]any, 0, len(vv))
		for _, e := range vv {
			m, err := fromValue(e)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		return out, nil
	case float64:
		if vv == float64(int(vv)) {
			return int(vv), nil
		}
		return vv, nil
	case map[string]any:
		if len(vv) == 1 {
			for op, arg := range vv {
				switch op {
				case "$not":
					inner, err := fromValue(arg)
					if err != nil {
						return nil, err
					}
					return Not(inner), nil
				case "$regex":
					pat, ok := arg.(string)
					if !ok {
						return nil, fmt.Errorf("$regex wants a string, got %T", arg)
					}
					re, err := regexp.Compile(pat)
					if err != nil {
						return nil, err
					}
					return re, nil
				case "$defined":
					b, ok := arg.(bool)
					if !ok {
						return nil, fmt.Errorf("$defined wants a bool, got %T", arg)
					}
					if b {
						return IsDefined, nil
					}
					return IsUndefined, nil
				}
			}
		}
		return fromObject(vv)
	}
	return v, nil
}

// FromValues builds a Query from URL query parameters. Dotted keys
// ("to.type") produce nested queries. Value prefixes select the matcher:
// "~pat" is a regexp, "!v" negates, "*" means defined and "-" undefined.
// Repeated keys become "one of".
func FromValues(values url.Values) (Query, error) {
	q := Query{}
	for key, vals := range values {
		var m any
		if len(vals) == 1 {
			v, err := valueMatcher(vals[0])
			if err != nil {
				return nil, fmt.Errorf("%w: key %q: %v", ErrMalformed, key, err)
			}
			m = v
		} else {
			anyOf := make([]any, 0, len(vals))
			for _, raw := range vals {
				v, err := valueMatcher(raw)
				if err != nil {
					return nil, fmt.Errorf("%w: key %q: %v", ErrMalformed, key, err)
				}
				anyOf = append(anyOf, v)
			}
			m = anyOf
		}
		setPath(q, strings.Split(key, "."), m)
	}
	return q, nil
}

func valueMatcher(raw string) (any, error) {
	switch {
	case raw == "*":
		return IsDefined, nil
	case raw == "-":
		return IsUndefined, nil
	case strings.HasPrefix(raw, "~"):
		return regexp.Compile(raw[1:])
	case strings.HasPrefix(raw, "!"):
		inner, err := valueMatcher(raw[1:])
		if err != nil {
			return nil, err
		}
		return Not(inner), nil
	case raw == "true":
		return true, nil
	case raw == "false":
		return false, nil
	}
	return raw, nil
}

func setPath(q Query, path []string, m any) {
	if len(path) == 1 {
		q[path[0]] = m
		return
	}
	sub, ok := q[path[0]].(Query)
	if !ok {
		sub = Query{}
		q[path[0]] = sub
	}
	setPath(sub, path[1:], m)
}
