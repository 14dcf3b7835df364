// Package jsonpath implements the minimal JSON-path expression language
// used by the Secret Fetcher's `|JP:<path>` suffix: dot/bracket segment
// parsing over map[string]any / []any, plus a list-collapsing rule — a
// path that does not end in `[*]` collapses a single-element match list
// down to the bare element.
package jsonpath

import (
	"fmt"
	"strconv"
	"strings"
)

// Path is a compiled JSON-path expression.
type Path struct {
	steps    []step
	wildcard bool // expression ends in "[*]": never collapse
	root     bool // expression is exactly "$": identity
}

type step struct {
	key       string
	index     *int
	wildcard  bool // this step is "[*]", meaning "every element"
}

// Compile parses a JSON-path expression of the form:
//
//	$.a.b.c
//	a.b.c
//	a[0].b
//	a.b[*]
//	$
//
// A leading "$" and/or "." are optional and stripped before parsing.
func Compile(expr string) (*Path, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("jsonpath: expression is empty")
	}

	if expr == "$" {
		return &Path{root: true}, nil
	}

	trailingWildcard := strings.HasSuffix(expr, "[*]")

	trimmed := strings.TrimPrefix(expr, "$")
	trimmed = strings.TrimPrefix(trimmed, ".")

	var steps []step
	for len(trimmed) > 0 {
		seg := trimmed
		if dot := strings.IndexByte(trimmed, '.'); dot >= 0 {
			seg = trimmed[:dot]
			trimmed = trimmed[dot+1:]
		} else {
			trimmed = ""
		}
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		parsed, err := parseSegment(seg)
		if err != nil {
			return nil, fmt.Errorf("jsonpath: %q: %w", expr, err)
		}
		steps = append(steps, parsed...)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("jsonpath: %q has no path steps", expr)
	}
	return &Path{steps: steps, wildcard: trailingWildcard}, nil
}

// parseSegment parses one dot-separated segment, which may itself carry
// one or more bracketed accessors, e.g. "a[0]" or "a[*]".
func parseSegment(seg string) ([]step, error) {
	open := strings.IndexByte(seg, '[')
	if open == -1 {
		return []step{{key: seg}}, nil
	}

	key := strings.TrimSpace(seg[:open])
	steps := []step{}
	if key != "" {
		steps = append(steps, step{key: key})
	}

	rest := seg[open:]
	for len(rest) > 0 {
		if !strings.HasPrefix(rest, "[") {
			return nil, fmt.Errorf("invalid segment %q", seg)
		}
		close := strings.IndexByte(rest, ']')
		if close == -1 {
			return nil, fmt.Errorf("unterminated '[' in segment %q", seg)
		}
		inner := strings.TrimSpace(rest[1:close])
		rest = rest[close+1:]

		if inner == "*" {
			steps = append(steps, step{wildcard: true})
			continue
		}
		idx, err := strconv.Atoi(inner)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q in segment %q", inner, seg)
		}
		if idx < 0 {
			return nil, fmt.Errorf("index must be >= 0 in segment %q", seg)
		}
		steps = append(steps, step{index: &idx})
	}
	return steps, nil
}

// Extract applies the compiled path to v and returns the matches per the
// list-collapsing rule: if the expression does not end with "[*]" and
// exactly one value matched, that single value is returned (collapsed)
// rather than a one-element list.
func (p *Path) Extract(v any) (any, error) {
	if p.root {
		return v, nil
	}

	matches, err := eval(v, p.steps)
	if err != nil {
		return nil, err
	}

	if !p.wildcard && len(matches) == 1 {
		return matches[0], nil
	}
	return matches, nil
}

func eval(v any, steps []step) ([]any, error) {
	cur := []any{v}
	for _, s := range steps {
		var next []any
		for _, c := range cur {
			switch {
			case s.wildcard:
				arr, ok := c.([]any)
				if !ok {
					continue
				}
				next = append(next, arr...)
			case s.index != nil:
				arr, ok := c.([]any)
				if !ok || *s.index >= len(arr) {
					continue
				}
				next = append(next, arr[*s.index])
			default:
				m, ok := c.(map[string]any)
				if !ok {
					continue
				}
				val, ok := m[s.key]
				if !ok {
					continue
				}
				next = append(next, val)
			}
		}
		cur = next
		if len(cur) == 0 {
			break
		}
	}
	return cur, nil
}
