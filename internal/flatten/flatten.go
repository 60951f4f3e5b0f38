// Package flatten converts nested JSON payloads into flat key/value records.
//
// Composite keys are built by joining object field names and 0-based array
// indices with Separator, walking from the payload root to each scalar leaf.
// The key-naming rule here is the single contract shared with the mapping
// registry: a configured path expression is exactly one composite key.
package flatten

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Separator joins path segments in composite keys.
const Separator = "_"

// rootKey names the single entry produced when the payload root is a scalar.
const rootKey = "root"

// DefaultMaxDepth bounds traversal when Options.MaxDepth is zero.
const DefaultMaxDepth = 64

// ErrPayloadTooDeep is returned when a payload nests beyond the configured
// maximum depth.
var ErrPayloadTooDeep = errors.New("flatten: payload exceeds maximum depth")

// Record maps composite keys to scalar leaf values. A nil value means the
// leaf was present in the payload as JSON null.
type Record map[string]any

// Options controls flattening behavior.
type Options struct {
	// MaxDepth is the maximum nesting depth before flattening aborts with
	// ErrPayloadTooDeep. Zero means DefaultMaxDepth.
	MaxDepth int
}

// Flatten walks an unmarshalled JSON value and returns its flat record.
// Every scalar leaf yields exactly one key; array indices keep sibling
// leaves distinct.
func Flatten(v any, opts Options) (Record, error) {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	rec := make(Record)
	if err := walk(v, "", 0, maxDepth, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func walk(v any, prefix string, depth, maxDepth int, rec Record) error {
	if depth > maxDepth {
		return ErrPayloadTooDeep
	}
	switch x := v.(type) {
	case map[string]any:
		for name, child := range x {
			if err := walk(child, join(prefix, name), depth+1, maxDepth, rec); err != nil {
				return err
			}
		}
	case []any:
		for i, child := range x {
			if err := walk(child, join(prefix, strconv.Itoa(i)), depth+1, maxDepth, rec); err != nil {
				return err
			}
		}
	default:
		key := prefix
		if key == "" {
			key = rootKey
		}
		rec[key] = x
	}
	return nil
}

// Resolve looks up one composite key. Absence is a valid outcome, not an
// error; a present-but-null leaf resolves to (nil, true).
func Resolve(rec Record, path string) (any, bool) {
	v, ok := rec[path]
	return v, ok
}

// ResolveAll resolves an ordered list of paths, skipping absent entries and
// preserving path order among those that resolved.
func ResolveAll(rec Record, paths []string) []any {
	var vals []any
	for _, p := range paths {
		if v, ok := rec[p]; ok {
			vals = append(vals, v)
		}
	}
	return vals
}

// Unflatten rebuilds a nested structure from a flat record, the inverse of
// Flatten for records whose segments contain no Separator. All-digit segments
// become array indices; everything else becomes an object field.
func Unflatten(rec Record) any {
	if len(rec) == 0 {
		return map[string]any{}
	}
	if v, ok := rec[rootKey]; ok && len(rec) == 1 {
		return v
	}

	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	root := newContainer(strings.Split(keys[0], Separator)[0])
	for _, key := range keys {
		root = insert(root, strings.Split(key, Separator), rec[key])
	}
	return root
}

// insert places value at the segment path inside container, growing arrays
// and creating intermediate containers as needed.
func insert(container any, segs []string, value any) any {
	head := segs[0]
	if idx, isIndex := arrayIndex(head); isIndex {
		arr, ok := container.([]any)
		if !ok {
			arr = []any{}
		}
		for len(arr) <= idx {
			arr = append(arr, nil)
		}
		if len(segs) == 1 {
			arr[idx] = value
		} else {
			child := arr[idx]
			if child == nil {
				child = newContainer(segs[1])
			}
			arr[idx] = insert(child, segs[1:], value)
		}
		return arr
	}

	obj, ok := container.(map[string]any)
	if !ok {
		obj = map[string]any{}
	}
	if len(segs) == 1 {
		obj[head] = value
	} else {
		child := obj[head]
		if child == nil {
			child = newContainer(segs[1])
		}
		obj[head] = insert(child, segs[1:], value)
	}
	return obj
}

func newContainer(nextSeg string) any {
	if _, isIndex := arrayIndex(nextSeg); isIndex {
		return []any{}
	}
	return map[string]any{}
}

func arrayIndex(seg string) (int, bool) {
	if seg == "" {
		return 0, false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	return n, true
}

func join(prefix, seg string) string {
	if prefix == "" {
		return seg
	}
	return prefix + Separator + seg
}
