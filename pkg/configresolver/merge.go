package configresolver

import "fmt"

// merge combines overlay onto base per the chosen strategy. Later
// locations take precedence over earlier ones at the leaf level, so
// overlay always wins conflicts; base is never mutated in place since
// callers pass the accumulator back as the new base.
func merge(base, overlay map[string]any, strategy MergeStrategy) (map[string]any, error) {
	switch strategy {
	case MergeShallow, "":
		return mergeShallow(base, overlay), nil
	case MergeDeep:
		return mergeDeep(base, overlay, false, false)
	case MergeReplace:
		return mergeDeep(base, overlay, true, false)
	case MergeAdditive:
		return mergeDeep(base, overlay, false, false)
	case MergeTypesafeReplace:
		return mergeDeep(base, overlay, true, true)
	case MergeTypesafeAdditive:
		return mergeDeep(base, overlay, false, true)
	default:
		return nil, fmt.Errorf("configresolver: unknown merge strategy %q", strategy)
	}
}

func mergeShallow(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// mergeDeep implements the DEEP/REPLACE/ADDITIVE/TYPESAFE_* strategies:
// recursive map merge; listsReplace selects REPLACE (true) vs ADDITIVE
// (concatenate, false) behavior for colliding list values; typesafe raises
// on a type mismatch at the same key path instead of silently overwriting.
func mergeDeep(base, overlay map[string]any, listsReplace, typesafe bool) (map[string]any, error) {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}

	for k, ov := range overlay {
		bv, exists := out[k]
		if !exists {
			out[k] = ov
			continue
		}

		switch bvt := bv.(type) {
		case map[string]any:
			ovt, ok := ov.(map[string]any)
			if !ok {
				if typesafe {
					return nil, fmt.Errorf("configresolver: type mismatch at key %q: %T vs %T", k, bv, ov)
				}
				out[k] = ov
				continue
			}
			merged, err := mergeDeep(bvt, ovt, listsReplace, typesafe)
			if err != nil {
				return nil, fmt.Errorf("%s.%w", k, err)
			}
			out[k] = merged
		case []any:
			ovt, ok := ov.([]any)
			if !ok {
				if typesafe {
					return nil, fmt.Errorf("configresolver: type mismatch at key %q: %T vs %T", k, bv, ov)
				}
				out[k] = ov
				continue
			}
			if listsReplace {
				out[k] = ovt
			} else {
				combined := make([]any, 0, len(bvt)+len(ovt))
				combined = append(combined, bvt...)
				combined = append(combined, ovt...)
				out[k] = combined
			}
		default:
			if typesafe {
				if fmt.Sprintf("%T", bv) != fmt.Sprintf("%T", ov) {
					return nil, fmt.Errorf("configresolver: type mismatch at key %q: %T vs %T", k, bv, ov)
				}
			}
			out[k] = ov
		}
	}
	return out, nil
}
