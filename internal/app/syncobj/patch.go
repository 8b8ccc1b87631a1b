package syncobj

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Operation is one step of a structural patch, in the shape of an RFC 6902
// operation (add/replace/remove at a JSON pointer path).
type Operation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

const (
	OpAdd     = "add"
	OpReplace = "replace"
	OpRemove  = "remove"
)

// Normalize converts an arbitrary value into its JSON data model
// (map[string]any, []any, float64, string, bool, nil) so snapshots can be
// compared structurally regardless of the Go types that produced them.
func Normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Diff computes the ordered operations that transform old into new. Both
// inputs must be normalized values. Diff is a pure function; identical
// inputs yield a nil slice.
func Diff(oldVal, newVal any) []Operation {
	var ops []Operation
	diffValue("", oldVal, newVal, &ops)
	return ops
}

func diffValue(path string, oldVal, newVal any, ops *[]Operation) {
	if reflect.DeepEqual(oldVal, newVal) {
		return
	}

	oldMap, oldIsMap := oldVal.(map[string]any)
	newMap, newIsMap := newVal.(map[string]any)
	if oldIsMap && newIsMap {
		diffObject(path, oldMap, newMap, ops)
		return
	}

	oldArr, oldIsArr := oldVal.([]any)
	newArr, newIsArr := newVal.([]any)
	if oldIsArr && newIsArr {
		diffArray(path, oldArr, newArr, ops)
		return
	}

	*ops = append(*ops, Operation{Op: OpReplace, Path: path, Value: newVal})
}

func diffObject(path string, oldMap, newMap map[string]any, ops *[]Operation) {
	keys := sortedKeys(oldMap, newMap)
	for _, k := range keys {
		childPath := path + "/" + escapePointer(k)
		oldChild, inOld := oldMap[k]
		newChild, inNew := newMap[k]
		switch {
		case inOld && !inNew:
			*ops = append(*ops, Operation{Op: OpRemove, Path: childPath})
		case !inOld && inNew:
			*ops = append(*ops, Operation{Op: OpAdd, Path: childPath, Value: newChild})
		default:
			diffValue(childPath, oldChild, newChild, ops)
		}
	}
}

func diffArray(path string, oldArr, newArr []any, ops *[]Operation) {
	common := len(oldArr)
	if len(newArr) < common {
		common = len(newArr)
	}
	for i := 0; i < common; i++ {
		diffValue(fmt.Sprintf("%s/%d", path, i), oldArr[i], newArr[i], ops)
	}
	for i := common; i < len(newArr); i++ {
		*ops = append(*ops, Operation{Op: OpAdd, Path: fmt.Sprintf("%s/%d", path, i), Value: newArr[i]})
	}
	// Remove back to front so earlier indices stay valid while applying.
	for i := len(oldArr) - 1; i >= len(newArr); i-- {
		*ops = append(*ops, Operation{Op: OpRemove, Path: fmt.Sprintf("%s/%d", path, i)})
	}
}

func sortedKeys(maps ...map[string]any) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, m := range maps {
		for k := range m {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	// Insertion sort keeps the ordering deterministic without pulling sort
	// into the hot path for tiny maps.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// escapePointer applies the JSON pointer escaping rules of RFC 6901.
func escapePointer(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}
