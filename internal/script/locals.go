package script

import (
	"fmt"
	"reflect"
	"sort"
)

// cyclePlaceholder is the token the renderer side interprets as "this
// reference closed a cycle".
const cyclePlaceholder = "<cycle>"

// StringifyLocal renders an arbitrary captured local value as the
// printable string the wire protocol carries, truncating reference
// cycles via an object-identity set rather than recursing forever.
func StringifyLocal(v any) string {
	return stringifyValue(reflect.ValueOf(v), make(map[uintptr]bool))
}

func stringifyValue(v reflect.Value, seen map[uintptr]bool) string {
	if !v.IsValid() {
		return "<nil>"
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice:
		if v.IsNil() {
			return "<nil>"
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return cyclePlaceholder
		}
		seen[ptr] = true
		defer delete(seen, ptr)
	}

	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return "<nil>"
		}
		return stringifyValue(v.Elem(), seen)
	case reflect.Slice, reflect.Array:
		n := v.Len()
		parts := make([]string, 0, n)
		for i := 0; i < n; i++ {
			parts = append(parts, stringifyValue(v.Index(i), seen))
		}
		return fmt.Sprintf("%v", parts)
	case reflect.Map:
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		out := "map["
		for i, k := range keys {
			if i > 0 {
				out += " "
			}
			out += fmt.Sprint(k.Interface()) + ":" + stringifyValue(v.MapIndex(k), seen)
		}
		return out + "]"
	case reflect.Struct:
		out := v.Type().Name() + "{"
		for i := 0; i < v.NumField(); i++ {
			if i > 0 {
				out += " "
			}
			f := v.Type().Field(i)
			out += f.Name + ":" + stringifyValue(v.Field(i), seen)
		}
		return out + "}"
	default:
		if v.CanInterface() {
			return fmt.Sprintf("%v", v.Interface())
		}
		return "<unexported>"
	}
}
