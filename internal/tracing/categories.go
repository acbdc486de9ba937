package tracing

import (
	"fmt"
	"reflect"
	"strings"
)

// ScreenshotCategory is appended to the filter when screenshots are requested.
const ScreenshotCategory = "disabled-by-default-devtools.screenshot"

var defaultCategories = [...]string{
	"-*",
	"devtools.timeline",
	"v8.execute",
	"disabled-by-default-devtools.timeline",
	"disabled-by-default-devtools.timeline.frame",
	"toplevel",
	"blink.console",
	"blink.user_timing",
	"latencyInfo",
	"disabled-by-default-devtools.timeline.stack",
	"disabled-by-default-v8.cpu_profiler",
	"disabled-by-default-v8.cpu_profiler.hires",
}

// DefaultCategories returns a fresh copy of the default timeline filter.
func DefaultCategories() []string {
	return append([]string(nil), defaultCategories[:]...)
}

// BuildFilter returns the effective category filter. A nil categories
// slice selects the defaults; any non-nil slice (even empty) is used as
// given. The input is never modified.
func BuildFilter(categories []string, screenshots bool) []string {
	var filter []string
	if categories == nil {
		filter = DefaultCategories()
	} else {
		filter = make([]string, len(categories), len(categories)+1)
		copy(filter, categories)
	}
	if screenshots {
		filter = append(filter, ScreenshotCategory)
	}
	return filter
}

// JoinFilter serializes a filter the way Tracing.start expects it.
func JoinFilter(filter []string) string {
	return strings.Join(filter, ",")
}

// ResolveCategories converts loosely typed input (config files, env vars,
// decoded JSON) into a category list. Strings are split on commas; slices
// and arrays of strings, or of values that are all strings, are copied.
// nil resolves to nil so BuildFilter applies the defaults.
//
// Anything else is an error when strict is set and falls back to the
// defaults otherwise.
func ResolveCategories(raw any, strict bool) ([]string, error) {
	categories, err := toStrings(raw)
	if err == nil {
		return categories, nil
	}
	if strict {
		return nil, err
	}
	return nil, nil
}

func toStrings(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string{}, v...), nil
	case string:
		return splitCategories(v), nil
	}

	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: got %T", ErrInvalidCategories, raw)
	}
	out := make([]string, 0, rv.Len())
	for i := range rv.Len() {
		elem := rv.Index(i)
		if elem.Kind() == reflect.Interface && !elem.IsNil() {
			elem = elem.Elem()
		}
		if elem.Kind() != reflect.String {
			return nil, fmt.Errorf("%w: element %d is %s", ErrInvalidCategories, i, elem.Kind())
		}
		out = append(out, elem.String())
	}
	return out, nil
}

func splitCategories(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
