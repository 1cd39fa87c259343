// Package normalize coerces loosely shaped upstream JSON into the canonical media records.
//
// Values are the generic shapes produced by Decode: map[string]any, []any, string,
// json.Number, bool and nil. Every recursive walk is bounded by MaxScanDepth.
package normalize

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// MaxScanDepth bounds how deep any recursive scan descends into a payload.
const MaxScanDepth = 32

var (
	arrayContainerKeys = []string{
		"data", "results", "result", "items", "list", "series", "chapters", "episodes",
	}
	urlFieldKeys = []string{
		"url", "stream", "stream_url", "video_url", "video", "play_url", "m3u8", "mp4", "source",
	}
)

// Decode parses a JSON document keeping numbers as json.Number.
func Decode(data []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindArray locates the result list inside an unknown envelope. It never fails;
// an empty slice means nothing list-like was found.
func FindArray(payload any) []any {
	return findArray(payload, 0)
}

func findArray(payload any, depth int) []any {
	if depth > MaxScanDepth {
		return nil
	}
	switch value := payload.(type) {
	case []any:
		return value
	case map[string]any:
		for _, key := range arrayContainerKeys {
			switch nested := value[key].(type) {
			case []any:
				return nested
			case map[string]any:
				if found := findArray(nested, depth+1); len(found) > 0 {
					return found
				}
			}
		}
		for _, key := range sortedKeys(value) {
			if list, ok := value[key].([]any); ok {
				return list
			}
		}
	}
	return nil
}

// FindStringURL returns the first absolute URL found in payload, preferring well known
// URL-holding fields before any other nested value.
func FindStringURL(payload any) string {
	return findStringURL(payload, 0)
}

func findStringURL(payload any, depth int) string {
	if depth > MaxScanDepth {
		return ""
	}
	switch value := payload.(type) {
	case string:
		if strings.HasPrefix(value, "http") {
			return value
		}
	case []any:
		for _, item := range value {
			if hit := findStringURL(item, depth+1); hit != "" {
				return hit
			}
		}
	case map[string]any:
		for _, key := range urlFieldKeys {
			if hit := findStringURL(value[key], depth+1); hit != "" {
				return hit
			}
		}
		for _, key := range sortedKeys(value) {
			if hit := findStringURL(value[key], depth+1); hit != "" {
				return hit
			}
		}
	}
	return ""
}

func asObject(value any) map[string]any {
	obj, _ := value.(map[string]any)
	return obj
}

// truthy mirrors the upstream's loose "field is set" semantics: empty strings,
// zero numbers, false and null all count as absent.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case json.Number:
		f, err := v.Float64()
		return err == nil && f != 0 && !math.IsNaN(f)
	case float64:
		return v != 0 && !math.IsNaN(v)
	case bool:
		return v
	default:
		return true
	}
}

func firstValue(obj map[string]any, keys ...string) any {
	for _, key := range keys {
		if value, ok := obj[key]; ok && truthy(value) {
			return value
		}
	}
	return nil
}

func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := obj[key]
		if !ok || !truthy(value) {
			continue
		}
		if text := stringify(value); text != "" {
			return text
		}
	}
	return ""
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func toFloat(value any) (float64, bool) {
	var parsed float64
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		parsed = f
	case float64:
		parsed = v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		parsed = f
	default:
		return 0, false
	}
	if math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, false
	}
	return parsed, true
}

// toPositiveInt accepts integral, finite, positive numbers or numeric strings.
func toPositiveInt(value any) (int, bool) {
	f, ok := toFloat(value)
	if !ok || f <= 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func toBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			return true
		}
	case json.Number:
		f, err := v.Float64()
		return err == nil && f != 0
	case float64:
		return v != 0
	}
	return false
}

func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
