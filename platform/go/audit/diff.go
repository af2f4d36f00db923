package audit

import (
	"bytes"
	"encoding/json"
	"reflect"
	"time"

	"github.com/zenGate-Global/permitdesk/platform/go/persistence"
)

// excludedFields never appear in a diff; they change on every write.
var excludedFields = map[string]struct{}{
	"id":        {},
	"createdAt": {},
	"updatedAt": {},
	"version":   {},
}

// Diff compares every key present in next against the same key in old and
// returns only the keys whose normalised values differ. Keys absent from next
// are not considered, so a partial patch only diffs what it touches.
func Diff(old, next map[string]any) map[string]persistence.FieldChange {
	changes := make(map[string]persistence.FieldChange)
	for key, newValue := range next {
		if _, skip := excludedFields[key]; skip {
			continue
		}
		oldValue := normalize(old[key])
		newValue = normalize(newValue)
		if reflect.DeepEqual(oldValue, newValue) {
			continue
		}
		changes[key] = persistence.FieldChange{Old: oldValue, New: newValue}
	}
	return changes
}

// Created renders a CREATE diff: every field goes from nil to its value.
func Created(fields map[string]any) map[string]persistence.FieldChange {
	return Diff(map[string]any{}, fields)
}

// MaskChanges rewrites the old and new values of the named fields through mask.
func MaskChanges(changes map[string]persistence.FieldChange, mask func(string) string, fields ...string) {
	for _, field := range fields {
		change, ok := changes[field]
		if !ok {
			continue
		}
		changes[field] = persistence.FieldChange{Old: maskValue(change.Old, mask), New: maskValue(change.New, mask)}
	}
}

func maskValue(v any, mask func(string) string) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return mask(s)
}

// normalize maps values onto a comparable, JSON-stable form: nil pointers
// become nil, pointers are dereferenced, times become RFC3339Nano UTC strings
// and raw JSON is compacted.
func normalize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC().Format(time.RFC3339Nano)
	case *string:
		if val == nil {
			return nil
		}
		return *val
	case json.RawMessage:
		return normalizeJSON(val)
	case []byte:
		return normalizeJSON(val)
	case int:
		return int64(val)
	case int32:
		return int64(val)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	}
	return v
}

func normalizeJSON(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}
	return decoded
}
