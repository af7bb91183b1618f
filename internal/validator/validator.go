// Package validator type-checks and bounds incoming event batches. It is
// pure: no I/O, deterministic given its input, and the first line of defense
// against malformed or hostile client payloads.
package validator

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"studiopulse/internal/models"
)

// Metadata bounds applied per event.
const (
	MaxMetadataKeys   = 20
	MaxMetadataString = 120
	MaxMetadataArray  = 10
)

// metadataDenylist rejects keys that look like secrets or PII. A match
// rejects the entire event, never silently strips the key: a client sending
// such data is misbehaving and should hear about it.
var metadataDenylist = []string{"password", "secret", "clipboard", "email", "content"}

// ValidateBatch checks a decoded JSON batch against the allow-list of the
// given surface and returns the cleaned events. Any invalid event rejects the
// whole batch.
func ValidateBatch(raw any, surface models.Surface) ([]models.Event, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("events must be an array")
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("events array is empty")
	}
	if len(items) > models.MaxBatchSize {
		return nil, fmt.Errorf("batch exceeds %d events", models.MaxBatchSize)
	}

	allowed := models.ActionsForSurface(surface)
	events := make([]models.Event, 0, len(items))
	for i, item := range items {
		ev, err := validateEvent(item, allowed)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func validateEvent(item any, allowed map[string]bool) (models.Event, error) {
	obj, ok := item.(map[string]any)
	if !ok {
		return models.Event{}, fmt.Errorf("not an object")
	}

	appID, ok := obj["appId"].(string)
	if !ok || appID == "" {
		return models.Event{}, fmt.Errorf("appId must be a non-empty string")
	}

	action, ok := obj["action"].(string)
	if !ok {
		// The generic surface historically used "eventType" as the field name.
		action, ok = obj["eventType"].(string)
	}
	if !ok || action == "" {
		return models.Event{}, fmt.Errorf("action is required")
	}
	if !allowed[action] {
		return models.Event{}, fmt.Errorf("action %q is not allowed", action)
	}

	ts, ok := obj["timestamp"].(float64)
	if !ok || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return models.Event{}, fmt.Errorf("timestamp must be a finite number")
	}

	ev := models.Event{AppID: appID, Action: action, Timestamp: ts}

	if rawMeta, present := obj["metadata"]; present && rawMeta != nil {
		meta, err := sanitizeMetadata(rawMeta)
		if err != nil {
			return models.Event{}, err
		}
		ev.Metadata = meta
	}
	return ev, nil
}

// sanitizeMetadata bounds a metadata map: string values are truncated, arrays
// are trimmed to a handful of primitive entries, nested structures are
// dropped. The score field is server-computed and never accepted here.
func sanitizeMetadata(raw any) (map[string]any, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("metadata must be an object")
	}
	if len(obj) > MaxMetadataKeys {
		return nil, fmt.Errorf("metadata exceeds %d keys", MaxMetadataKeys)
	}

	clean := make(map[string]any, len(obj))
	for key, value := range obj {
		lower := strings.ToLower(key)
		for _, banned := range metadataDenylist {
			if strings.Contains(lower, banned) {
				return nil, fmt.Errorf("metadata key %q matches denylist", key)
			}
		}
		switch v := value.(type) {
		case string:
			clean[key] = truncateString(v)
		case float64, bool:
			clean[key] = v
		case []any:
			clean[key] = truncateArray(v)
		case nil:
			// dropped
		default:
			// nested objects are dropped, not an error
		}
	}
	return clean, nil
}

// truncateString bounds a value to MaxMetadataString characters. The cut is
// by rune, never mid-sequence: the stored value must stay valid UTF-8.
func truncateString(s string) string {
	if utf8.RuneCountInString(s) <= MaxMetadataString {
		return s
	}
	count := 0
	for i := range s {
		if count == MaxMetadataString {
			return s[:i]
		}
		count++
	}
	return s
}

func truncateArray(arr []any) []any {
	out := make([]any, 0, MaxMetadataArray)
	for _, item := range arr {
		if len(out) == MaxMetadataArray {
			break
		}
		switch v := item.(type) {
		case string:
			out = append(out, truncateString(v))
		case float64, bool:
			out = append(out, v)
		}
	}
	return out
}
