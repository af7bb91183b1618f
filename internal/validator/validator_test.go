package validator

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"studiopulse/internal/models"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("bad test payload: %v", err)
	}
	return v
}

func TestValidateBatchShape(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"not an array", `{"appId":"x"}`, true},
		{"empty array", `[]`, true},
		{"single valid event", `[{"appId":"writer","action":"open","timestamp":1700000000000}]`, false},
		{"eventType alias accepted", `[{"appId":"writer","eventType":"copy","timestamp":1700000000000}]`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateBatch(decode(t, tt.payload), models.SurfaceTelemetry)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBatch() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateBatchSizeCap(t *testing.T) {
	events := make([]any, models.MaxBatchSize+1)
	for i := range events {
		events[i] = map[string]any{"appId": "writer", "action": "open", "timestamp": float64(1700000000000 + i)}
	}
	if _, err := ValidateBatch(events, models.SurfaceTelemetry); err == nil {
		t.Error("expected oversized batch to be rejected")
	}

	if _, err := ValidateBatch(events[:models.MaxBatchSize], models.SurfaceTelemetry); err != nil {
		t.Errorf("batch at the cap should pass: %v", err)
	}
}

func TestActionAllowListPerSurface(t *testing.T) {
	generate := `[{"appId":"writer","action":"generate","timestamp":1700000000000}]`

	if _, err := ValidateBatch(decode(t, generate), models.SurfaceTelemetry); err == nil {
		t.Error("generate must be rejected on the telemetry surface")
	}
	if _, err := ValidateBatch(decode(t, generate), models.SurfaceSignals); err != nil {
		t.Errorf("generate must be allowed on the signals surface: %v", err)
	}
}

func TestWholeBatchRejectedOnOneBadEvent(t *testing.T) {
	payload := `[
		{"appId":"writer","action":"open","timestamp":1700000000000},
		{"appId":"writer","action":"teleport","timestamp":1700000000001}
	]`
	if _, err := ValidateBatch(decode(t, payload), models.SurfaceTelemetry); err == nil {
		t.Error("one out-of-vocabulary action must reject the whole batch")
	}
}

func TestTimestampMustBeFinite(t *testing.T) {
	payload := `[{"appId":"writer","action":"open","timestamp":"yesterday"}]`
	if _, err := ValidateBatch(decode(t, payload), models.SurfaceTelemetry); err == nil {
		t.Error("non-numeric timestamp must be rejected")
	}
}

func TestMetadataDenylistRejectsEvent(t *testing.T) {
	for _, key := range []string{"password", "apiSecret", "clipboardText", "userEmail", "pageContent"} {
		payload := map[string]any{
			"appId": "writer", "action": "open", "timestamp": float64(1700000000000),
			"metadata": map[string]any{key: "v"},
		}
		if _, err := ValidateBatch([]any{payload}, models.SurfaceTelemetry); err == nil {
			t.Errorf("metadata key %q must reject the event", key)
		}
	}
}

func TestMetadataTruncation(t *testing.T) {
	long := strings.Repeat("a", 500)
	arr := make([]any, 30)
	for i := range arr {
		arr[i] = float64(i)
	}
	payload := []any{map[string]any{
		"appId": "writer", "action": "open", "timestamp": float64(1700000000000),
		"metadata": map[string]any{
			"label":  long,
			"series": arr,
			"nested": map[string]any{"drop": "me"},
			"flag":   true,
		},
	}}

	events, err := ValidateBatch(payload, models.SurfaceTelemetry)
	if err != nil {
		t.Fatalf("ValidateBatch() error = %v", err)
	}
	meta := events[0].Metadata
	if got := meta["label"].(string); len(got) != MaxMetadataString {
		t.Errorf("string value not truncated: len=%d", len(got))
	}
	if got := meta["series"].([]any); len(got) != MaxMetadataArray {
		t.Errorf("array value not truncated: len=%d", len(got))
	}
	if _, kept := meta["nested"]; kept {
		t.Error("nested object values must be dropped")
	}
	if meta["flag"] != true {
		t.Error("boolean value must pass through")
	}
}

func TestMetadataTruncationKeepsRunesIntact(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{
			// Multi-byte rune sitting right on the cut point must survive
			// whole, never as a dangling lead byte.
			name:  "multibyte rune at the boundary",
			value: strings.Repeat("a", MaxMetadataString-1) + "éé",
			want:  strings.Repeat("a", MaxMetadataString-1) + "é",
		},
		{
			name:  "all multibyte",
			value: strings.Repeat("日", MaxMetadataString+50),
			want:  strings.Repeat("日", MaxMetadataString),
		},
		{
			name:  "short multibyte passes through",
			value: "café ☕",
			want:  "café ☕",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := []any{map[string]any{
				"appId": "writer", "action": "open", "timestamp": float64(1700000000000),
				"metadata": map[string]any{"label": tt.value, "tags": []any{tt.value}},
			}}

			events, err := ValidateBatch(payload, models.SurfaceTelemetry)
			if err != nil {
				t.Fatalf("ValidateBatch() error = %v", err)
			}

			got := events[0].Metadata["label"].(string)
			if !utf8.ValidString(got) {
				t.Fatalf("truncated value is not valid UTF-8: %q", got)
			}
			if got != tt.want {
				t.Errorf("label = %q, want %q", got, tt.want)
			}
			if n := utf8.RuneCountInString(got); n > MaxMetadataString {
				t.Errorf("rune count = %d, exceeds %d", n, MaxMetadataString)
			}

			arrGot := events[0].Metadata["tags"].([]any)[0].(string)
			if arrGot != tt.want {
				t.Errorf("array element = %q, want %q", arrGot, tt.want)
			}
		})
	}
}

func TestMetadataKeyCap(t *testing.T) {
	meta := map[string]any{}
	for i := 0; i < MaxMetadataKeys+1; i++ {
		meta[strings.Repeat("k", i+1)] = float64(i)
	}
	payload := []any{map[string]any{
		"appId": "writer", "action": "open", "timestamp": float64(1700000000000),
		"metadata": meta,
	}}
	if _, err := ValidateBatch(payload, models.SurfaceTelemetry); err == nil {
		t.Error("metadata with too many keys must be rejected")
	}
}
