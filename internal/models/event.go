package models

// Surface identifies which ingestion endpoint accepted a batch. The two
// surfaces share the event shape but accept different action vocabularies.
type Surface string

const (
	SurfaceTelemetry Surface = "telemetry" // generic UI telemetry
	SurfaceSignals   Surface = "signals"   // AI-generation outcome signals
)

// Event is one user-observable action reported by a client application.
type Event struct {
	AppID     string         `bson:"appId" json:"appId"`
	Action    string         `bson:"action" json:"action"`
	Timestamp float64        `bson:"timestamp" json:"timestamp"` // epoch millis
	Metadata  map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Score     float64        `bson:"score,omitempty" json:"score,omitempty"` // computed server-side, never trusted from the client
}

// SystemAppID is the sentinel appId used by the shell itself. Events from it
// never count toward per-app frequency or context-switch detection.
const SystemAppID = "system"

// Batch limits enforced by the validator and the gateway.
const (
	MaxBatchSize      = 50
	MaxBatchBodyBytes = 64 * 1024
)

// SimpleActions is the allow-list for the generic telemetry surface.
var SimpleActions = map[string]bool{
	"open":     true,
	"close":    true,
	"edit":     true,
	"copy":     true,
	"download": true,
	"dwell":    true,
	"abandon":  true,
	"error":    true,
	"install":  true,
}

// ScoringActions is the allow-list for the signals surface. It includes the
// generic vocabulary plus AI-generation outcomes.
var ScoringActions = map[string]bool{
	"open":       true,
	"close":      true,
	"edit":       true,
	"copy":       true,
	"download":   true,
	"dwell":      true,
	"abandon":    true,
	"error":      true,
	"install":    true,
	"generate":   true,
	"regenerate": true,
	"success":    true,
	"dislike":    true,
	"completion": true,
}

// ActionsForSurface returns the allow-list for an ingestion surface.
func ActionsForSurface(surface Surface) map[string]bool {
	if surface == SurfaceSignals {
		return ScoringActions
	}
	return SimpleActions
}

// RateLimitWeight returns the weighted rate-limit cost of an action. Only
// generation-class actions carry weight; everything else is free.
func RateLimitWeight(action string) int {
	switch action {
	case "generate", "regenerate":
		return 1
	default:
		return 0
	}
}
