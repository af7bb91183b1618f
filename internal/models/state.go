package models

// BehavioralState is the per-user durable aggregate maintained by the
// dreaming engine. Every field has a type-safe default: a corrupt or partial
// stored document must pass through Normalize before anything reads it.
type BehavioralState struct {
	UserID              string              `bson:"userId" json:"user_id"`
	UserArchetype       string              `bson:"userArchetype" json:"user_archetype"`
	ActivePromptVariant string              `bson:"activePromptVariant" json:"active_prompt_variant"` // "A" or "B"
	LearnedFacts        []Fact              `bson:"learnedFacts" json:"learned_facts"`
	Insights            []Insight           `bson:"insights" json:"insights"`
	TelemetryEnabled    bool                `bson:"telemetryEnabled" json:"telemetry_enabled"`
	KeywordWeights      map[string]float64  `bson:"keywordWeights" json:"keyword_weights"`
	NegativeConstraints map[string][]string `bson:"negativeConstraints" json:"negative_constraints"`
	GoldenTemplates     map[string][]any    `bson:"goldenTemplates" json:"golden_templates"`

	SessionScore            float64 `bson:"sessionScore" json:"session_score"`
	LastGenerationTimestamp float64 `bson:"lastGenerationTimestamp" json:"last_generation_timestamp"`
	TotalInputChars         int64   `bson:"totalInputChars" json:"total_input_chars"`
	TotalOutputChars        int64   `bson:"totalOutputChars" json:"total_output_chars"`
	RequestCount            int64   `bson:"requestCount" json:"request_count"`

	Credits Credits `bson:"credits" json:"credits"`
}

// Credits is opaque credit bookkeeping carried on the state document.
// Billing logic lives elsewhere; the engine only preserves these fields.
type Credits struct {
	Count     int64   `bson:"count" json:"count"`
	LastReset float64 `bson:"lastReset" json:"last_reset"`
}

// Fact is a deduplicated, confidence-scored piece of long-term inferred
// knowledge about a user.
type Fact struct {
	Content    string  `bson:"content" json:"content"`
	Scope      string  `bson:"scope" json:"scope"`           // Global, Creative, Business, Utility
	Confidence float64 `bson:"confidence" json:"confidence"` // [0,1]
	Source     string  `bson:"source" json:"source"`         // implicit_edit, explicit_save, clipboard, dwell
	Timestamp  float64 `bson:"timestamp" json:"timestamp"`
}

// Insight is a short-lived detected pattern/anomaly/behavior signal.
type Insight struct {
	ID         string  `bson:"id" json:"id"`
	Type       string  `bson:"type" json:"type"` // pattern, anomaly, behavior
	Message    string  `bson:"message" json:"message"`
	Confidence float64 `bson:"confidence" json:"confidence"`
	Timestamp  float64 `bson:"timestamp" json:"timestamp"`
}

// Fact scopes
const (
	FactScopeGlobal   = "Global"
	FactScopeCreative = "Creative"
	FactScopeBusiness = "Business"
	FactScopeUtility  = "Utility"
)

// Fact sources
const (
	FactSourceImplicitEdit = "implicit_edit"
	FactSourceExplicitSave = "explicit_save"
	FactSourceClipboard    = "clipboard"
	FactSourceDwell        = "dwell"
)

// Insight types
const (
	InsightTypePattern  = "pattern"
	InsightTypeAnomaly  = "anomaly"
	InsightTypeBehavior = "behavior"
)

// Retention caps on the state document.
const (
	MaxLearnedFacts        = 50
	MaxInsights            = 20
	InsightDedupeWindow    = 5
	DefaultPromptVariant   = "A"
	AlternatePromptVariant = "B"
)

// DefaultBehavioralState returns a fully-populated state for a user with no
// history.
func DefaultBehavioralState(userID string) *BehavioralState {
	return &BehavioralState{
		UserID:              userID,
		UserArchetype:       "",
		ActivePromptVariant: DefaultPromptVariant,
		LearnedFacts:        []Fact{},
		Insights:            []Insight{},
		TelemetryEnabled:    true,
		KeywordWeights:      map[string]float64{},
		NegativeConstraints: map[string][]string{},
		GoldenTemplates:     map[string][]any{},
		Credits:             Credits{},
	}
}

var validFactScopes = map[string]bool{
	FactScopeGlobal:   true,
	FactScopeCreative: true,
	FactScopeBusiness: true,
	FactScopeUtility:  true,
}

var validInsightTypes = map[string]bool{
	InsightTypePattern:  true,
	InsightTypeAnomaly:  true,
	InsightTypeBehavior: true,
}

// Normalize repairs a state document in place so that every field holds a
// type-safe value. Malformed facts and insights are dropped rather than
// carried forward; the retention caps are re-applied.
func (s *BehavioralState) Normalize(userID string) {
	if s.UserID == "" {
		s.UserID = userID
	}
	if s.ActivePromptVariant != DefaultPromptVariant && s.ActivePromptVariant != AlternatePromptVariant {
		s.ActivePromptVariant = DefaultPromptVariant
	}
	if s.KeywordWeights == nil {
		s.KeywordWeights = map[string]float64{}
	}
	if s.NegativeConstraints == nil {
		s.NegativeConstraints = map[string][]string{}
	}
	if s.GoldenTemplates == nil {
		s.GoldenTemplates = map[string][]any{}
	}

	facts := make([]Fact, 0, len(s.LearnedFacts))
	for _, f := range s.LearnedFacts {
		if f.Content == "" {
			continue
		}
		if !validFactScopes[f.Scope] {
			f.Scope = FactScopeGlobal
		}
		f.Confidence = clamp01(f.Confidence)
		facts = append(facts, f)
	}
	if len(facts) > MaxLearnedFacts {
		facts = facts[:MaxLearnedFacts]
	}
	s.LearnedFacts = facts

	insights := make([]Insight, 0, len(s.Insights))
	for _, in := range s.Insights {
		if in.Message == "" {
			continue
		}
		if !validInsightTypes[in.Type] {
			in.Type = InsightTypeBehavior
		}
		in.Confidence = clamp01(in.Confidence)
		insights = append(insights, in)
	}
	if len(insights) > MaxInsights {
		insights = insights[:MaxInsights]
	}
	s.Insights = insights
}

// HasFact reports whether a fact with the exact same content already exists.
func (s *BehavioralState) HasFact(content string) bool {
	for _, f := range s.LearnedFacts {
		if f.Content == content {
			return true
		}
	}
	return false
}

// AddFact appends a fact unless an identical content already exists. When the
// cap is exceeded the least-confident fact is evicted.
func (s *BehavioralState) AddFact(f Fact) {
	if s.HasFact(f.Content) {
		return
	}
	s.LearnedFacts = append(s.LearnedFacts, f)
	for len(s.LearnedFacts) > MaxLearnedFacts {
		lowest := 0
		for i, existing := range s.LearnedFacts {
			if existing.Confidence < s.LearnedFacts[lowest].Confidence {
				lowest = i
			}
		}
		s.LearnedFacts = append(s.LearnedFacts[:lowest], s.LearnedFacts[lowest+1:]...)
	}
}

// AddInsight unshifts an insight unless one of the five most recent carries
// the exact same message. The list is FIFO-capped.
func (s *BehavioralState) AddInsight(in Insight) {
	window := len(s.Insights)
	if window > InsightDedupeWindow {
		window = InsightDedupeWindow
	}
	for _, recent := range s.Insights[:window] {
		if recent.Message == in.Message {
			return
		}
	}
	s.Insights = append([]Insight{in}, s.Insights...)
	if len(s.Insights) > MaxInsights {
		s.Insights = s.Insights[:MaxInsights]
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
