package models

import (
	"fmt"
	"testing"
)

func TestNormalizeRepairsCorruptState(t *testing.T) {
	state := &BehavioralState{
		ActivePromptVariant: "purple",
		LearnedFacts: []Fact{
			{Content: "", Scope: FactScopeGlobal, Confidence: 0.5},
			{Content: "keeps palettes", Scope: "Imaginary", Confidence: 3.0},
		},
		Insights: []Insight{
			{ID: "a", Type: "nonsense", Message: "something", Confidence: -1},
			{ID: "b", Type: InsightTypePattern, Message: ""},
		},
	}

	state.Normalize("user-7")

	if state.UserID != "user-7" {
		t.Errorf("userID = %q", state.UserID)
	}
	if state.ActivePromptVariant != DefaultPromptVariant {
		t.Errorf("variant = %q, want %q", state.ActivePromptVariant, DefaultPromptVariant)
	}
	if state.KeywordWeights == nil || state.NegativeConstraints == nil || state.GoldenTemplates == nil {
		t.Error("nil maps should be rebuilt")
	}

	if len(state.LearnedFacts) != 1 {
		t.Fatalf("facts = %d, want 1 (empty content dropped)", len(state.LearnedFacts))
	}
	if state.LearnedFacts[0].Scope != FactScopeGlobal {
		t.Errorf("invalid scope should reset to Global, got %q", state.LearnedFacts[0].Scope)
	}
	if state.LearnedFacts[0].Confidence != 1 {
		t.Errorf("confidence should clamp to 1, got %v", state.LearnedFacts[0].Confidence)
	}

	if len(state.Insights) != 1 {
		t.Fatalf("insights = %d, want 1 (empty message dropped)", len(state.Insights))
	}
	if state.Insights[0].Type != InsightTypeBehavior {
		t.Errorf("invalid type should reset to behavior, got %q", state.Insights[0].Type)
	}
	if state.Insights[0].Confidence != 0 {
		t.Errorf("confidence should clamp to 0, got %v", state.Insights[0].Confidence)
	}
}

func TestNormalizeReappliesCaps(t *testing.T) {
	state := DefaultBehavioralState("user-1")
	for i := 0; i < MaxLearnedFacts+10; i++ {
		state.LearnedFacts = append(state.LearnedFacts, Fact{
			Content: fmt.Sprintf("fact %d", i), Scope: FactScopeGlobal, Confidence: 0.5,
		})
	}
	for i := 0; i < MaxInsights+10; i++ {
		state.Insights = append(state.Insights, Insight{
			ID: fmt.Sprintf("i%d", i), Type: InsightTypePattern, Message: fmt.Sprintf("msg %d", i), Confidence: 0.5,
		})
	}

	state.Normalize("user-1")

	if len(state.LearnedFacts) != MaxLearnedFacts {
		t.Errorf("facts = %d, want %d", len(state.LearnedFacts), MaxLearnedFacts)
	}
	if len(state.Insights) != MaxInsights {
		t.Errorf("insights = %d, want %d", len(state.Insights), MaxInsights)
	}
}

func TestAddFactDedupesByContent(t *testing.T) {
	state := DefaultBehavioralState("user-1")
	state.AddFact(Fact{Content: "likes dark themes", Scope: FactScopeGlobal, Confidence: 0.7})
	state.AddFact(Fact{Content: "likes dark themes", Scope: FactScopeUtility, Confidence: 0.9})

	if len(state.LearnedFacts) != 1 {
		t.Fatalf("facts = %d, want 1", len(state.LearnedFacts))
	}
	// The original wins; duplicates never overwrite.
	if state.LearnedFacts[0].Confidence != 0.7 {
		t.Errorf("confidence = %v, want 0.7", state.LearnedFacts[0].Confidence)
	}
}

func TestAddFactEvictsLowestConfidence(t *testing.T) {
	state := DefaultBehavioralState("user-1")
	for i := 0; i < MaxLearnedFacts; i++ {
		conf := 0.5
		if i == 17 {
			conf = 0.1
		}
		state.AddFact(Fact{Content: fmt.Sprintf("fact %d", i), Scope: FactScopeGlobal, Confidence: conf})
	}

	state.AddFact(Fact{Content: "the newcomer", Scope: FactScopeGlobal, Confidence: 0.9})

	if len(state.LearnedFacts) != MaxLearnedFacts {
		t.Fatalf("facts = %d, want %d", len(state.LearnedFacts), MaxLearnedFacts)
	}
	if state.HasFact("fact 17") {
		t.Error("lowest-confidence fact should have been evicted")
	}
	if !state.HasFact("the newcomer") {
		t.Error("new fact should be present")
	}
}

func TestAddInsightDedupeWindow(t *testing.T) {
	state := DefaultBehavioralState("user-1")
	state.AddInsight(Insight{ID: "1", Type: InsightTypePattern, Message: "repeat me", Confidence: 0.8})

	// Duplicate within the recent window is dropped.
	state.AddInsight(Insight{ID: "2", Type: InsightTypePattern, Message: "repeat me", Confidence: 0.8})
	if len(state.Insights) != 1 {
		t.Fatalf("insights = %d, want 1", len(state.Insights))
	}

	// Push the original past the dedupe window; the message may then recur.
	for i := 0; i < InsightDedupeWindow; i++ {
		state.AddInsight(Insight{ID: fmt.Sprintf("f%d", i), Type: InsightTypeBehavior, Message: fmt.Sprintf("filler %d", i), Confidence: 0.5})
	}
	state.AddInsight(Insight{ID: "3", Type: InsightTypePattern, Message: "repeat me", Confidence: 0.8})

	count := 0
	for _, in := range state.Insights {
		if in.Message == "repeat me" {
			count++
		}
	}
	if count != 2 {
		t.Errorf("occurrences = %d, want 2 once outside the window", count)
	}
}

func TestAddInsightFIFOCap(t *testing.T) {
	state := DefaultBehavioralState("user-1")
	for i := 0; i < MaxInsights+5; i++ {
		state.AddInsight(Insight{ID: fmt.Sprintf("i%d", i), Type: InsightTypeBehavior, Message: fmt.Sprintf("msg %d", i), Confidence: 0.5})
	}

	if len(state.Insights) != MaxInsights {
		t.Fatalf("insights = %d, want %d", len(state.Insights), MaxInsights)
	}
	// Newest first; the oldest entries fell off the tail.
	if state.Insights[0].Message != fmt.Sprintf("msg %d", MaxInsights+4) {
		t.Errorf("head = %q", state.Insights[0].Message)
	}
	for _, in := range state.Insights {
		if in.Message == "msg 0" {
			t.Error("oldest insight should have been dropped")
		}
	}
}
