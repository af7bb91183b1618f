package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"studiopulse/internal/database"
	"studiopulse/internal/logging"
	"studiopulse/internal/models"
)

// Pattern detection thresholds. Detection only runs on batches of at least
// minPatternBatch events; smaller batches carry too little signal.
const (
	minPatternBatch      = 5
	highVelocityPerSec   = 3.0
	lowVelocityPerSec    = 0.2
	contextSwitchApps    = 3
	errorAnomalyCount    = 2
	frequentAppThreshold = 5
)

// Insight messages are fixed strings: insight deduplication works by exact
// message match against the most recent entries.
const (
	msgHurried       = "High-velocity usage: user appears hurried"
	msgReading       = "Low-velocity usage: user appears to be reading"
	msgContextSwitch = "Rapid context switching across apps"
	msgErrorSpike    = "Elevated error rate in recent activity"
)

// DreamingService is the consolidation engine. It is woken once per queue
// entry, folds the batch into the user's behavioral state inside a single
// transaction, and deletes the entry on success. Multiple instances may run
// concurrently; every merge operation is commutative (accumulate, max,
// dedupe-by-content) so two entries for the same user can land in either
// order.
type DreamingService struct {
	db     *database.MongoDB
	states *mongo.Collection
	queue  *QueueService
	redis  *RedisService

	ctx    context.Context
	cancel context.CancelFunc
	pubsub interface{ Close() error }
}

// NewDreamingService creates the consolidation engine.
func NewDreamingService(db *database.MongoDB, queue *QueueService, redis *RedisService) *DreamingService {
	ctx, cancel := context.WithCancel(context.Background())
	return &DreamingService{
		db:     db,
		states: db.Collection(database.CollectionBehavioralStates),
		queue:  queue,
		redis:  redis,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the dream trigger channel and processes entries as
// they are announced.
func (s *DreamingService) Start() error {
	if s.redis == nil {
		return fmt.Errorf("dreaming engine requires Redis for triggers")
	}
	pubsub := s.redis.Subscribe(s.ctx, DreamTriggerChannel)
	if _, err := pubsub.Receive(s.ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", DreamTriggerChannel, err)
	}
	s.pubsub = pubsub

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-s.ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var trigger DreamTrigger
				if err := json.Unmarshal([]byte(msg.Payload), &trigger); err != nil {
					log.Printf("⚠️  [DREAM] Bad trigger payload: %v", err)
					continue
				}
				s.Process(s.ctx, trigger.EntryID)
			}
		}
	}()

	log.Println("✅ [DREAM] Consolidation engine listening for triggers")
	return nil
}

// Stop shuts down the trigger listener.
func (s *DreamingService) Stop() error {
	s.cancel()
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}

// Process consolidates one queue entry end to end. Duplicate wakeups are
// routine (at-least-once delivery) and resolve at the claim step.
func (s *DreamingService) Process(ctx context.Context, entryID string) {
	start := time.Now()
	metrics := GetMetrics()

	entry, err := s.queue.Claim(ctx, entryID)
	if err == ErrEntryClaimed {
		if metrics != nil {
			metrics.RecordConsolidation("skipped", 0)
		}
		return
	}
	if err != nil {
		log.Printf("⚠️  [DREAM] Failed to claim entry %s: %v", entryID, err)
		return
	}

	logger := logging.WithConsolidation(entryID, entry.UserID)

	err = s.db.WithTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		state := s.loadState(sessCtx, entry.UserID)
		applyBatch(state, entry.Events, time.Now().UnixMilli())

		_, err := s.states.UpdateOne(sessCtx,
			bson.M{"userId": entry.UserID},
			bson.M{"$set": state},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("failed to merge behavioral state: %w", err)
		}
		return s.queue.Acknowledge(sessCtx, entry.ID)
	})

	if err != nil {
		// Nothing was durably mutated: the transaction aborted whole. The
		// entry stays for inspection and eventual redelivery.
		logger.Error("consolidation failed", "error", err)
		s.queue.MarkFailed(ctx, entry.ID, err.Error())
		if metrics != nil {
			metrics.RecordConsolidation("failed", 0)
		}
		return
	}

	s.queue.OnAcknowledged(ctx, entry.UserID, entry.ID)
	if metrics != nil {
		metrics.RecordConsolidation("acknowledged", time.Since(start).Seconds())
	}
	logger.Info("consolidated batch", "events", len(entry.Events), "duration_ms", time.Since(start).Milliseconds())
}

// loadState reads the user's behavioral state inside the transaction. A
// missing or undecodable document normalizes to full defaults: the state is
// never partially trusted.
func (s *DreamingService) loadState(sessCtx mongo.SessionContext, userID string) *models.BehavioralState {
	var state models.BehavioralState
	err := s.states.FindOne(sessCtx, bson.M{"userId": userID}).Decode(&state)
	if err != nil {
		if err != mongo.ErrNoDocuments {
			log.Printf("⚠️  [DREAM] Corrupt state for user %s, rebuilding from defaults: %v", userID, err)
		}
		return models.DefaultBehavioralState(userID)
	}
	state.Normalize(userID)
	return &state
}

// GetState returns a user's normalized behavioral state, or defaults when
// none exists yet.
func (s *DreamingService) GetState(ctx context.Context, userID string) (*models.BehavioralState, error) {
	var state models.BehavioralState
	err := s.states.FindOne(ctx, bson.M{"userId": userID}).Decode(&state)
	if err == mongo.ErrNoDocuments {
		return models.DefaultBehavioralState(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load behavioral state: %w", err)
	}
	state.Normalize(userID)
	return &state, nil
}

// applyBatch folds one batch of events into a state, in array order for the
// accumulators. It is pure with respect to I/O, which keeps the scoring and
// pattern logic testable without a store.
func applyBatch(state *models.BehavioralState, events []models.Event, nowMs int64) {
	var completions int64
	for _, ev := range events {
		state.SessionScore += scoreEvent(ev)
		if ev.Action == "completion" {
			completions++
			if n, ok := metadataNumber(ev.Metadata, "inputLength"); ok {
				state.TotalInputChars += int64(n)
			}
			if n, ok := metadataNumber(ev.Metadata, "outputLength"); ok {
				state.TotalOutputChars += int64(n)
			}
		}
		if ev.Timestamp > state.LastGenerationTimestamp {
			state.LastGenerationTimestamp = ev.Timestamp
		}
	}
	state.RequestCount += completions

	for _, insight := range detectPatterns(events, nowMs) {
		state.AddInsight(insight)
	}

	if fact, ok := consolidateFrequentApp(events, nowMs); ok {
		state.AddFact(fact)
	}
}

// scoreEvent assigns the HVA (high-value action) score for one event. The
// table is fixed; clients never supply scores.
func scoreEvent(ev models.Event) float64 {
	switch ev.Action {
	case "copy":
		return 10
	case "download":
		return 20
	case "success":
		return 25
	case "dislike":
		return -10
	case "install":
		return 15
	case "completion":
		return 5
	case "error":
		return -5
	case "regenerate":
		return -10
	case "dwell":
		// Only a real dwell counts; quick bounces score nothing.
		if d, ok := metadataNumber(ev.Metadata, "duration"); ok && d > 5000 {
			return 5
		}
		return 0
	case "edit":
		// A meaningful touch-up, not a wholesale rewrite.
		before, okB := metadataNumber(ev.Metadata, "beforeLength")
		after, okA := metadataNumber(ev.Metadata, "afterLength")
		if okB && okA && math.Abs(after-before) < 20 {
			return 5
		}
		return 0
	default:
		return 0
	}
}

// detectPatterns inspects batch-level aggregates only. Cross-batch ordering
// is not guaranteed, so nothing here may depend on prior batches.
func detectPatterns(events []models.Event, nowMs int64) []models.Insight {
	if len(events) < minPatternBatch {
		return nil
	}

	minTs, maxTs := events[0].Timestamp, events[0].Timestamp
	apps := map[string]bool{}
	errorCount := 0
	for _, ev := range events {
		if ev.Timestamp < minTs {
			minTs = ev.Timestamp
		}
		if ev.Timestamp > maxTs {
			maxTs = ev.Timestamp
		}
		if ev.AppID != models.SystemAppID {
			apps[ev.AppID] = true
		}
		if ev.Action == "error" {
			errorCount++
		}
	}

	var insights []models.Insight
	add := func(typ, msg string, confidence float64) {
		insights = append(insights, models.Insight{
			ID:         uuid.NewString(),
			Type:       typ,
			Message:    msg,
			Confidence: confidence,
			Timestamp:  float64(nowMs),
		})
	}

	spanSec := (maxTs - minTs) / 1000
	if spanSec > 0 {
		velocity := float64(len(events)) / spanSec
		if velocity > highVelocityPerSec {
			add(models.InsightTypePattern, msgHurried, 0.85)
		} else if velocity < lowVelocityPerSec {
			add(models.InsightTypeBehavior, msgReading, 0.6)
		}
	} else {
		// Zero span with a full batch is the extreme of high velocity.
		add(models.InsightTypePattern, msgHurried, 0.85)
	}

	if len(apps) >= contextSwitchApps {
		add(models.InsightTypePattern, msgContextSwitch, 0.9)
	}
	if errorCount > errorAnomalyCount {
		add(models.InsightTypeAnomaly, msgErrorSpike, 0.95)
	}
	return insights
}

// consolidateFrequentApp folds high-frequency per-app usage into a durable
// fact when a single app dominates the batch.
func consolidateFrequentApp(events []models.Event, nowMs int64) (models.Fact, bool) {
	counts := map[string]int{}
	for _, ev := range events {
		if ev.AppID == models.SystemAppID {
			continue
		}
		counts[ev.AppID]++
	}

	topApp, topCount := "", 0
	for app, count := range counts {
		if count > topCount || (count == topCount && app < topApp) {
			topApp, topCount = app, count
		}
	}
	if topCount <= frequentAppThreshold {
		return models.Fact{}, false
	}

	return models.Fact{
		Content:    fmt.Sprintf("frequent user of %s", topApp),
		Scope:      models.FactScopeGlobal,
		Confidence: 0.8,
		Source:     models.FactSourceDwell,
		Timestamp:  float64(nowMs),
	}, true
}

func metadataNumber(meta map[string]any, key string) (float64, bool) {
	if meta == nil {
		return 0, false
	}
	n, ok := meta[key].(float64)
	return n, ok
}
