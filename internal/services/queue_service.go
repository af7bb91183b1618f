package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"studiopulse/internal/counters"
	"studiopulse/internal/database"
	"studiopulse/internal/models"
)

// DreamTriggerChannel is the Redis pub/sub channel that wakes consolidator
// instances when a queue entry is created or re-dispatched.
const DreamTriggerChannel = "dreams:pending"

// queueStore is the storage-area name of the telemetry queue in the per-user
// data tree; its counter tracks outstanding queue documents.
const queueStore = "telemetryQueue"

// ErrEntryClaimed is returned when a queue entry was already claimed by
// another consolidator instance. Not an error condition: at-least-once
// delivery makes duplicate wakeups routine.
var ErrEntryClaimed = errors.New("queue entry already claimed")

// DreamTrigger is the pub/sub payload announcing a pending queue entry.
type DreamTrigger struct {
	EntryID string `json:"entryId"`
	UserID  string `json:"userId"`
}

// QueueService persists accepted event batches as durable queue entries and
// announces them to consolidator instances.
type QueueService struct {
	queue    *mongo.Collection
	redis    *RedisService
	counters *counters.Service
}

// NewQueueService creates a new queue service
func NewQueueService(db *database.MongoDB, redis *RedisService, counterService *counters.Service) *QueueService {
	return &QueueService{
		queue:    db.Collection(database.CollectionTelemetryQueue),
		redis:    redis,
		counters: counterService,
	}
}

// Enqueue durably persists a validated batch and publishes a trigger. The
// insert is the gateway's durability point: everything after it (counter
// bump, pub/sub publish) is best-effort because the sweeper re-dispatches
// pending entries regardless.
func (s *QueueService) Enqueue(ctx context.Context, userID string, surface models.Surface, events []models.Event, clientTimestamp float64) (*models.QueueEntry, error) {
	entry := &models.QueueEntry{
		ID:              primitive.NewObjectID(),
		UserID:          userID,
		Surface:         surface,
		Events:          events,
		ClientTimestamp: clientTimestamp,
		ServerTimestamp: time.Now(),
		Status:          models.QueueStatusPending,
	}

	if _, err := s.queue.InsertOne(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to insert queue entry: %w", err)
	}

	if err := s.counters.Increment(ctx, userID, queueStore, entry.ID.Hex(), +1); err != nil {
		log.Printf("⚠️  [QUEUE] Failed to bump queue counter for user %s: %v", userID, err)
	}

	s.publishTrigger(ctx, entry.ID.Hex(), userID)
	return entry, nil
}

// publishTrigger announces a pending entry. Failures are logged, never
// surfaced: the sweeper is the delivery backstop.
func (s *QueueService) publishTrigger(ctx context.Context, entryID, userID string) {
	if s.redis == nil {
		return
	}
	payload, err := json.Marshal(DreamTrigger{EntryID: entryID, UserID: userID})
	if err != nil {
		return
	}
	if err := s.redis.Publish(ctx, DreamTriggerChannel, payload); err != nil {
		log.Printf("⚠️  [QUEUE] Failed to publish trigger for entry %s: %v", entryID, err)
	}
}

// Claim atomically transitions an entry from pending to consolidating.
// Exactly one concurrent claimer wins; the rest get ErrEntryClaimed.
func (s *QueueService) Claim(ctx context.Context, entryID string) (*models.QueueEntry, error) {
	id, err := primitive.ObjectIDFromHex(entryID)
	if err != nil {
		return nil, fmt.Errorf("invalid queue entry id %q: %w", entryID, err)
	}

	now := time.Now()
	var entry models.QueueEntry
	err = s.queue.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": models.QueueStatusPending},
		bson.M{
			"$set": bson.M{"status": models.QueueStatusConsolidating, "claimedAt": now},
			"$inc": bson.M{"attemptCount": 1},
		},
	).Decode(&entry)
	if err == mongo.ErrNoDocuments {
		return nil, ErrEntryClaimed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue entry %s: %w", entryID, err)
	}
	return &entry, nil
}

// MarkFailed records a consolidation failure on the entry and leaves it in
// place for inspection. The engine never retries failed entries itself.
func (s *QueueService) MarkFailed(ctx context.Context, entryID primitive.ObjectID, message string) {
	_, err := s.queue.UpdateOne(ctx,
		bson.M{"_id": entryID},
		bson.M{"$set": bson.M{"status": models.QueueStatusFailed, "errorMessage": message}},
	)
	if err != nil {
		log.Printf("⚠️  [QUEUE] Failed to mark entry %s failed: %v", entryID.Hex(), err)
	}
}

// Acknowledge deletes a consolidated entry inside the caller's transaction
// context and decrements the queue counter once the transaction has
// committed (the counter is advisory, not transactional).
func (s *QueueService) Acknowledge(sessCtx mongo.SessionContext, entryID primitive.ObjectID) error {
	if _, err := s.queue.DeleteOne(sessCtx, bson.M{"_id": entryID}); err != nil {
		return fmt.Errorf("failed to delete queue entry %s: %w", entryID.Hex(), err)
	}
	return nil
}

// OnAcknowledged performs the post-commit bookkeeping for a deleted entry.
func (s *QueueService) OnAcknowledged(ctx context.Context, userID string, entryID primitive.ObjectID) {
	if err := s.counters.Increment(ctx, userID, queueStore, entryID.Hex(), -1); err != nil {
		log.Printf("⚠️  [QUEUE] Failed to decrement queue counter for user %s: %v", userID, err)
	}
}

// StalePending returns pending entries older than the cutoff plus entries
// whose claim went stale (a consolidator crashed mid-run). Stale claims are
// flipped back to pending so a healthy instance can pick them up.
func (s *QueueService) StalePending(ctx context.Context, pendingOlderThan, claimOlderThan time.Duration) ([]models.QueueEntry, error) {
	now := time.Now()

	// Recover stale claims first.
	_, err := s.queue.UpdateMany(ctx,
		bson.M{
			"status":    models.QueueStatusConsolidating,
			"claimedAt": bson.M{"$lt": now.Add(-claimOlderThan)},
		},
		bson.M{"$set": bson.M{"status": models.QueueStatusPending}},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to recover stale claims: %w", err)
	}

	cursor, err := s.queue.Find(ctx, bson.M{
		"status":          models.QueueStatusPending,
		"serverTimestamp": bson.M{"$lt": now.Add(-pendingOlderThan)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find stale pending entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []models.QueueEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode stale entries: %w", err)
	}
	return entries, nil
}

// Redispatch re-publishes triggers for the given entries.
func (s *QueueService) Redispatch(ctx context.Context, entries []models.QueueEntry) {
	for _, entry := range entries {
		s.publishTrigger(ctx, entry.ID.Hex(), entry.UserID)
	}
}
