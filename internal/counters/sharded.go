// Package counters implements hash-partitioned per-(user, store) counters.
// Many independent writers incrementing the same logical counter would
// hotspot a single document; spreading increments over a fixed set of shards
// keeps writes cheap at the cost of a fan-out read for the total.
package counters

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"studiopulse/internal/database"
)

// ShardCount is fixed; changing it would orphan live shard documents.
const ShardCount = 20

// storeToApp maps a raw storage-area name in the per-user data tree to the
// logical app it belongs to. Unknown stores are ignored, not errored: new
// storage areas ship from clients before the backend learns about them.
var storeToApp = map[string]string{
	"prompts":        "prompt-studio",
	"snippets":       "snippet-vault",
	"palettes":       "palette-lab",
	"drafts":         "draft-desk",
	"transcripts":    "voice-notes",
	"storyboards":    "storyboard",
	"telemetryQueue": "system",
}

// AppForStore resolves a storage-area name to its logical app name.
func AppForStore(store string) (string, bool) {
	app, ok := storeToApp[store]
	return app, ok
}

// ShardFor deterministically maps a document ID to a shard index using a
// polynomial rolling hash over int32. The arithmetic is kept
// language-agnostic so shard affinity survives reimplementation: repeated
// operations on one logical item always serialize through one shard.
func ShardFor(docID string) int {
	var hash int32
	for i := 0; i < len(docID); i++ {
		hash = hash*31 + int32(docID[i])
	}
	// Widen before the abs: -int32 min overflows in 32 bits.
	wide := int64(hash)
	if wide < 0 {
		wide = -wide
	}
	return int(wide % ShardCount)
}

// Service maintains counter shard documents in the document store.
type Service struct {
	shards *mongo.Collection
}

// NewService creates a sharded counter service.
func NewService(db *database.MongoDB) *Service {
	return &Service{shards: db.Collection(database.CollectionCounterShards)}
}

// Increment applies a delta to the shard selected by docID for the given
// (user, store) pair. Stores outside the lookup table are silently skipped.
func (s *Service) Increment(ctx context.Context, userID, store, docID string, delta int64) error {
	if _, known := AppForStore(store); !known {
		return nil
	}
	shard := ShardFor(docID)
	filter := bson.M{"userId": userID, "store": store, "shardId": shard}
	update := bson.M{"$inc": bson.M{"count": delta}}
	_, err := s.shards.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to increment shard %d for %s/%s: %w", shard, userID, store, err)
	}
	return nil
}

// Total fan-out reads every shard for the (user, store) pair and returns the
// logical counter value.
func (s *Service) Total(ctx context.Context, userID, store string) (int64, error) {
	cursor, err := s.shards.Find(ctx, bson.M{"userId": userID, "store": store})
	if err != nil {
		return 0, fmt.Errorf("failed to read shards for %s/%s: %w", userID, store, err)
	}
	defer cursor.Close(ctx)

	var total int64
	for cursor.Next(ctx) {
		var shard struct {
			Count int64 `bson:"count"`
		}
		if err := cursor.Decode(&shard); err != nil {
			return 0, fmt.Errorf("failed to decode shard: %w", err)
		}
		total += shard.Count
	}
	if err := cursor.Err(); err != nil {
		return 0, err
	}
	return total, nil
}
