package services

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"studiopulse/internal/database"
	"studiopulse/internal/models"
)

// StatsService maintains cheap advisory usage aggregates: daily event
// counts, per-app event/error counts, last-seen timestamps. These are
// non-transactional $inc updates and may double-count on client retry —
// acceptable for advisory stats, and why they are kept apart from the
// authoritative behavioral state.
type StatsService struct {
	stats *mongo.Collection
}

// NewStatsService creates a new stats service
func NewStatsService(db *database.MongoDB) *StatsService {
	return &StatsService{stats: db.Collection(database.CollectionUsageStats)}
}

// RecordBatch bumps the advisory aggregates for an accepted batch. Failures
// are logged and swallowed: stats must never fail an ingestion request that
// already persisted its queue entry.
func (s *StatsService) RecordBatch(ctx context.Context, userID string, events []models.Event) {
	if len(events) == 0 {
		return
	}

	day := time.Now().UTC().Format("2006-01-02")
	inc := bson.M{
		"daily." + day + ".events": len(events),
	}
	for _, ev := range events {
		inc["apps."+ev.AppID+".events"] = asInt(inc["apps."+ev.AppID+".events"]) + 1
		if ev.Action == "error" {
			inc["apps."+ev.AppID+".errors"] = asInt(inc["apps."+ev.AppID+".errors"]) + 1
		}
	}

	_, err := s.stats.UpdateOne(ctx,
		bson.M{"userId": userID},
		bson.M{
			"$inc": inc,
			"$set": bson.M{"lastSeenAt": time.Now()},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		log.Printf("⚠️  [STATS] Failed to record batch for user %s: %v", userID, err)
	}
}

func asInt(v any) int {
	if n, ok := v.(int); ok {
		return n
	}
	return 0
}
