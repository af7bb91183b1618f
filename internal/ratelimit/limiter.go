// Package ratelimit implements the per-user fixed-window limiter that guards
// generation-class events. This is deliberately a fixed window, not a sliding
// one: bursts aligned across a window boundary can reach up to twice the
// nominal rate. That tradeoff is accepted for the single cheap document
// read-modify-write it costs per request.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"studiopulse/internal/database"
)

// Defaults matching the production limiter configuration.
const (
	DefaultWindowMs = 60_000
	DefaultCap      = 60
)

// Window is the per-user rate limit document.
type Window struct {
	UserID      string `bson:"userId" json:"user_id"`
	WindowStart int64  `bson:"windowStart" json:"window_start"` // epoch millis
	Count       int    `bson:"count" json:"count"`
}

// Advance applies one weighted request to a window. It returns the window to
// persist and whether the request is allowed. On rejection the returned
// window carries no count increment, so a stream of rejected requests never
// extends the window.
func Advance(win Window, nowMs int64, weight, capacity int, windowMs int64) (Window, bool) {
	if nowMs-win.WindowStart >= windowMs {
		win.WindowStart = nowMs
		win.Count = 0
	}
	next := win.Count + weight
	if next > capacity {
		return win, false
	}
	win.Count = next
	return win, true
}

// Limiter is the store-backed fixed-window limiter.
type Limiter struct {
	db       *database.MongoDB
	windows  *mongo.Collection
	windowMs int64
	capacity int
	nowMs    func() int64
}

// NewLimiter creates a limiter over the given window size and cap. A nil
// nowMs uses the wall clock; tests inject their own.
func NewLimiter(db *database.MongoDB, windowMs int64, capacity int, nowMs func() int64) *Limiter {
	if nowMs == nil {
		nowMs = func() int64 { return time.Now().UnixMilli() }
	}
	return &Limiter{
		db:       db,
		windows:  db.Collection(database.CollectionRateLimitWindows),
		windowMs: windowMs,
		capacity: capacity,
		nowMs:    nowMs,
	}
}

// Allow spends the given weight against the user's current window. Weightless
// requests never touch the store. The read-modify-write happens inside a
// transaction so concurrent gateway instances cannot both spend the last
// units of a window.
func (l *Limiter) Allow(ctx context.Context, userID string, weight int) (bool, error) {
	if weight <= 0 {
		return true, nil
	}

	allowed := false
	err := l.db.WithTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		var win Window
		err := l.windows.FindOne(sessCtx, bson.M{"userId": userID}).Decode(&win)
		if err != nil && err != mongo.ErrNoDocuments {
			return fmt.Errorf("failed to read rate limit window: %w", err)
		}
		if err == mongo.ErrNoDocuments {
			win = Window{UserID: userID, WindowStart: l.nowMs()}
		}

		next, ok := Advance(win, l.nowMs(), weight, l.capacity, l.windowMs)
		allowed = ok

		next.UserID = userID
		_, err = l.windows.ReplaceOne(sessCtx, bson.M{"userId": userID}, next, options.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("failed to persist rate limit window: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return allowed, nil
}
