package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/medtrack/field-gateway/internal/core/domain"
	"github.com/medtrack/field-gateway/internal/core/ports"
)

const visitEventsCollection = "visit_events"

// VisitEventRepository implements ports.VisitEventRepository using MongoDB.
type VisitEventRepository struct {
	db  *mongo.Database
	now func() time.Time
}

var _ ports.VisitEventRepository = (*VisitEventRepository)(nil)

// NewVisitEventRepository creates a new VisitEventRepository.
func NewVisitEventRepository(db *mongo.Database) *VisitEventRepository {
	return &VisitEventRepository{db: db, now: time.Now}
}

// EnsureIndexes creates the lookup indexes used by audit queries.
func (r *VisitEventRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.db.Collection(visitEventsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "visit_id", Value: 1}, {Key: "occurred_at", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "occurred_at", Value: -1}}},
	}, options.CreateIndexes())
	return err
}

// InsertEvent persists a lifecycle event to the visit_events audit collection.
func (r *VisitEventRepository) InsertEvent(ctx context.Context, event *domain.VisitEvent) error {
	_, err := r.db.Collection(visitEventsCollection).InsertOne(ctx, eventDocument(event, r.now()))
	return err
}

func eventDocument(event *domain.VisitEvent, recordedAt time.Time) bson.M {
	doc := bson.M{
		"type":        string(event.Type),
		"visit_id":    event.VisitID,
		"user_id":     event.UserID,
		"actor_id":    event.ActorID,
		"actor_role":  string(event.ActorRole),
		"occurred_at": event.OccurredAt.UTC(),
		"recorded_at": recordedAt.UTC(),
	}
	if event.Status != "" {
		doc["status"] = string(event.Status)
	}
	if event.Detail != "" {
		doc["detail"] = event.Detail
	}
	return doc
}
