package honeypot

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"tflow/pkg/engine"
)

// MongoEventStore persists landed events to a MongoDB collection,
// matching original_source/NeoHoney_Analyse.py's pymongo usage
// (_InsertNewEvent/_InsertEventDetailData against the events
// collection).
type MongoEventStore struct {
	coll *mongo.Collection
}

// NewMongoEventStore wraps an already-connected collection (events, by
// convention, in a NeoHoney-style database).
func NewMongoEventStore(coll *mongo.Collection) *MongoEventStore {
	return &MongoEventStore{coll: coll}
}

// InsertEvent lands item as a new document and returns its hex object ID.
func (s *MongoEventStore) InsertEvent(ctx context.Context, item *EventItem) (string, error) {
	doc := bson.M{
		"honeyId":     item.HoneyID,
		"startTime":   item.StartTimestamp,
		"sessionId":   item.StartSessionID,
		"processName": item.StartProcessName,
		"attackType":  item.AttackType,
		"level":       item.Level,
		"content":     item.ContentText,
		"detailData":  bson.A{},
	}

	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("failed to insert honeypot event: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected InsertedID type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

// AppendDetail pushes one record onto the event's detailData array,
// matching _InsertEventDetailData's $push update.
func (s *MongoEventStore) AppendDetail(ctx context.Context, eventID string, rec engine.Record, mark string) error {
	oid, err := primitive.ObjectIDFromHex(eventID)
	if err != nil {
		return fmt.Errorf("invalid honeypot event id %q: %w", eventID, err)
	}

	detail := bson.M{}
	for k, v := range rec {
		detail[k] = v
	}
	detail["eventMark"] = mark

	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$push": bson.M{"detailData": detail}},
	)
	if err != nil {
		return fmt.Errorf("failed to append honeypot event detail: %w", err)
	}
	return nil
}
