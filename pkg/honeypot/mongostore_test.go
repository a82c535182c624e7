package honeypot_test

import (
	"context"
	"testing"

	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"tflow/pkg/engine"
	"tflow/pkg/honeypot"
)

// TestMongoEventStore exercises MongoEventStore against mtest's mocked
// deployment, the same mock-client approach the driver's own test
// suite uses to unit-test code built on *mongo.Collection without a
// live mongod.
func TestMongoEventStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("insert then append detail", func(mt *mtest.T) {
		store := honeypot.NewMongoEventStore(mt.Coll)

		mt.AddMockResponses(mtest.CreateSuccessResponse())
		id, err := store.InsertEvent(context.Background(), &honeypot.EventItem{
			HoneyID:          1,
			StartTimestamp:   1000,
			StartSessionID:   "s1",
			StartProcessName: "evil.exe",
			AttackType:       "Dropper",
			Level:            5,
			ContentText:      "sample dropped\n",
		})
		if err != nil {
			mt.Fatalf("InsertEvent: %v", err)
		}
		if id == "" {
			mt.Fatalf("InsertEvent returned an empty id")
		}

		mt.AddMockResponses(mtest.CreateSuccessResponse())
		err = store.AppendDetail(context.Background(), id, engine.Record{"OpCode": int64(2)}, "follow-up action")
		if err != nil {
			mt.Fatalf("AppendDetail: %v", err)
		}
	})

	mt.Run("append detail rejects a malformed id", func(mt *mtest.T) {
		store := honeypot.NewMongoEventStore(mt.Coll)
		err := store.AppendDetail(context.Background(), "not-an-object-id", engine.Record{}, "")
		if err == nil {
			mt.Fatalf("expected an error for a malformed event id")
		}
	})
}
