package resultstore

import (
	"context"
	"fmt"
	"log"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// EnsureIndexes creates idempotent indexes on every collection the result
// store writes, mirroring the teacher's persist.EnsureIndexes.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	type idx struct {
		collection string
		model      mongo.IndexModel
	}

	indexes := []idx{
		{
			collection: "backtest_runs",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "run_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: "backtest_runs",
			model: mongo.IndexModel{
				Keys: bson.D{{Key: "started_at", Value: -1}},
			},
		},
		{
			collection: "backtest_trades",
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "run_id", Value: 1},
					{Key: "time", Value: 1},
				},
			},
		},
		{
			collection: "backtest_equity_points",
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "run_id", Value: 1},
					{Key: "time", Value: 1},
				},
			},
		},
		{
			collection: "dispatch_metrics_snapshots",
			model: mongo.IndexModel{
				Keys: bson.D{{Key: "captured_at", Value: -1}},
			},
		},
	}

	for _, i := range indexes {
		_, err := db.Collection(i.collection).Indexes().CreateOne(ctx, i.model)
		if err != nil {
			return fmt.Errorf("create index on %s: %w", i.collection, err)
		}
	}

	log.Println("resultstore: MongoDB indexes ensured")
	return nil
}
