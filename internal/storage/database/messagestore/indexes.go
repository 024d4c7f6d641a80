package messagestore

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// EnsureIndexes 建立對話查詢所需的索引，可重複執行.
func EnsureIndexes(ctx context.Context, coll *mongo.Collection) error {
	models := []mongo.IndexModel{
		// 對話查詢：雙向 (sender, receiver) + 時間排序
		{
			Keys: bson.D{
				{Key: "sender_id", Value: 1},
				{Key: "receiver_id", Value: 1},
				{Key: "created_at", Value: 1},
			},
			Options: options.Index().SetName("pair_time_idx"),
		},
		{
			Keys:    bson.D{{Key: "receiver_id", Value: 1}, {Key: "seen", Value: 1}},
			Options: options.Index().SetName("receiver_seen_idx"),
		},
		{
			Keys:    bson.D{{Key: "deleted_for", Value: 1}},
			Options: options.Index().SetName("deleted_for_idx"),
		},
	}

	_, err := coll.Indexes().CreateMany(ctx, models)
	return err
}

// IndexNames 列出集合上的索引名稱.
func IndexNames(ctx context.Context, coll *mongo.Collection) ([]string, error) {
	cursor, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	var specs []bson.M
	if err := cursor.All(ctx, &specs); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(specs))
	for _, idx := range specs {
		if name, ok := idx["name"].(string); ok {
			names = append(names, name)
		}
	}
	return names, nil
}
