// Package mongoremote mirrors replication changes into MongoDB.
package mongoremote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"studyhall/internal/replication"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Remote writes changes to one MongoDB database, one collection per store collection
type Remote struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials MongoDB and ensures the lookup indexes exist
func Connect(ctx context.Context, uri, database string) (*Remote, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	if database == "" {
		database = "studyhall"
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)

	_, _ = db.Collection(replication.CollectionBans).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_email", Value: 1}, {Key: "created_at", Value: 1}},
	})
	_, _ = db.Collection(replication.CollectionMessages).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	_, _ = db.Collection(replication.CollectionNotifications).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "recipient_email", Value: 1}},
	})

	log.Info().Str("database", database).Msg("replication: connected to mongo")

	return &Remote{client: client, db: db}, nil
}

// Apply upserts or deletes the document named by the change. Replaying a
// change is harmless.
func (r *Remote) Apply(ctx context.Context, c replication.Change) error {
	col := r.db.Collection(c.Collection)

	switch c.Op {
	case replication.OpDelete:
		_, err := col.DeleteOne(ctx, bson.M{"_id": c.Key})
		return err
	case replication.OpUpsert:
		doc, err := toDocument(c)
		if err != nil {
			return err
		}
		_, err = col.ReplaceOne(ctx, bson.M{"_id": c.Key}, doc, options.Replace().SetUpsert(true))
		return err
	default:
		return fmt.Errorf("unknown replication op %q", c.Op)
	}
}

// Close disconnects from MongoDB
func (r *Remote) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func toDocument(c replication.Change) (bson.M, error) {
	doc := bson.M{}
	if len(c.Doc) > 0 {
		if err := json.Unmarshal(c.Doc, &doc); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", c.Collection, c.Key, err)
		}
	}
	doc["_id"] = c.Key
	return doc, nil
}

var _ replication.Remote = (*Remote)(nil)
