// Package mongo archives conversation turns in MongoDB.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/live-assist/internal/config"
	"github.com/Rrens/live-assist/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type turnDocument struct {
	ID            string    `bson:"_id"`
	SessionID     string    `bson:"session_id"`
	Transcription string    `bson:"transcription"`
	Response      string    `bson:"ai_response"`
	Timestamp     time.Time `bson:"timestamp"`
}

func toDocument(t *domain.ConversationTurn) turnDocument {
	return turnDocument{
		ID:            t.ID.String(),
		SessionID:     t.SessionID,
		Transcription: t.Transcription,
		Response:      t.Response,
		Timestamp:     t.Timestamp.UTC(),
	}
}

func (d turnDocument) turn() (domain.ConversationTurn, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return domain.ConversationTurn{}, fmt.Errorf("invalid turn id %q: %w", d.ID, err)
	}
	return domain.ConversationTurn{
		ID:            id,
		SessionID:     d.SessionID,
		Transcription: d.Transcription,
		Response:      d.Response,
		Timestamp:     d.Timestamp,
	}, nil
}

// TurnArchive implements domain.TurnRepository on a MongoDB collection
type TurnArchive struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Connect dials MongoDB, verifies the connection and ensures indexes.
func Connect(ctx context.Context, cfg config.MongoConfig) (*TurnArchive, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	a := &TurnArchive{client: client, coll: client.Database(cfg.Database).Collection(cfg.Collection)}
	if err := a.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *TurnArchive) ensureIndexes(ctx context.Context) error {
	_, err := a.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create turn index: %w", err)
	}
	return nil
}

func (a *TurnArchive) Append(ctx context.Context, turn *domain.ConversationTurn) error {
	if _, err := a.coll.InsertOne(ctx, toDocument(turn)); err != nil {
		return fmt.Errorf("failed to archive turn: %w", err)
	}
	return nil
}

// ListBySession returns the latest limit turns, oldest first.
func (a *TurnArchive) ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.ConversationTurn, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := a.coll.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer cur.Close(ctx)

	var docs []turnDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode turns: %w", err)
	}

	turns := make([]domain.ConversationTurn, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		t, err := docs[i].turn()
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (a *TurnArchive) Ping(ctx context.Context) error {
	return a.client.Ping(ctx, nil)
}

func (a *TurnArchive) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}
