package source

import (
	"context"
	"fmt"
	"time"

	"github.com/tphakala/qcmigrate/internal/kind"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DefaultCollections maps each kind to its collection name in the legacy database.
var DefaultCollections = map[kind.Kind]string{
	kind.BlobValues:          "kv_store",
	kind.KeywordSets:         "keywords",
	kind.MolecularStructures: "molecule",
	kind.ComputedResults:     "result",
}

// MongoConfig holds the document store connection settings.
type MongoConfig struct {
	URI      string
	Database string
	// Collections overrides DefaultCollections per kind.
	Collections map[kind.Kind]string
	// Timeout bounds connection setup. Zero uses 10s.
	Timeout time.Duration
}

// MongoStore reads source documents from MongoDB.
type MongoStore struct {
	client      *mongo.Client
	database    *mongo.Database
	collections map[kind.Kind]string
}

// NewMongoStore connects to MongoDB and verifies the primary is reachable.
func NewMongoStore(ctx context.Context, cfg *MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, fmt.Errorf("mongo uri and database are required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout).
		SetReadPreference(readpref.Primary())

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, sourceError(err, "connect", "")
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, sourceError(err, "ping", "")
	}

	collections := make(map[kind.Kind]string, len(DefaultCollections))
	for k, name := range DefaultCollections {
		collections[k] = name
	}
	for k, name := range cfg.Collections {
		if name != "" {
			collections[k] = name
		}
	}

	return &MongoStore{
		client:      client,
		database:    client.Database(cfg.Database),
		collections: collections,
	}, nil
}

func (s *MongoStore) collection(k kind.Kind) (*mongo.Collection, error) {
	name, ok := s.collections[k]
	if !ok {
		return nil, unknownKindError(k)
	}
	return s.database.Collection(name), nil
}

// Count returns the number of documents of kind.
func (s *MongoStore) Count(ctx context.Context, k kind.Kind) (int64, error) {
	coll, err := s.collection(k)
	if err != nil {
		return 0, err
	}
	n, err := coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, sourceError(err, "count", k)
	}
	return n, nil
}

// FetchPage returns one page ordered by _id.
func (s *MongoStore) FetchPage(ctx context.Context, k kind.Kind, offset, limit int64) ([]Record, error) {
	coll, err := s.collection(k)
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: IDField, Value: 1}}).
		SetSkip(offset).
		SetLimit(limit)

	cur, err := coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, sourceError(err, "fetch_page", k)
	}
	return decodeAll(ctx, cur, k, int(limit))
}

// FetchByIDs returns documents by identifier. Hex identifiers match both
// ObjectID and string keys, since legacy collections mix the two.
func (s *MongoStore) FetchByIDs(ctx context.Context, k kind.Kind, ids []string) (map[string]Record, error) {
	coll, err := s.collection(k)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return map[string]Record{}, nil
	}

	keys := make(bson.A, 0, 2*len(ids))
	for _, id := range ids {
		keys = append(keys, id)
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			keys = append(keys, oid)
		}
	}

	cur, err := coll.Find(ctx, bson.M{IDField: bson.M{"$in": keys}})
	if err != nil {
		return nil, sourceError(err, "fetch_by_ids", k)
	}
	records, err := decodeAll(ctx, cur, k, len(ids))
	if err != nil {
		return nil, err
	}

	out := make(map[string]Record, len(records))
	for _, r := range records {
		out[r.ID] = r
	}
	return out, nil
}

func decodeAll(ctx context.Context, cur *mongo.Cursor, k kind.Kind, sizeHint int) ([]Record, error) {
	defer func() { _ = cur.Close(ctx) }()

	records := make([]Record, 0, sizeHint)
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, sourceError(err, "decode", k)
		}
		r, err := recordFromDocument(doc)
		if err != nil {
			return nil, sourceError(err, "decode", k)
		}
		records = append(records, r)
	}
	if err := cur.Err(); err != nil {
		return nil, sourceError(err, "cursor", k)
	}
	return records, nil
}

// Ping verifies the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return sourceError(err, "ping", "")
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
