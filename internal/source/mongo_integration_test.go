//go:build integration

package source_test

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/tphakala/qcmigrate/internal/datastore"
	"github.com/tphakala/qcmigrate/internal/datastore/entities"
	"github.com/tphakala/qcmigrate/internal/kind"
	"github.com/tphakala/qcmigrate/internal/logger"
	"github.com/tphakala/qcmigrate/internal/migration"
	"github.com/tphakala/qcmigrate/internal/source"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const recordsPerKind = 25

func startMongo(t *testing.T, ctx context.Context) string {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return "mongodb://" + endpoint
}

func startMySQL(t *testing.T, ctx context.Context) *datastore.MySQLManager {
	t.Helper()

	container, err := tcmysql.Run(ctx, "mysql:8.0.36",
		tcmysql.WithDatabase("qcarchive"),
		tcmysql.WithUsername("qc"),
		tcmysql.WithPassword("qc"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	mgr, err := datastore.NewMySQLManager(&datastore.MySQLConfig{
		Host:     host,
		Port:     port.Port(),
		Username: "qc",
		Password: "qc",
		Database: "qcarchive",
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize())
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

// seedMongo writes legacy documents with ObjectId identifiers and references.
func seedMongo(t *testing.T, ctx context.Context, uri string) {
	t.Helper()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	defer func() { _ = client.Disconnect(ctx) }()
	db := client.Database("qcfractal")

	var kvs, kws, mols, results []any
	for i := range recordsPerKind {
		kv, kw, mol := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()
		kvs = append(kvs, bson.M{"_id": kv, "value": fmt.Sprintf("stdout %d", i)})
		kws = append(kws, bson.M{"_id": kw, "hash_index": fmt.Sprintf("kw%03d", i), "values": bson.M{"maxiter": int32(100)}})
		mols = append(mols, bson.M{
			"_id":           mol,
			"symbols":       bson.A{"H", "H"},
			"geometry":      bson.A{0.0, 0.0, 0.0, 0.0, 0.0, 1.4},
			"molecule_hash": fmt.Sprintf("mol%03d", i),
		})
		results = append(results, bson.M{
			"_id":      primitive.NewObjectID(),
			"program":  "psi4",
			"driver":   "energy",
			"method":   "b3lyp",
			"molecule": mol,
			"keywords": kw,
			"stdout":   kv,
		})
	}

	for collection, docs := range map[string][]any{
		source.DefaultCollections[kind.BlobValues]:          kvs,
		source.DefaultCollections[kind.KeywordSets]:         kws,
		source.DefaultCollections[kind.MolecularStructures]: mols,
		source.DefaultCollections[kind.ComputedResults]:     results,
	} {
		_, err := db.Collection(collection).InsertMany(ctx, docs)
		require.NoError(t, err)
	}
}

func TestMongoToMySQL(t *testing.T) {
	ctx := context.Background()

	uri := startMongo(t, ctx)
	seedMongo(t, ctx, uri)
	target := startMySQL(t, ctx)

	src, err := source.NewMongoStore(ctx, &source.MongoConfig{URI: uri, Database: "qcfractal"})
	require.NoError(t, err)
	defer func() { _ = src.Close(ctx) }()

	o, err := migration.NewOrchestrator(migration.Config{
		Source:       src,
		Target:       target,
		Logger:       logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC),
		PageSize:     10,
		RetryBackoff: 10 * time.Millisecond,
		Verify:       true,
	})
	require.NoError(t, err)

	run, err := o.Run(ctx, nil)
	require.NoError(t, err)
	require.False(t, run.HasErrors(), run.Summary())
	assert.Empty(t, run.Warnings())

	for _, k := range kind.All() {
		res := run.Kind(k)
		require.NotNil(t, res)
		assert.Equal(t, entities.KindStatusCompleted, res.Status, k)
		assert.Equal(t, int64(recordsPerKind), res.Inserted, k)
		assert.Equal(t, 3, res.Chunks, k)
	}

	// Resume over a completed migration inserts nothing.
	again, err := o.Run(ctx, nil)
	require.NoError(t, err)
	for _, k := range kind.All() {
		assert.Zero(t, again.Kind(k).Inserted, k)
	}
}
