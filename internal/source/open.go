package source

import (
	"context"
	"fmt"

	"github.com/tphakala/qcmigrate/internal/conf"
	"github.com/tphakala/qcmigrate/internal/kind"
)

// Open connects to the source store selected by settings.
func Open(ctx context.Context, settings *conf.SourceSettings) (Store, error) {
	switch settings.Type {
	case conf.SourceMongo:
		collections := make(map[kind.Kind]string, len(settings.Collections))
		for name, collection := range settings.Collections {
			k, err := kind.Parse(name)
			if err != nil {
				return nil, fmt.Errorf("source collections: %w", err)
			}
			collections[k] = collection
		}
		return NewMongoStore(ctx, &MongoConfig{
			URI:         settings.URI,
			Database:    settings.Database,
			Collections: collections,
			Timeout:     settings.Timeout,
		})
	case conf.SourceFixture:
		return LoadFixture(settings.Fixture)
	default:
		return nil, fmt.Errorf("unsupported source type %q", settings.Type)
	}
}
