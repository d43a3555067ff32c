package source

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Normalize converts driver and decoder types into plain Go values so that
// transforms, JSON encoding and comparisons see one representation.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.Timestamp:
		return int64(t.T)
	case primitive.Decimal128:
		return t.String()
	case primitive.Binary:
		return t.Data
	case primitive.Null, primitive.Undefined:
		return nil
	case primitive.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = Normalize(e.Value)
		}
		return out
	case bson.M:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(t)
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = Normalize(val)
		}
		return out
	case primitive.A:
		return normalizeSlice(t)
	case []any:
		return normalizeSlice(t)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint64:
		return int64(t) //nolint:gosec // document counters fit int64
	case float32:
		return float64(t)
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = Normalize(val)
	}
	return out
}

func normalizeSlice(s []any) []any {
	out := make([]any, len(s))
	for i, val := range s {
		out[i] = Normalize(val)
	}
	return out
}

// recordFromDocument splits a normalized document into identifier and fields.
func recordFromDocument(doc map[string]any) (Record, error) {
	fields := normalizeMap(doc)
	rawID, ok := fields[IDField]
	if !ok || rawID == nil {
		return Record{}, fmt.Errorf("document has no %s", IDField)
	}
	delete(fields, IDField)

	id, ok := rawID.(string)
	if !ok {
		id = fmt.Sprint(rawID)
	}
	return Record{ID: id, Fields: fields}, nil
}
