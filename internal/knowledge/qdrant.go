package knowledge

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/raphaelgruber/wayfarer/internal/models"
)

// QdrantConfig holds Qdrant connection configuration.
type QdrantConfig struct {
	// URL is the gRPC address (e.g. "http://localhost:6334").
	URL string
	// APIKey is optional.
	APIKey string
	// Prefix names the per-class collections ("<prefix>_<class>").
	Prefix string
	// Dimension is the embedding size used when creating collections.
	Dimension int
}

// QdrantIndex implements VectorIndex with one collection per entity class.
// Payloads carry the record id and lowercased filter fields.
type QdrantIndex struct {
	client    *qdrant.Client
	prefix    string
	dimension int
}

var _ VectorIndex = (*QdrantIndex)(nil)

// NewQdrantIndex connects to Qdrant.
func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	raw := cfg.URL
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant url: %w", err)
	}
	port := 6334
	if u.Port() != "" {
		if port, err = strconv.Atoi(u.Port()); err != nil {
			return nil, fmt.Errorf("invalid qdrant port: %w", err)
		}
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "wayfarer"
	}
	return &QdrantIndex{client: client, prefix: prefix, dimension: cfg.Dimension}, nil
}

func (q *QdrantIndex) collection(class models.EntityClass) string {
	return q.prefix + "_" + string(class)
}

// pointID derives a stable UUID from the record key.
func pointID(class models.EntityClass, id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("wayfarer:"+key(class, id))).String()
}

// EnsureCollections creates missing per-class collections.
func (q *QdrantIndex) EnsureCollections(ctx context.Context) error {
	for _, class := range models.Classes {
		name := q.collection(class)
		exists, err := q.client.CollectionExists(ctx, name)
		if err != nil {
			return fmt.Errorf("check collection %s: %w", name, err)
		}
		if exists {
			continue
		}
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(q.dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
	}
	return nil
}

// Upsert implements VectorIndex. Records without an embedding are skipped.
func (q *QdrantIndex) Upsert(ctx context.Context, records []models.Record) error {
	byClass := map[models.EntityClass][]*qdrant.PointStruct{}
	for _, r := range records {
		if len(r.Embedding) == 0 {
			continue
		}
		byClass[r.Class] = append(byClass[r.Class], &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(r.Class, r.ID)),
			Vectors: qdrant.NewVectors(r.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				"record_id":  r.ID,
				"city":       strings.ToLower(r.City),
				"category":   strings.ToLower(r.Category),
				"price_band": strings.ToLower(r.PriceBand),
			}),
		})
	}
	wait := true
	for class, points := range byClass {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection(class),
			Points:         points,
			Wait:           &wait,
		})
		if err != nil {
			return fmt.Errorf("qdrant upsert %s: %w", class, err)
		}
	}
	return nil
}

// Search implements VectorIndex.
func (q *QdrantIndex) Search(ctx context.Context, class models.EntityClass, f models.Filters, vec []float32, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	lim := uint64(limit)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection(class),
		Query:          qdrant.NewQuery(vec...),
		Limit:          &lim,
		Filter:         buildFilter(f),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search %s: %w", class, err)
	}
	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		id := p.GetPayload()["record_id"].GetStringValue()
		if id == "" {
			continue
		}
		hits = append(hits, Hit{ID: id, Similarity: float64(p.GetScore())})
	}
	return hits, nil
}

// Ping implements VectorIndex.
func (q *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health: %w", err)
	}
	return nil
}

// Close releases the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// buildFilter converts structured filters to keyword match conditions.
func buildFilter(f models.Filters) *qdrant.Filter {
	var must []*qdrant.Condition
	for _, kv := range [][2]string{
		{"city", f.City},
		{"category", f.Category},
		{"price_band", f.PriceBand},
	} {
		if kv[1] == "" {
			continue
		}
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   kv[0],
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: strings.ToLower(strings.TrimSpace(kv[1]))}},
				},
			},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}
