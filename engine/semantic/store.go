// Package semantic stores article embeddings in Qdrant and answers
// similarity queries over them.
package semantic

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/paynews/paynews/engine/domain"
)

// Payload keys stored with every point.
const (
	KeyArticleID = "article_id"
	KeyTitle     = "title"
	KeyURL       = "url"
	KeySummary   = "summary"
)

// pointsAPI is the subset of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// Hit is a similarity search result.
type Hit struct {
	ArticleID string  `json:"article_id"`
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Summary   string  `json:"summary"`
	Score     float32 `json:"score"`
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	vs := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection)
	vs.conn = conn
	return vs, nil
}

// NewWithClients builds a store over existing clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// Collection returns the collection name.
func (v *VectorStore) Collection() string { return v.collection }

// EnsureCollection creates the collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims uint64) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dims,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// DeleteCollection deletes the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: v.collection})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return nil
}

// PointID maps an article id to a Qdrant point id. UUIDs are used as-is;
// anything else gets a stable name-based UUID.
func PointID(articleID string) string {
	if id, err := uuid.Parse(articleID); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("paynews:article:"+articleID)).String()
}

// UpsertArticle stores the embedding of a single article.
func (v *VectorStore) UpsertArticle(ctx context.Context, a domain.Article, embedding []float32) error {
	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(a.ID)}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: embedding}},
			},
			Payload: map[string]*pb.Value{
				KeyArticleID: stringValue(a.ID),
				KeyTitle:     stringValue(a.Title),
				KeyURL:       stringValue(a.URL),
				KeySummary:   stringValue(a.Summary),
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert article %s: %w", a.ID, err)
	}
	return nil
}

// DeleteByArticleID removes the point of an article.
func (v *VectorStore) DeleteByArticleID(ctx context.Context, articleID string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{fieldMatch(KeyArticleID, articleID)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete by article_id %s: %w", articleID, err)
	}
	return nil
}

// Search performs k-NN similarity search.
func (v *VectorStore) Search(ctx context.Context, embedding []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	hits := make([]Hit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		p := r.GetPayload()
		hits[i] = Hit{
			ArticleID: p[KeyArticleID].GetStringValue(),
			Title:     p[KeyTitle].GetStringValue(),
			URL:       p[KeyURL].GetStringValue(),
			Summary:   p[KeySummary].GetStringValue(),
			Score:     r.GetScore(),
		}
		if hits[i].ArticleID == "" {
			hits[i].ArticleID = r.GetId().GetUuid()
		}
	}
	return hits, nil
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
