// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

// Package qdrant serves the semantic mode from a Qdrant collection over
// gRPC. Points are keyed by a UUID derived from the document id, and the
// whole document travels in the point payload.
package qdrant

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	qc "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/sorcerer-dev/sorcerer/internal/index"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

const defaultLimit = 50

// pointNamespace seeds the name-based UUIDs used as point ids.
var pointNamespace = uuid.MustParse("6f1c8f0e-5b7a-4f57-9a51-2b1f3c0d9e41")

func init() {
	index.RegisterFactory("qdrant", func(ctx context.Context, spec index.Spec, env index.Env) (index.IndexStore, error) {
		s, err := Dial(spec.URL, spec.Collection, Options{
			APIKey:       spec.APIKey,
			Embedder:     env.Embedder,
			DefaultTrust: spec.DefaultTrust,
		})
		if err != nil {
			return nil, err
		}
		if err := s.EnsureCollection(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	})
}

// Options configures a Store.
type Options struct {
	APIKey       string
	Embedder     index.Embedder
	DefaultTrust float32
}

// Store is a Qdrant-backed IndexStore.
type Store struct {
	conn         *grpc.ClientConn
	points       qc.PointsClient
	collections  qc.CollectionsClient
	collection   string
	apiKey       string
	embedder     index.Embedder
	defaultTrust float32
}

var (
	_ index.IndexStore = (*Store)(nil)
	_ index.Rescorer   = (*Store)(nil)
)

// Dial connects to the Qdrant gRPC endpoint at addr (host:port).
func Dial(addr, collection string, opts Options) (*Store, error) {
	if addr == "" || collection == "" {
		return nil, sorcerr.New(sorcerr.CodeIndexStorageInvalidInput, "qdrant backend needs an address and a collection")
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeDatabaseOpenFailure, "connecting to qdrant at %s: %w", addr, err)
	}
	s, err := NewWithConn(conn, collection, opts)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	s.conn = conn
	return s, nil
}

// NewWithConn builds a Store over an existing connection. The caller keeps
// ownership of conn.
func NewWithConn(conn grpc.ClientConnInterface, collection string, opts Options) (*Store, error) {
	if opts.Embedder == nil {
		return nil, sorcerr.New(sorcerr.CodeIndexStorageInvalidInput, "qdrant backend requires an embedder")
	}
	if opts.DefaultTrust == 0 {
		opts.DefaultTrust = index.DefaultTrustScore
	}
	return &Store{
		points:       qc.NewPointsClient(conn),
		collections:  qc.NewCollectionsClient(conn),
		collection:   collection,
		apiKey:       opts.APIKey,
		embedder:     opts.Embedder,
		defaultTrust: opts.DefaultTrust,
	}, nil
}

func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Store) rpcContext(ctx context.Context) context.Context {
	if s.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", s.apiKey)
}

// EnsureCollection creates the collection with cosine distance when it
// does not exist yet.
func (s *Store) EnsureCollection(ctx context.Context) error {
	ctx = s.rpcContext(ctx)
	list, err := s.collections.List(ctx, &qc.ListCollectionsRequest{})
	if err != nil {
		return sorcerr.Errorf(sorcerr.CodeDatabaseOpenFailure, "listing qdrant collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}
	_, err = s.collections.Create(ctx, &qc.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &qc.VectorsConfig{
			Config: &qc.VectorsConfig_Params{
				Params: &qc.VectorParams{
					Size:     uint64(s.embedder.Dimensions()),
					Distance: qc.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return sorcerr.Errorf(sorcerr.CodeDatabaseMigrateFailure, "creating qdrant collection %s: %w", s.collection, err)
	}
	return nil
}

func pointID(id string) *qc.PointId {
	return &qc.PointId{PointIdOptions: &qc.PointId_Uuid{Uuid: uuid.NewSHA1(pointNamespace, []byte(id)).String()}}
}

func str(v string) *qc.Value  { return &qc.Value{Kind: &qc.Value_StringValue{StringValue: v}} }
func num(v float64) *qc.Value { return &qc.Value{Kind: &qc.Value_DoubleValue{DoubleValue: v}} }
func integer(v int64) *qc.Value {
	return &qc.Value{Kind: &qc.Value_IntegerValue{IntegerValue: v}}
}

func toPayload(d *index.Document) (map[string]*qc.Value, error) {
	tags, err := json.Marshal(d.Metadata.Tags)
	if err != nil {
		return nil, err
	}
	entities, err := json.Marshal(d.Entities)
	if err != nil {
		return nil, err
	}
	return map[string]*qc.Value{
		"id":         str(d.ID),
		"title":      str(d.Metadata.Title),
		"content":    str(d.Content),
		"source":     str(d.Metadata.Source),
		"tags":       str(string(tags)),
		"entities":   str(string(entities)),
		"trust":      num(float64(d.Metadata.TrustScore)),
		"created_at": integer(d.Metadata.CreatedAt.UnixNano()),
		"updated_at": integer(d.Metadata.UpdatedAt.UnixNano()),
	}, nil
}

func (s *Store) fromPayload(p map[string]*qc.Value) *index.Document {
	d := &index.Document{
		ID:      p["id"].GetStringValue(),
		Content: p["content"].GetStringValue(),
		Metadata: index.Metadata{
			Title:      p["title"].GetStringValue(),
			Source:     p["source"].GetStringValue(),
			TrustScore: s.defaultTrust,
			CreatedAt:  time.Unix(0, p["created_at"].GetIntegerValue()).UTC(),
			UpdatedAt:  time.Unix(0, p["updated_at"].GetIntegerValue()).UTC(),
		},
	}
	if v, ok := p["trust"]; ok {
		d.Metadata.TrustScore = index.ClampTrust(float32(v.GetDoubleValue()))
	}
	_ = json.Unmarshal([]byte(p["tags"].GetStringValue()), &d.Metadata.Tags)
	_ = json.Unmarshal([]byte(p["entities"].GetStringValue()), &d.Entities)
	return d
}

func withPayload() *qc.WithPayloadSelector {
	return &qc.WithPayloadSelector{SelectorOptions: &qc.WithPayloadSelector_Enable{Enable: true}}
}

func (s *Store) Insert(ctx context.Context, doc *index.Document) (string, error) {
	d := doc.Clone()
	if err := index.Prepare(d, time.Now()); err != nil {
		return "", err
	}
	vec := d.Embedding
	if len(vec) == 0 {
		var err error
		vec, err = s.embedder.Embed(ctx, d.Metadata.Title+"\n"+d.Content)
		if err != nil {
			return "", sorcerr.Wrap(err, sorcerr.CodeIndexStorageFailure, "embedding document", sorcerr.FieldDocumentID(d.ID))
		}
	}
	if err := s.upsert(ctx, d, vec); err != nil {
		return "", err
	}
	return d.ID, nil
}

func (s *Store) upsert(ctx context.Context, d *index.Document, vec []float32) error {
	payload, err := toPayload(d)
	if err != nil {
		return sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "encoding payload for %s: %w", d.ID, err)
	}
	wait := true
	_, err = s.points.Upsert(s.rpcContext(ctx), &qc.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*qc.PointStruct{{
			Id:      pointID(d.ID),
			Vectors: &qc.Vectors{VectorsOptions: &qc.Vectors_Vector{Vector: &qc.Vector{Data: vec}}},
			Payload: payload,
		}},
	})
	if err != nil {
		return sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "upserting %s: %w", d.ID, err)
	}
	return nil
}

func (s *Store) retrieve(ctx context.Context, id string, withVectors bool) (*qc.RetrievedPoint, error) {
	req := &qc.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qc.PointId{pointID(id)},
		WithPayload:    withPayload(),
	}
	if withVectors {
		req.WithVectors = &qc.WithVectorsSelector{SelectorOptions: &qc.WithVectorsSelector_Enable{Enable: true}}
	}
	resp, err := s.points.Get(s.rpcContext(ctx), req)
	if err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "fetching %s: %w", id, err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, nil
	}
	return resp.GetResult()[0], nil
}

func (s *Store) Get(ctx context.Context, id string) (*index.Document, bool, error) {
	p, err := s.retrieve(ctx, id, false)
	if err != nil || p == nil {
		return nil, false, err
	}
	return s.fromPayload(p.GetPayload()), true, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	p, err := s.retrieve(ctx, id, false)
	if err != nil || p == nil {
		return false, err
	}
	wait := true
	_, err = s.points.Delete(s.rpcContext(ctx), &qc.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &qc.PointsSelector{
			PointsSelectorOneOf: &qc.PointsSelector_Points{Points: &qc.PointsIdsList{Ids: []*qc.PointId{pointID(id)}}},
		},
	})
	if err != nil {
		return false, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "deleting %s: %w", id, err)
	}
	return true, nil
}

// Rescore rewrites the stored point with the new trust score.
func (s *Store) Rescore(ctx context.Context, id string, trust float32) (bool, error) {
	if trust < 0 || trust > 1 || trust != trust {
		return false, sorcerr.Errorf(sorcerr.CodeIndexStorageInvalidInput, "trust score %v outside [0, 1]", trust)
	}
	p, err := s.retrieve(ctx, id, true)
	if err != nil || p == nil {
		return false, err
	}
	d := s.fromPayload(p.GetPayload())
	d.Metadata.TrustScore = trust
	if err := s.upsert(ctx, d, p.GetVectors().GetVector().GetData()); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Search(ctx context.Context, req index.Request) ([]index.Match, error) {
	vec := req.Vector
	if len(vec) == 0 {
		if req.Text == "" {
			return nil, sorcerr.New(sorcerr.CodeIndexQueryInvalid, "semantic query needs text or a vector")
		}
		var err error
		vec, err = s.embedder.Embed(ctx, req.Text)
		if err != nil {
			return nil, sorcerr.Wrap(err, sorcerr.CodeIndexQueryFailure, "embedding query")
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	resp, err := s.points.Search(s.rpcContext(ctx), &qc.SearchPoints{
		CollectionName: s.collection,
		Vector:         vec,
		Limit:          uint64(limit),
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexQueryFailure, "qdrant search: %w", err)
	}

	out := make([]index.Match, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		conf := index.SimilarityConfidence(p.GetScore())
		if conf == 0 {
			continue
		}
		out = append(out, index.Match{Document: s.fromPayload(p.GetPayload()), Confidence: conf})
	}
	return out, nil
}
