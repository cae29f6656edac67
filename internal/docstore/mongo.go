package docstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoDefaultDatabase  = "ordersync"
	mongoOperationTimeout = 5 * time.Second
)

// MongoStore maps collections onto MongoDB collections, using _id for the
// store-assigned id. CommitBatch runs in a multi-document transaction and
// therefore needs a replica set or sharded cluster.
type MongoStore struct {
	uri         string
	database    string
	indexFields []string
	opTimeout   time.Duration

	initOnce sync.Once
	initErr  error
	client   *mongo.Client
	db       *mongo.Database

	mu    sync.Mutex
	ready map[string]bool
}

func NewMongoStore(uri string) (*MongoStore, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	database := strings.Trim(parsed.Path, "/")
	if database == "" {
		database = mongoDefaultDatabase
	}
	return &MongoStore{
		uri:         uri,
		database:    database,
		indexFields: []string{"id"},
		opTimeout:   mongoOperationTimeout,
		ready:       map[string]bool{},
	}, nil
}

func (s *MongoStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := validateQuery(collection, q); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	coll, err := s.collection(ctx, collection)
	if err != nil {
		return nil, classifyMongoErr(err)
	}

	opts := options.Find()
	sort := bson.D{}
	if q.OrderBy != "" {
		direction := 1
		if q.Descending {
			direction = -1
		}
		sort = append(sort, bson.E{Key: q.OrderBy, Value: direction})
	}
	sort = append(sort, bson.E{Key: "_id", Value: 1})
	opts.SetSort(sort)
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}

	cursor, err := coll.Find(ctx, mongoFilter(q.Filters), opts)
	if err != nil {
		return nil, classifyMongoErr(err)
	}
	defer cursor.Close(ctx)
	out := []Document{}
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, classifyMongoErr(err)
		}
		doc := Document{Data: map[string]any{}}
		for k, v := range raw {
			if k == "_id" {
				doc.ID = fieldText(v)
				continue
			}
			doc.Data[k] = fromBSON(v)
		}
		out = append(out, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, classifyMongoErr(err)
	}
	return out, nil
}

func (s *MongoStore) Count(ctx context.Context, collection string, q Query) (int, error) {
	if err := validateQuery(collection, q); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	coll, err := s.collection(ctx, collection)
	if err != nil {
		return 0, classifyMongoErr(err)
	}
	n, err := coll.CountDocuments(ctx, mongoFilter(q.Filters))
	if err != nil {
		return 0, classifyMongoErr(err)
	}
	return int(n), nil
}

func (s *MongoStore) Insert(ctx context.Context, collection string, data map[string]any) (string, error) {
	if strings.TrimSpace(collection) == "" || data == nil {
		return "", ErrInvalidInput
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	coll, err := s.collection(ctx, collection)
	if err != nil {
		return "", classifyMongoErr(err)
	}
	id := NewID()
	if _, err := coll.InsertOne(ctx, mongoDocument(id, data)); err != nil {
		return "", classifyMongoErr(err)
	}
	return id, nil
}

func (s *MongoStore) UpdateByID(ctx context.Context, collection, id string, fields map[string]any) error {
	if strings.TrimSpace(collection) == "" || strings.TrimSpace(id) == "" {
		return ErrInvalidInput
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	coll, err := s.collection(ctx, collection)
	if err != nil {
		return classifyMongoErr(err)
	}
	set := bson.M{}
	for k, v := range fields {
		if k == "_id" {
			continue
		}
		set[k] = v
	}
	res, err := coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return classifyMongoErr(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) CommitBatch(ctx context.Context, writes []Write) error {
	if err := validateWrites(writes); err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	grouped := map[string][]any{}
	var order []string
	for _, w := range writes {
		if _, err := s.collection(ctx, w.Collection); err != nil {
			return classifyMongoErr(err)
		}
		id := w.ID
		if id == "" {
			id = NewID()
		}
		if _, ok := grouped[w.Collection]; !ok {
			order = append(order, w.Collection)
		}
		grouped[w.Collection] = append(grouped[w.Collection], mongoDocument(id, w.Data))
	}

	session, err := s.client.StartSession()
	if err != nil {
		return classifyMongoErr(err)
	}
	defer session.EndSession(ctx)
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		for _, name := range order {
			if _, err := s.db.Collection(name).InsertMany(sc, grouped[name]); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return classifyMongoErr(err)
}

func (s *MongoStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) ensureReady(ctx context.Context) error {
	s.initOnce.Do(func() {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(s.uri))
		if err != nil {
			s.initErr = err
			return
		}
		s.client = client
		s.db = client.Database(s.database)
	})
	return s.initErr
}

func (s *MongoStore) collection(ctx context.Context, name string) (*mongo.Collection, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	coll := s.db.Collection(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready[name] {
		return coll, nil
	}
	for _, field := range s.indexFields {
		model := mongo.IndexModel{Keys: bson.D{{Key: field, Value: 1}}}
		if _, err := coll.Indexes().CreateOne(ctx, model); err != nil {
			return nil, err
		}
	}
	s.ready[name] = true
	return coll, nil
}

func mongoFilter(filters []Filter) bson.D {
	out := bson.D{}
	for _, f := range filters {
		out = append(out, bson.E{Key: f.Field, Value: f.Value})
	}
	return out
}

func mongoDocument(id string, data map[string]any) bson.M {
	doc := bson.M{}
	for k, v := range data {
		doc[k] = v
	}
	doc["_id"] = id
	return doc
}

func fromBSON(v any) any {
	switch typed := v.(type) {
	case bson.M:
		out := make(map[string]any, len(typed))
		for k, item := range typed {
			out[k] = fromBSON(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(typed))
		for _, e := range typed {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = fromBSON(item)
		}
		return out
	case primitive.DateTime:
		return typed.Time().UTC().Format(time.RFC3339Nano)
	case int32:
		return float64(typed)
	case int64:
		return float64(typed)
	default:
		return typed
	}
}

func classifyMongoErr(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsTimeout(err) && !errors.Is(err, ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrDeadlineExceeded, err)
	}
	return classifyContextErr(err)
}
