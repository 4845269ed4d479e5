package results

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/NREL/dss-cosim/cosim"
)

// Collection names used by MongoSink.
const (
	SeriesCollection = "cosim_series"
	InfoCollection   = "cosim_info"
	defaultMongoDB   = "cosim"
)

// MongoSink stores one document per table row, tagged with the run ID.
// Both collections are written in one transaction, so the server must be a
// replica set or sharded cluster.
type MongoSink struct {
	store documentStore
}

var _ cosim.Sink = (*MongoSink)(nil)

// documentStore is the slice of the driver MongoSink uses.
type documentStore interface {
	// Transaction runs fn so that every insert it makes commits together.
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
	InsertMany(ctx context.Context, collection string, docs []interface{}) error
	Disconnect(ctx context.Context) error
}

// NewMongoSink connects to uri. The database is taken from the URI path,
// defaulting to "cosim".
func NewMongoSink(ctx context.Context, uri string) (*MongoSink, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	return &MongoSink{store: &mongoStore{client: client, db: client.Database(mongoDatabase(uri))}}, nil
}

func mongoDatabase(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return defaultMongoDB
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name
	}
	return defaultMongoDB
}

// Write inserts every row with one InsertMany per collection inside a single
// transaction: either the whole dataset is stored or none of it.
func (s *MongoSink) Write(ctx context.Context, ds *cosim.Dataset) error {
	series, info := seriesDocuments(ds), infoDocuments(ds)
	if len(series) == 0 && len(info) == 0 {
		return nil
	}
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		if len(series) > 0 {
			if err := s.store.InsertMany(ctx, SeriesCollection, series); err != nil {
				return fmt.Errorf("inserting series: %w", err)
			}
		}
		if len(info) > 0 {
			if err := s.store.InsertMany(ctx, InfoCollection, info); err != nil {
				return fmt.Errorf("inserting info tables: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing run %s: %w", ds.RunID, err)
	}
	return nil
}

// seriesDocuments builds one document per series row; metrics keep the
// record's column order.
func seriesDocuments(ds *cosim.Dataset) []interface{} {
	var docs []interface{}
	for _, t := range ds.Series {
		for _, row := range t.Rows {
			metrics := bson.D{}
			for _, k := range row.Values.Keys() {
				v, _ := row.Values.Get(k)
				metrics = append(metrics, bson.E{Key: k, Value: v})
			}
			docs = append(docs, bson.D{
				{Key: "run_id", Value: ds.RunID},
				{Key: "federate", Value: ds.Federate},
				{Key: "table", Value: t.Name},
				{Key: "step", Value: row.Step},
				{Key: "time", Value: row.Time},
				{Key: "metrics", Value: metrics},
			})
		}
	}
	return docs
}

func infoDocuments(ds *cosim.Dataset) []interface{} {
	var docs []interface{}
	for _, t := range ds.Info {
		for i, row := range t.Rows {
			cells := bson.D{}
			for j, c := range t.Columns {
				if j < len(row) {
					cells = append(cells, bson.E{Key: c, Value: row[j]})
				}
			}
			docs = append(docs, bson.D{
				{Key: "run_id", Value: ds.RunID},
				{Key: "federate", Value: ds.Federate},
				{Key: "table", Value: t.Name},
				{Key: "row", Value: i},
				{Key: "cells", Value: cells},
			})
		}
	}
	return docs
}

// Close disconnects the client.
func (s *MongoSink) Close() error {
	return s.store.Disconnect(context.Background())
}

type mongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func (m *mongoStore) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.client.UseSession(ctx, func(sc mongo.SessionContext) error {
		_, err := sc.WithTransaction(sc, func(tc mongo.SessionContext) (interface{}, error) {
			return nil, fn(tc)
		})
		return err
	})
}

func (m *mongoStore) InsertMany(ctx context.Context, collection string, docs []interface{}) error {
	_, err := m.db.Collection(collection).InsertMany(ctx, docs)
	return err
}

func (m *mongoStore) Disconnect(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
