package results

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/NREL/dss-cosim/cosim"
)

func TestSeriesDocuments_OnePerRowInColumnOrder(t *testing.T) {
	docs := seriesDocuments(sampleDataset())

	require.Len(t, docs, 2)
	first := docs[0].(bson.D)
	assert.Equal(t, bson.E{Key: "run_id", Value: "run-1"}, first[0])
	assert.Equal(t, bson.E{Key: "table", Value: cosim.MainTable}, first[2])
	assert.Equal(t, bson.E{Key: "metrics", Value: bson.D{
		{Key: "Total Power (kW)", Value: -120.5},
		{Key: "Total Loss (kW)", Value: 2.5},
	}}, first[5])

	second := docs[1].(bson.D)
	assert.Equal(t, bson.E{Key: "step", Value: 1}, second[3])
	assert.Equal(t, bson.E{Key: "metrics", Value: bson.D{{Key: "Total Power (kW)", Value: -118.0}}}, second[5])
}

func TestInfoDocuments_KeyCellsByColumn(t *testing.T) {
	docs := infoDocuments(sampleDataset())

	require.Len(t, docs, 1)
	doc := docs[0].(bson.D)
	assert.Equal(t, bson.E{Key: "cells", Value: bson.D{
		{Key: "name", Value: "s10a"},
		{Key: "kW", Value: "8.5"},
	}}, doc[4])
}

func TestMongoDatabase_FromURIPath(t *testing.T) {
	assert.Equal(t, "grid_runs", mongoDatabase("mongodb://localhost:27017/grid_runs"))
	assert.Equal(t, "cosim", mongoDatabase("mongodb://localhost:27017"))
	assert.Equal(t, "cosim", mongoDatabase("mongodb://localhost:27017/"))
}

func TestEmptyDataset_NoDocuments(t *testing.T) {
	ds := &cosim.Dataset{RunID: "r"}
	assert.Empty(t, seriesDocuments(ds))
	assert.Empty(t, infoDocuments(ds))
}

// txStore buffers inserts per transaction and keeps them only on commit.
type txStore struct {
	committed map[string][]interface{}
	failOn    string
	txCount   int
	staged    map[string][]interface{}
}

func newTxStore() *txStore { return &txStore{committed: make(map[string][]interface{})} }

func (s *txStore) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txCount++
	s.staged = make(map[string][]interface{})
	defer func() { s.staged = nil }()
	if err := fn(ctx); err != nil {
		return err
	}
	for coll, docs := range s.staged {
		s.committed[coll] = append(s.committed[coll], docs...)
	}
	return nil
}

func (s *txStore) InsertMany(_ context.Context, collection string, docs []interface{}) error {
	if collection == s.failOn {
		return errors.New("write conflict")
	}
	s.staged[collection] = append(s.staged[collection], docs...)
	return nil
}

func (s *txStore) Disconnect(context.Context) error { return nil }

func TestMongoSink_Write_CommitsBothCollectionsTogether(t *testing.T) {
	store := newTxStore()
	sink := &MongoSink{store: store}

	require.NoError(t, sink.Write(context.Background(), sampleDataset()))

	assert.Equal(t, 1, store.txCount)
	assert.Len(t, store.committed[SeriesCollection], 2)
	assert.Len(t, store.committed[InfoCollection], 1)
}

func TestMongoSink_Write_InfoFailureStoresNothing(t *testing.T) {
	// GIVEN a store whose info insert fails after the series insert succeeded
	store := newTxStore()
	store.failOn = InfoCollection
	sink := &MongoSink{store: store}

	// WHEN the dataset is written
	err := sink.Write(context.Background(), sampleDataset())

	// THEN the error surfaces and no series document was kept either
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inserting info tables")
	assert.Empty(t, store.committed[SeriesCollection])
	assert.Empty(t, store.committed[InfoCollection])
}

func TestMongoSink_Write_EmptyDatasetSkipsTransaction(t *testing.T) {
	store := newTxStore()
	sink := &MongoSink{store: store}

	require.NoError(t, sink.Write(context.Background(), &cosim.Dataset{RunID: "r"}))
	assert.Zero(t, store.txCount)
}
