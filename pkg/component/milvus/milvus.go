// Package milvus wraps the Milvus v2 SDK for the chunk vector collection.
package milvus

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	milvusopts "github.com/kart-io/sentinel-rag/pkg/options/milvus"
)

// Field names of the chunk collection.
const (
	FieldID         = "id"
	FieldEmbedding  = "embedding"
	FieldSeq        = "seq"
	FieldContent    = "content"
	FieldDocumentID = "document_id"
	FieldFilename   = "filename"
	FieldChunkIndex = "chunk_index"
)

// OutputFields lists the scalar fields returned by Search.
var OutputFields = []string{FieldSeq, FieldContent, FieldDocumentID, FieldFilename, FieldChunkIndex}

// Client wraps the Milvus SDK client.
type Client struct {
	client *milvusclient.Client
	opts   *milvusopts.Options
}

// New creates a new Milvus client.
func New(ctx context.Context, opts *milvusopts.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("milvus options is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  opts.Address,
		Username: opts.Username,
		Password: opts.Password,
		DBName:   opts.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus at %s: %w", opts.Address, err)
	}

	return &Client{client: c, opts: opts}, nil
}

// Close closes the Milvus client connection.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}

// MetricType maps a distance metric name to the Milvus metric.
func MetricType(metric string) entity.MetricType {
	if metric == "cosine" {
		return entity.COSINE
	}
	return entity.L2
}

// EnsureCollection creates the chunk collection with an exact FLAT index
// when it does not exist, and loads it.
func (c *Client) EnsureCollection(ctx context.Context, name string, dim int, metric entity.MetricType) error {
	exists, err := c.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		schema := entity.NewSchema().
			WithName(name).
			WithDescription("RAG document chunks").
			WithAutoID(true).
			WithField(entity.NewField().WithName(FieldID).WithDataType(entity.FieldTypeInt64).WithIsPrimaryKey(true).WithIsAutoID(true)).
			WithField(entity.NewField().WithName(FieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dim))).
			WithField(entity.NewField().WithName(FieldSeq).WithDataType(entity.FieldTypeInt64)).
			WithField(entity.NewField().WithName(FieldContent).WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535)).
			WithField(entity.NewField().WithName(FieldDocumentID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
			WithField(entity.NewField().WithName(FieldFilename).WithDataType(entity.FieldTypeVarChar).WithMaxLength(1024)).
			WithField(entity.NewField().WithName(FieldChunkIndex).WithDataType(entity.FieldTypeInt64))

		if err := c.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(name, schema)); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idxTask, err := c.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, FieldEmbedding, index.NewFlatIndex(metric)))
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		if err := idxTask.Await(ctx); err != nil {
			return fmt.Errorf("failed to wait for index creation: %w", err)
		}
	}

	loadTask, err := c.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(name))
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for collection loading: %w", err)
	}
	return nil
}

// Row is one chunk to insert.
type Row struct {
	Embedding  []float32
	Seq        int64
	Content    string
	DocumentID string
	Filename   string
	ChunkIndex int64
}

// Insert inserts rows and flushes so they are immediately searchable.
func (c *Client) Insert(ctx context.Context, collection string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	n := len(rows)
	vectors := make([][]float32, n)
	seqs := make([]int64, n)
	contents := make([]string, n)
	docIDs := make([]string, n)
	filenames := make([]string, n)
	chunkIdx := make([]int64, n)
	for i, r := range rows {
		vectors[i] = r.Embedding
		seqs[i] = r.Seq
		contents[i] = r.Content
		docIDs[i] = r.DocumentID
		filenames[i] = r.Filename
		chunkIdx[i] = r.ChunkIndex
	}

	_, err := c.client.Insert(ctx, milvusclient.NewColumnBasedInsertOption(collection,
		column.NewColumnFloatVector(FieldEmbedding, len(vectors[0]), vectors),
		column.NewColumnInt64(FieldSeq, seqs),
		column.NewColumnVarChar(FieldContent, contents),
		column.NewColumnVarChar(FieldDocumentID, docIDs),
		column.NewColumnVarChar(FieldFilename, filenames),
		column.NewColumnInt64(FieldChunkIndex, chunkIdx),
	))
	if err != nil {
		return fmt.Errorf("failed to insert data: %w", err)
	}

	flushTask, err := c.client.Flush(ctx, milvusclient.NewFlushOption(collection))
	if err != nil {
		return fmt.Errorf("failed to flush collection: %w", err)
	}
	if err := flushTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for flush: %w", err)
	}
	return nil
}

// Hit is one search result.
type Hit struct {
	Score float32
	Row   Row
}

// Search performs a vector similarity search.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Hit, error) {
	results, err := c.client.Search(ctx, milvusclient.NewSearchOption(
		collection,
		topK,
		[]entity.Vector{entity.FloatVector(vector)},
	).WithANNSField(FieldEmbedding).WithOutputFields(OutputFields...))
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(results) == 0 {
		return []Hit{}, nil
	}

	rs := results[0]
	hits := make([]Hit, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		hits[i].Score = rs.Scores[i]
	}
	for _, field := range rs.Fields {
		switch col := field.(type) {
		case *column.ColumnVarChar:
			data := col.Data()
			for i := range hits {
				switch col.Name() {
				case FieldContent:
					hits[i].Row.Content = data[i]
				case FieldDocumentID:
					hits[i].Row.DocumentID = data[i]
				case FieldFilename:
					hits[i].Row.Filename = data[i]
				}
			}
		case *column.ColumnInt64:
			data := col.Data()
			for i := range hits {
				switch col.Name() {
				case FieldSeq:
					hits[i].Row.Seq = data[i]
				case FieldChunkIndex:
					hits[i].Row.ChunkIndex = data[i]
				}
			}
		}
	}
	return hits, nil
}

// DropCollection drops a collection; a missing collection is not an error.
func (c *Client) DropCollection(ctx context.Context, collection string) error {
	exists, err := c.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(collection))
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		return nil
	}
	if err := c.client.DropCollection(ctx, milvusclient.NewDropCollectionOption(collection)); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// RowCount returns the number of entities in a collection.
func (c *Client) RowCount(ctx context.Context, collection string) (int64, error) {
	stats, err := c.client.GetCollectionStats(ctx, milvusclient.NewGetCollectionStatsOption(collection))
	if err != nil {
		return 0, fmt.Errorf("failed to get collection stats: %w", err)
	}
	if val, ok := stats["row_count"]; ok {
		return strconv.ParseInt(val, 10, 64)
	}
	return 0, nil
}
