package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/moyoez/eventmedia/tool"
	"github.com/moyoez/eventmedia/types"
)

// GridFSStore keeps media in a GridFS bucket, one file per storage name.
type GridFSStore struct {
	client *mongo.Client
	bucket *gridfs.Bucket
	logger *log.Logger
}

// NewGridFSStore opens bucketName in db. chunkSizeKB <= 0 keeps the driver default.
func NewGridFSStore(client *mongo.Client, db *mongo.Database, bucketName string, chunkSizeKB int32) (*GridFSStore, error) {
	opts := options.GridFSBucket().SetName(bucketName)
	if chunkSizeKB > 0 {
		opts.SetChunkSizeBytes(chunkSizeKB * 1024)
	}
	bucket, err := gridfs.NewBucket(db, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open gridfs bucket %s: %w", bucketName, err)
	}
	return &GridFSStore{
		client: client,
		bucket: bucket,
		logger: tool.DefaultLogger.WithPrefix("gridfs"),
	}, nil
}

func (g *GridFSStore) IsAvailable(ctx context.Context) bool {
	if err := g.client.Ping(ctx, readpref.Primary()); err != nil {
		g.logger.Warnf("[BlobStore] ping failed: %v", err)
		return false
	}
	return true
}

func (g *GridFSStore) OpenUploadSink(ctx context.Context, name string, meta Metadata) (Sink, error) {
	doc := bson.D{
		{Key: "contentType", Value: meta.ContentType},
		{Key: "originalName", Value: meta.OriginalName},
		{Key: "contextKey", Value: meta.ContextKey},
		{Key: "declaredSize", Value: meta.DeclaredSize},
	}
	stream, err := g.bucket.OpenUploadStream(name, options.GridFSUpload().SetMetadata(doc))
	if err != nil {
		return nil, types.StorageUnavailableError("failed to open gridfs upload stream", err)
	}
	return &gridfsSink{stream: stream}, nil
}

func (g *GridFSStore) OpenDownloadStream(ctx context.Context, name string) (io.ReadCloser, error) {
	ds, err := g.bucket.OpenDownloadStreamByName(name)
	if err != nil {
		return nil, g.mapErr(name, err)
	}
	return ds, nil
}

func (g *GridFSStore) OpenRangeStream(ctx context.Context, name string, start, end int64) (io.ReadCloser, error) {
	ds, err := g.bucket.OpenDownloadStreamByName(name)
	if err != nil {
		return nil, g.mapErr(name, err)
	}
	start, end, err = clampRange(start, end, ds.GetFile().Length)
	if err != nil {
		_ = ds.Close()
		return nil, err
	}
	if start > 0 {
		if _, err := ds.Skip(start); err != nil {
			_ = ds.Close()
			return nil, types.StorageUnavailableError("failed to seek gridfs stream", err)
		}
	}
	return newLimitedReadCloser(ds, end-start+1), nil
}

// latest returns the newest revision stored under name, or nil.
func (g *GridFSStore) latest(ctx context.Context, name string) (*gridfs.File, error) {
	cursor, err := g.bucket.FindContext(ctx, bson.D{{Key: "filename", Value: name}},
		options.GridFSFind().SetSort(bson.D{{Key: "uploadDate", Value: -1}}).SetLimit(1))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	if !cursor.Next(ctx) {
		return nil, cursor.Err()
	}
	var file gridfs.File
	if err := cursor.Decode(&file); err != nil {
		return nil, err
	}
	return &file, nil
}

func (g *GridFSStore) Stat(ctx context.Context, name string) (Stat, error) {
	file, err := g.latest(ctx, name)
	if err != nil {
		return Stat{}, types.StorageUnavailableError("failed to stat gridfs file", err)
	}
	if file == nil {
		return Stat{}, nil
	}
	st := Stat{Exists: true, Size: file.Length}
	if file.Metadata != nil {
		if v, err := file.Metadata.LookupErr("contentType"); err == nil {
			st.ContentType, _ = v.StringValueOK()
		}
	}
	return st, nil
}

// Delete removes every revision stored under name.
func (g *GridFSStore) Delete(ctx context.Context, name string) error {
	cursor, err := g.bucket.FindContext(ctx, bson.D{{Key: "filename", Value: name}})
	if err != nil {
		return types.StorageUnavailableError("failed to look up gridfs file", err)
	}
	var files []gridfs.File
	if err := cursor.All(ctx, &files); err != nil {
		return types.StorageUnavailableError("failed to read gridfs file list", err)
	}
	for _, f := range files {
		if err := g.bucket.DeleteContext(ctx, f.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return types.StorageUnavailableError("failed to delete gridfs file", err)
		}
	}
	g.logger.Debugf("[BlobStore] deleted %s (%d revisions)", name, len(files))
	return nil
}

func (g *GridFSStore) mapErr(name string, err error) error {
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return types.NotFoundError("blob %s not found", name)
	}
	return types.StorageUnavailableError("gridfs read failed", err)
}

// gridfsSink wraps an upload stream. The driver flushes full chunks to the
// server inside Write, which is where backpressure comes from.
type gridfsSink struct {
	stream *gridfs.UploadStream
}

func (s *gridfsSink) Write(p []byte) (int, error) {
	n, err := s.stream.Write(p)
	if err != nil {
		return n, types.StorageUnavailableError("gridfs chunk write failed", err)
	}
	return n, nil
}

func (s *gridfsSink) Commit() (Ref, error) {
	if err := s.stream.Close(); err != nil {
		return "", types.StorageUnavailableError("failed to finalize gridfs file", err)
	}
	if oid, ok := s.stream.FileID.(primitive.ObjectID); ok {
		return Ref(oid.Hex()), nil
	}
	return Ref(fmt.Sprint(s.stream.FileID)), nil
}

// Abort drops the chunks written so far.
func (s *gridfsSink) Abort() error {
	return s.stream.Abort()
}
