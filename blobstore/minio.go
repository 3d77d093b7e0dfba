package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/moyoez/eventmedia/tool"
	"github.com/moyoez/eventmedia/types"
)

var errSinkAborted = errors.New("upload aborted")

// MinioStore keeps media in an S3 compatible bucket.
type MinioStore struct {
	cl       *minio.Client
	bucket   string
	partSize uint64
	logger   *log.Logger
}

// NewMinioStore connects and creates the bucket when it does not exist yet.
func NewMinioStore(ctx context.Context, cfg types.MinioConfig) (*MinioStore, error) {
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	s := &MinioStore{
		cl:       cl,
		bucket:   cfg.Bucket,
		partSize: cfg.PartSize,
		logger:   tool.DefaultLogger.WithPrefix("minio"),
	}
	exists, err := cl.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cl.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		s.logger.Infof("[BlobStore] created bucket %s", cfg.Bucket)
	}
	return s, nil
}

func (s *MinioStore) IsAvailable(ctx context.Context) bool {
	ok, err := s.cl.BucketExists(ctx, s.bucket)
	if err != nil {
		s.logger.Warnf("[BlobStore] bucket check failed: %v", err)
		return false
	}
	return ok
}

// OpenUploadSink streams writes through an io.Pipe into PutObject with an unknown size.
// The pipe has no buffer, so Write returns only after the uploader consumed the bytes.
func (s *MinioStore) OpenUploadSink(ctx context.Context, name string, meta Metadata) (Sink, error) {
	pr, pw := io.Pipe()
	sink := &minioSink{store: s, name: name, pw: pw, done: make(chan struct{})}
	opts := minio.PutObjectOptions{
		ContentType: meta.ContentType,
		PartSize:    s.partSize,
		UserMetadata: map[string]string{
			"original-name": url.PathEscape(meta.OriginalName),
			"context-key":   meta.ContextKey,
		},
	}
	go func() {
		defer close(sink.done)
		info, err := s.cl.PutObject(ctx, s.bucket, name, pr, -1, opts)
		sink.info, sink.err = info, err
		// unblock a writer still waiting on the pipe
		pr.CloseWithError(err)
	}()
	return sink, nil
}

func (s *MinioStore) OpenDownloadStream(ctx context.Context, name string) (io.ReadCloser, error) {
	st, err := s.Stat(ctx, name)
	if err != nil {
		return nil, err
	}
	if !st.Exists {
		return nil, types.NotFoundError("blob %s not found", name)
	}
	obj, err := s.cl.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr(name, err)
	}
	return obj, nil
}

func (s *MinioStore) OpenRangeStream(ctx context.Context, name string, start, end int64) (io.ReadCloser, error) {
	st, err := s.Stat(ctx, name)
	if err != nil {
		return nil, err
	}
	if !st.Exists {
		return nil, types.NotFoundError("blob %s not found", name)
	}
	start, end, err = clampRange(start, end, st.Size)
	if err != nil {
		return nil, err
	}
	opts := minio.GetObjectOptions{}
	// SetRange takes inclusive bounds
	if err := opts.SetRange(start, end); err != nil {
		return nil, types.InvalidRangeError(fmt.Sprintf("bytes=%d-%d", start, end))
	}
	obj, err := s.cl.GetObject(ctx, s.bucket, name, opts)
	if err != nil {
		return nil, s.mapErr(name, err)
	}
	return obj, nil
}

func (s *MinioStore) Stat(ctx context.Context, name string) (Stat, error) {
	info, err := s.cl.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return Stat{}, nil
		}
		return Stat{}, types.StorageUnavailableError("failed to stat object", err)
	}
	return Stat{Exists: true, Size: info.Size, ContentType: info.ContentType}, nil
}

func (s *MinioStore) Delete(ctx context.Context, name string) error {
	if err := s.cl.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
		return types.StorageUnavailableError("failed to remove object", err)
	}
	return nil
}

func (s *MinioStore) mapErr(name string, err error) error {
	if isNoSuchKey(err) {
		return types.NotFoundError("blob %s not found", name)
	}
	return types.StorageUnavailableError("object read failed", err)
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || strings.EqualFold(code, "NotFound")
}

type minioSink struct {
	store *MinioStore
	name  string
	pw    *io.PipeWriter
	done  chan struct{}
	info  minio.UploadInfo
	err   error
}

func (s *minioSink) Write(p []byte) (int, error) {
	n, err := s.pw.Write(p)
	if err != nil {
		return n, types.StorageUnavailableError("object stream write failed", err)
	}
	return n, nil
}

func (s *minioSink) Commit() (Ref, error) {
	_ = s.pw.Close()
	<-s.done
	if s.err != nil {
		return "", types.StorageUnavailableError("failed to finalize object", s.err)
	}
	s.store.logger.Debugf("[BlobStore] stored %s (%d bytes, etag %s)", s.name, s.info.Size, s.info.ETag)
	return Ref(s.store.bucket + "/" + s.name), nil
}

// Abort stops the upload and removes whatever the store already kept.
func (s *minioSink) Abort() error {
	_ = s.pw.CloseWithError(errSinkAborted)
	<-s.done
	if s.err == nil {
		// upload finished before the abort landed
		return s.store.Delete(context.Background(), s.name)
	}
	return nil
}
