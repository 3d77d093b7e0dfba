// Package mediaserver answers media reads with conditional and byte-range semantics.
package mediaserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/moyoez/eventmedia/blobstore"
	"github.com/moyoez/eventmedia/bytecache"
	"github.com/moyoez/eventmedia/metastore"
	"github.com/moyoez/eventmedia/tool"
	"github.com/moyoez/eventmedia/types"
)

// Request carries the parts of an HTTP read the server looks at.
type Request struct {
	FileName    string
	Method      string
	Range       string
	IfNoneMatch string
}

// Response is written out by the HTTP layer. Body is nil for 304 and HEAD.
// ContentLength is -1 when no Content-Length must be sent.
type Response struct {
	Status        int
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

type Server struct {
	meta   metastore.Store
	blobs  blobstore.Store
	cache  *bytecache.Cache
	cfg    types.ServingConfig
	hotMax int64
	logger *log.Logger
}

// New builds a server. hotMax is the largest non-video blob copied into the
// byte cache on a full read, 0 disables that.
func New(meta metastore.Store, blobs blobstore.Store, cache *bytecache.Cache, cfg types.ServingConfig, hotMax int64) *Server {
	if cfg.LookaheadBytes <= 0 {
		cfg.LookaheadBytes = tool.DefaultLookaheadBytes
	}
	if cfg.RangeCacheControl == "" {
		cfg.RangeCacheControl = tool.DefaultRangeCacheControl
	}
	if cfg.FullCacheControl == "" {
		cfg.FullCacheControl = tool.DefaultFullCacheControl
	}
	return &Server{
		meta:   meta,
		blobs:  blobs,
		cache:  cache,
		cfg:    cfg,
		hotMax: hotMax,
		logger: tool.DefaultLogger,
	}
}

func (s *Server) Serve(ctx context.Context, req Request) (*Response, error) {
	obj, err := s.meta.Get(ctx, req.FileName)
	if err != nil {
		return nil, err
	}

	src, err := s.resolve(ctx, obj, req.Range == "")
	if err != nil {
		return nil, err
	}
	size := src.Size()
	mime := obj.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}
	video := types.IsVideo(mime)

	var (
		rng     byteRange
		partial bool
	)
	switch {
	case req.Range != "":
		r, err := parseRange(req.Range, size, s.cfg.LookaheadBytes)
		if err != nil {
			// lenient: misbehaving players still get the object
			s.logger.Debugf("[Serve] %s: %v, serving full body", obj.FileName, err)
		} else {
			rng, partial = r, true
		}
	case video && size > 0:
		rng, partial = byteRange{start: 0, end: min(s.cfg.LookaheadBytes, size) - 1}, true
	}
	if !partial {
		rng = byteRange{start: 0, end: size - 1}
	}

	wholeETag := tool.HashETag(obj.FileName, obj.StorageKind, obj.BlobRef, size)
	etag := wholeETag
	if partial {
		etag = tool.HashETag(obj.FileName, rng.start, rng.end, size)
	}

	header := http.Header{}
	header.Set("ETag", etag)
	header.Set("Accept-Ranges", "bytes")
	if partial {
		header.Set("Cache-Control", s.cfg.RangeCacheControl)
	} else {
		header.Set("Cache-Control", s.cfg.FullCacheControl)
	}
	if !obj.CreatedAt.IsZero() {
		header.Set("Last-Modified", obj.CreatedAt.UTC().Format(http.TimeFormat))
	}

	if etagMatches(req.IfNoneMatch, wholeETag, etag) {
		return &Response{Status: http.StatusNotModified, Header: header, ContentLength: -1}, nil
	}

	header.Set("Content-Type", mime)
	length := int64(0)
	if size > 0 {
		length = rng.length()
	}
	header.Set("Content-Length", strconv.FormatInt(length, 10))
	status := http.StatusOK
	if partial {
		status = http.StatusPartialContent
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.start, rng.end, size))
	}

	resp := &Response{Status: status, Header: header, ContentLength: length}
	if req.Method == http.MethodHead {
		return resp, nil
	}
	body, err := src.Open(ctx, rng.start, rng.end)
	if err != nil {
		return nil, err
	}
	resp.Body = body
	s.logger.Debugf("[Serve] %s %d %s via %s", obj.FileName, status, header.Get("Content-Range"), src.Kind())
	return resp, nil
}

// resolve picks the read path for a descriptor. Each path falls back to the
// other before giving up.
func (s *Server) resolve(ctx context.Context, obj *types.MediaObject, fullRead bool) (source, error) {
	switch obj.StorageKind {
	case types.StorageInline:
		return s.resolveInline(ctx, obj)
	case types.StorageBlob:
		return s.resolveBlob(ctx, obj, fullRead)
	}
	return nil, fmt.Errorf("media %s has unknown storage kind %q", obj.FileName, obj.StorageKind)
}

func (s *Server) resolveInline(ctx context.Context, obj *types.MediaObject) (source, error) {
	if s.cache != nil {
		if e, ok := s.cache.Get(obj.FileName); ok {
			return &memorySource{data: e.Data, kind: "cache"}, nil
		}
	}
	data, err := base64.StdEncoding.DecodeString(obj.InlineData)
	if err != nil {
		s.logger.Warnf("[Serve] inline payload of %s is corrupt, trying blob store: %v", obj.FileName, err)
		st, statErr := s.blobs.Stat(ctx, obj.FileName)
		if statErr == nil && st.Exists {
			return &blobSource{store: s.blobs, cache: s.cache, name: obj.FileName, size: st.Size}, nil
		}
		return nil, fmt.Errorf("inline payload of %s is unreadable: %w", obj.FileName, err)
	}
	s.remember(obj, data)
	return &memorySource{data: data, kind: "inline"}, nil
}

func (s *Server) resolveBlob(ctx context.Context, obj *types.MediaObject, fullRead bool) (source, error) {
	if s.cache != nil {
		if e, ok := s.cache.Get(obj.FileName); ok {
			return &memorySource{data: e.Data, kind: "cache"}, nil
		}
	}
	st, err := s.blobs.Stat(ctx, obj.FileName)
	if err != nil {
		return nil, err
	}
	if !st.Exists {
		return nil, types.NotFoundError("blob for %s is missing", obj.FileName)
	}
	src := &blobSource{store: s.blobs, cache: s.cache, name: obj.FileName, size: st.Size}

	// small, fully read images are kept in memory for the next request
	if fullRead && s.cache != nil && s.hotMax > 0 && st.Size > 0 && st.Size <= s.hotMax && !types.IsVideo(obj.MimeType) {
		rc, err := s.blobs.OpenDownloadStream(ctx, obj.FileName)
		if err != nil {
			return src, nil
		}
		defer rc.Close()
		data, err := io.ReadAll(io.LimitReader(rc, st.Size))
		if err != nil || int64(len(data)) != st.Size {
			return src, nil
		}
		s.remember(obj, data)
		return &memorySource{data: data, kind: "blob"}, nil
	}
	return src, nil
}

func (s *Server) remember(obj *types.MediaObject, data []byte) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(obj.FileName, data, obj.MimeType); err != nil {
		s.logger.Debugf("[Serve] %s not cached: %v", obj.FileName, err)
	}
}
