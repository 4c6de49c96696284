package indexer

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/indexflow/pkg/repository"
)

// request is one transformation: map the local file Source of ContentType
// and upload the result for EntityID under a name derived from Filename.
type request struct {
	ContentType string
	Source      string
	EntityID    string
	Filename    string
}

// handleResourceEvent transforms the resource metadata of the event's entity.
func (s *Service) handleResourceEvent(ctx context.Context, ev InboundEvent, log *zap.Logger) Result {
	contentType := ResourceContentType
	if !s.registry.Has(contentType) {
		log.Debug("no mapping for resource metadata, rejecting",
			zap.String("content_type", contentType),
			zap.Strings("mapped", s.registry.ContentTypes()),
		)
		return ResultRejected
	}

	text, err := s.repo.FetchResourceAsText(ctx, ev.EntityID)
	if err != nil {
		log.Error("failed to fetch resource", zap.Error(err))
		return ResultFailed
	}
	if text == "" {
		log.Error("repository returned no resource content")
		return ResultFailed
	}

	unlock := s.locks.Lock(ev.EntityID + "|" + contentType)
	defer unlock()

	scratch, cleanup, err := s.scratchDir()
	if err != nil {
		log.Error("failed to create scratch directory", zap.Error(err))
		return ResultFailed
	}
	defer cleanup()

	filename := ev.EntityID + "_metadata.json"
	source := filepath.Join(scratch, filename)
	if err := os.WriteFile(source, []byte(text), 0o600); err != nil {
		log.Error("failed to write resource to temporary file", zap.String("path", source), zap.Error(err))
		return ResultFailed
	}

	return s.applyAndUpload(ctx, scratch, request{
		ContentType: contentType,
		Source:      source,
		EntityID:    ev.EntityID,
		Filename:    filename,
	}, log)
}

// handleContentEvent transforms a locally stored file referenced by the event.
func (s *Service) handleContentEvent(ctx context.Context, ev InboundEvent, log *zap.Logger) Result {
	contentType := ev.ContentType()
	if !s.registry.Has(contentType) {
		log.Debug("no mapping for content type, rejecting",
			zap.String("content_type", contentType),
			zap.Strings("mapped", s.registry.ContentTypes()),
		)
		return ResultRejected
	}

	relativePath := ev.ContentPath()
	if relativePath == "" {
		log.Error("event carries no content path, cannot derive a filename")
		return ResultFailed
	}
	filename := baseName(relativePath)
	if filename == "" {
		log.Error("content path has no file name", zap.String("path", relativePath))
		return ResultFailed
	}

	contentURI := ev.ContentURI()
	u, err := url.Parse(contentURI)
	if err != nil {
		log.Error("malformed content uri", zap.String("uri", contentURI), zap.Error(err))
		return ResultFailed
	}
	if u.Scheme != "file" {
		log.Debug("content is not a local file, rejecting", zap.String("uri", contentURI))
		return ResultRejected
	}
	if u.Opaque != "" || u.Path == "" {
		log.Error("file uri carries no absolute path", zap.String("uri", contentURI))
		return ResultFailed
	}

	unlock := s.locks.Lock(ev.EntityID + "|" + contentType)
	defer unlock()

	scratch, cleanup, err := s.scratchDir()
	if err != nil {
		log.Error("failed to create scratch directory", zap.Error(err))
		return ResultFailed
	}
	defer cleanup()

	return s.applyAndUpload(ctx, scratch, request{
		ContentType: contentType,
		Source:      u.Path,
		EntityID:    ev.EntityID,
		Filename:    filename,
	}, log)
}

// applyAndUpload runs the mapping for req and uploads the produced artifact.
func (s *Service) applyAndUpload(ctx context.Context, scratch string, req request, log *zap.Logger) Result {
	rule := s.registry.Resolve(req.ContentType)
	artifactName := ArtifactName(req.Filename)

	source, err := filepath.Abs(req.Source)
	if err != nil {
		log.Error("failed to resolve source path", zap.String("source", req.Source), zap.Error(err))
		return ResultFailed
	}
	destination := filepath.Join(scratch, artifactName)

	ctx, span := s.tracer.Start(ctx, "indexer.transform", trace.WithAttributes(
		attribute.String("content.type", req.ContentType),
		attribute.String("mapping.rule", rule),
	))
	var output bytes.Buffer
	start := time.Now()
	outcome := s.runner.RunWithSinks(ctx, &output, &output, s.settings.Runtime, s.settings.Script, rule, source, destination)
	s.metrics.observeRun(outcome, time.Since(start))
	span.SetAttributes(
		attribute.String("process.status", outcome.Status.String()),
		attribute.Int("process.exit_code", outcome.ExitCode),
	)
	span.End()

	log.Debug("transformer finished",
		zap.String("rule", rule),
		zap.String("source", source),
		zap.String("destination", destination),
		zap.Stringer("status", outcome.Status),
		zap.Int("exit_code", outcome.ExitCode),
		zap.String("output", output.String()),
	)
	if !outcome.Succeeded() {
		log.Error("transformation failed",
			zap.Stringer("status", outcome.Status),
			zap.Int("exit_code", outcome.ExitCode),
			zap.Strings("stderr", outcome.Stderr),
			zap.Error(outcome.Err),
		)
		return ResultFailed
	}

	targetPath := generatedDir + "/" + artifactName
	if !s.upload(ctx, req.EntityID, targetPath, destination, log) {
		return ResultFailed
	}

	s.mirror(ctx, req, targetPath, destination, log)
	s.notify(ctx, req, targetPath, log)
	return ResultSucceeded
}

// upload stores the artifact at {entityId}/data/{targetPath}, stamping this
// handler as uploader. Only 201 Created counts as success.
func (s *Service) upload(ctx context.Context, entityID, targetPath, localFile string, log *zap.Logger) bool {
	info := repository.ContentInformation{
		ParentResource: entityID,
		RelativePath:   targetPath,
		MediaType:      "application/json",
		Uploader:       s.settings.HandlerID,
	}

	status, err := s.repo.UploadArtifact(ctx, entityID, targetPath, localFile, info)
	ok := err == nil && status == http.StatusCreated
	s.metrics.observeUpload(ok)

	switch {
	case err != nil:
		log.Error("failed to upload generated content", zap.String("target", targetPath), zap.Error(err))
	case !ok:
		log.Error("repository did not accept generated content", zap.String("target", targetPath), zap.Int("status", status))
	default:
		log.Info("generated content uploaded", zap.String("target", targetPath))
	}
	return ok
}

// mirror copies the artifact to object storage when a store is configured.
// Failures are logged only.
func (s *Service) mirror(ctx context.Context, req request, targetPath, localFile string, log *zap.Logger) {
	if s.store == nil {
		return
	}
	key := req.EntityID + "/" + targetPath
	metadata := map[string]string{
		"entity_id":    req.EntityID,
		"content_type": req.ContentType,
		"uploader":     s.settings.HandlerID,
	}
	if err := s.store.PutFile(ctx, key, localFile, "application/json", metadata); err != nil {
		log.Warn("failed to mirror artifact to object store", zap.String("key", key), zap.Error(err))
	}
}

// notify publishes an ArtifactGenerated event when a publisher is configured.
// Failures are logged only.
func (s *Service) notify(ctx context.Context, req request, targetPath string, log *zap.Logger) {
	if s.publisher == nil {
		return
	}
	event := ArtifactGenerated{
		ID:          uuid.NewString(),
		EntityID:    req.EntityID,
		ContentType: req.ContentType,
		Path:        req.EntityID + "/data/" + targetPath,
		Uploader:    s.settings.HandlerID,
		CreatedAt:   time.Now().UTC(),
	}
	headers := map[string]string{
		"event_id":   event.ID,
		"event_type": ArtifactGeneratedType,
	}
	if err := s.publisher.PublishJSON(ctx, req.EntityID, headers, event); err != nil {
		log.Warn("failed to publish artifact event", zap.String("event_id", event.ID), zap.Error(err))
	}
}

// scratchDir creates a private directory below the work dir for one call.
func (s *Service) scratchDir() (string, func(), error) {
	dir, err := os.MkdirTemp(s.settings.WorkDir, "indexflow-")
	if err != nil {
		return "", nil, err
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("failed to remove scratch directory", zap.String("dir", dir), zap.Error(err))
		}
	}, nil
}

// ArtifactName replaces the extension of filename with ArtifactSuffix, or
// appends the suffix when there is none: report.json -> report.elastic.json,
// report -> report.elastic.json.
func ArtifactName(filename string) string {
	if i := strings.LastIndex(filename, "."); i >= 0 {
		return filename[:i] + ArtifactSuffix
	}
	return filename + ArtifactSuffix
}

func baseName(relativePath string) string {
	if i := strings.LastIndex(relativePath, "/"); i >= 0 {
		return relativePath[i+1:]
	}
	return relativePath
}
