// Package manifest keeps the generated front-end catalog module in step with the
// catalog store. The module is treated as text with two structural anchors: the
// leading import block and the food_list literal.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/Lixing-Zhang/foodprep/internal/metrics"
	"github.com/Lixing-Zhang/foodprep/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	opAdd    = "add"
	opRemove = "remove"
)

// Config locates the manifest file and the directory its images are stored in
type Config struct {
	Path      string
	ImagesDir string
}

type request struct {
	run   func() bool
	reply chan bool
}

// Synchronizer is the only writer of one manifest file. Every call is executed by a
// single worker goroutine, so read-modify-write cycles never interleave.
type Synchronizer struct {
	cfg    Config
	logger *slog.Logger

	requests  chan request
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSynchronizer starts the worker for cfg.Path. Call Close to stop it.
func NewSynchronizer(cfg Config, logger *slog.Logger) *Synchronizer {
	s := &Synchronizer{
		cfg:      cfg,
		logger:   logger.With("component", "manifest", "manifest_path", cfg.Path),
		requests: make(chan request),
		done:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s
}

func (s *Synchronizer) run() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.requests:
			req.reply <- req.run()
		case <-s.done:
			return
		}
	}
}

// Close stops the worker after the in-flight request, if any, completes
func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

// SyncAdd renders rec into the manifest, bootstrapping the file if it does not exist.
// It returns true when the manifest already holds rec or was rewritten with it.
func (s *Synchronizer) SyncAdd(ctx context.Context, rec models.CatalogRecord, imageFilename string) bool {
	log := s.logger.With("op", opAdd, "item_id", rec.ID)
	return s.submit(ctx, opAdd, log, func() (string, error) {
		return s.add(log, rec, imageFilename)
	})
}

// SyncRemove drops the entry for id. A missing manifest counts as already removed.
func (s *Synchronizer) SyncRemove(ctx context.Context, id string) bool {
	log := s.logger.With("op", opRemove, "item_id", id)
	return s.submit(ctx, opRemove, log, func() (string, error) {
		return s.remove(log, id)
	})
}

func (s *Synchronizer) submit(ctx context.Context, op string, log *slog.Logger, fn func() (string, error)) bool {
	req := request{
		run: func() bool {
			timer := prometheus.NewTimer(metrics.ManifestSyncDuration.WithLabelValues(op))
			defer timer.ObserveDuration()

			result, err := fn()
			return finish(log, op, result, err)
		},
		reply: make(chan bool, 1),
	}

	select {
	case s.requests <- req:
	case <-s.done:
		log.Error("manifest synchronizer is closed")
		metrics.ManifestSyncTotal.WithLabelValues(op, metrics.ResultFailure).Inc()
		return false
	case <-ctx.Done():
		log.Error("manifest sync abandoned before it started", "error", ctx.Err())
		metrics.ManifestSyncTotal.WithLabelValues(op, metrics.ResultFailure).Inc()
		return false
	}

	return <-req.reply
}

func (s *Synchronizer) add(log *slog.Logger, rec models.CatalogRecord, imageFilename string) (string, error) {
	text, err := s.readOrBootstrap(log)
	if err != nil {
		return metrics.ResultFailure, err
	}

	doc, err := Parse(text)
	if err != nil {
		return metrics.ResultFailure, err
	}

	if doc.HasEntry(rec.ID) {
		return metrics.ResultNoop, nil
	}

	entry, err := NewEntry(rec)
	if err != nil {
		return metrics.ResultFailure, err
	}
	path, err := importPath(s.cfg.Path, s.cfg.ImagesDir, imageFilename)
	if err != nil {
		return metrics.ResultFailure, err
	}
	if err := doc.InsertEntry(entry, path); err != nil {
		return metrics.ResultFailure, err
	}

	if err := writeFileAtomic(s.cfg.Path, []byte(doc.Serialize())); err != nil {
		return metrics.ResultFailure, err
	}
	return metrics.ResultSuccess, nil
}

func (s *Synchronizer) remove(log *slog.Logger, id string) (string, error) {
	data, err := os.ReadFile(s.cfg.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return metrics.ResultNoop, nil
	}
	if err != nil {
		return metrics.ResultFailure, fmt.Errorf("read manifest: %w", err)
	}
	text := string(data)

	doc, err := Parse(text)
	if err != nil {
		return metrics.ResultFailure, err
	}

	var drift *DriftWarning
	if err := doc.RemoveEntry(id); errors.As(err, &drift) {
		metrics.ManifestDriftTotal.Inc()
		log.Warn("manifest drift during removal",
			"image_imported", drift.ImageImported,
			"entry_listed", drift.EntryListed,
		)
	}

	out := doc.Serialize()
	if out == text {
		return metrics.ResultNoop, nil
	}
	if err := writeFileAtomic(s.cfg.Path, []byte(out)); err != nil {
		return metrics.ResultFailure, err
	}
	return metrics.ResultSuccess, nil
}

func (s *Synchronizer) readOrBootstrap(log *slog.Logger) (string, error) {
	data, err := os.ReadFile(s.cfg.Path)
	if err == nil {
		return string(data), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read manifest: %w", err)
	}

	tmpl := Template()
	if err := writeFileAtomic(s.cfg.Path, []byte(tmpl)); err != nil {
		return "", fmt.Errorf("bootstrap manifest: %w", err)
	}
	log.Info("bootstrapped manifest from template")
	return tmpl, nil
}

func finish(log *slog.Logger, op, result string, err error) bool {
	if err == nil {
		metrics.ManifestSyncTotal.WithLabelValues(op, result).Inc()
		log.Debug("manifest synchronized", "result", result)
		return true
	}

	metrics.ManifestSyncTotal.WithLabelValues(op, metrics.ResultFailure).Inc()

	var (
		verr *ValidationError
		perr *ParseError
	)
	switch {
	case errors.As(err, &verr):
		log.Warn("manifest entry rejected", "field", verr.Field, "value", verr.Value, "error", err)
	case errors.As(err, &perr):
		log.Error("manifest could not be parsed", "offset", perr.Offset, "error", err)
	default:
		log.Error("manifest write failed", "error", err)
	}
	return false
}
