package pipeline

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"weighbridge/internal"
	"weighbridge/internal/config"
	"weighbridge/internal/logging"
	"weighbridge/internal/sheet"
	"weighbridge/internal/storage"
	"weighbridge/internal/util"
)

var ErrDuplicateFile = errors.New("file already ingested")

type Processor struct {
	db     *storage.DB
	cfg    config.Config
	logger *slog.Logger
}

func NewProcessor(db *storage.DB, cfg config.Config, logger *slog.Logger) *Processor {
	return &Processor{db: db, cfg: cfg, logger: logging.OrDiscard(logger)}
}

type ProcessOptions struct {
	// AllowDuplicate ingests a file even when an earlier batch has the same hash.
	AllowDuplicate bool
}

type BatchResult struct {
	Path    string
	TraceID string
	Batch   internal.Batch
	// Err is set by ProcessFiles when the file could not be processed at all.
	Err error
}

// ProcessFile ingests one workbook as one batch. An unreadable file ends as
// an error batch with one FileError record and a nil error. Storage failures
// also fail the batch and are returned.
func (p *Processor) ProcessFile(path string, uploadDate time.Time, opts ProcessOptions) (BatchResult, error) {
	start := time.Now()
	res := BatchResult{Path: path, TraceID: traceID()}
	logger := p.logger.With("trace_id", res.TraceID, "file", filepath.Base(path))

	data, readErr := os.ReadFile(path)
	var hash string
	if readErr == nil {
		hash = fileHash(data)
	}

	if readErr == nil && !opts.AllowDuplicate {
		existing, err := p.db.FindBatchByHash(hash)
		if err != nil {
			return res, err
		}
		if existing != nil {
			return res, fmt.Errorf("%w: %s matches batch %s", ErrDuplicateFile, filepath.Base(path), existing.ID)
		}
	}

	batch := internal.Batch{
		ID:         uuid.NewString(),
		SourceFile: filepath.Base(path),
		FileHash:   hash,
		UploadDate: util.DateOnly(uploadDate),
		Status:     internal.BatchPending,
		CreatedAt:  start.UTC(),
	}
	if err := p.db.InsertBatch(batch); err != nil {
		return res, fmt.Errorf("insert batch: %w", err)
	}
	logger = logger.With("batch_id", batch.ID)

	if readErr != nil {
		logger.Warn("file unreadable", "err", readErr)
		failed, err := p.failBatch(batch, readErr, start)
		res.Batch = failed
		return res, err
	}

	book, err := sheet.OpenBytes(data, sheet.Options{Charset: p.cfg.XLSCharset})
	var ws *sheet.Sheet
	if err == nil {
		ws, err = book.First()
	}
	if err != nil {
		logger.Warn("workbook rejected", "err", err)
		res.Batch, err = p.failBatch(batch, err, start)
		return res, err
	}

	batch.Status = internal.BatchValidating
	if err := p.db.UpdateBatch(batch); err != nil {
		return p.abort(res, batch, fmt.Errorf("update batch: %w", err), start, logger)
	}

	snap, err := p.db.Snapshot()
	if err != nil {
		return p.abort(res, batch, fmt.Errorf("catalog snapshot: %w", err), start, logger)
	}

	out := RunSheet(ws, batch.ID, batch.UploadDate, snap, logger)

	now := time.Now().UTC()
	batch.Layout = out.Layout
	batch.Status = internal.BatchReady
	batch.Stats = out.Stats
	batch.Stats.ParsedAt = now.Format(time.RFC3339)
	batch.Stats.DurationMs = time.Since(start).Milliseconds()
	batch.ProcessedAt = &now
	if err := p.db.SaveBatchResults(batch, out.Tickets, out.Errors); err != nil {
		return p.abort(res, batch, fmt.Errorf("save batch: %w", err), start, logger)
	}

	logger.Info("batch processed",
		"layout", batch.Layout,
		"parsed", out.Stats.TicketsParsed,
		"valid", out.Stats.TicketsValid,
		"invalid", out.Stats.TicketsInvalid,
		"duplicates", out.Stats.DuplicatesDetected,
		"matched", out.Stats.Matched,
		"duration_ms", batch.Stats.DurationMs,
	)
	res.Batch = batch
	return res, nil
}

// abort marks the batch failed with cause and returns cause.
func (p *Processor) abort(res BatchResult, batch internal.Batch, cause error, start time.Time, logger *slog.Logger) (BatchResult, error) {
	logger.Error("batch aborted", "err", cause)
	batch.Stats = internal.BatchStats{}
	var err error
	res.Batch, err = p.failBatch(batch, cause, start)
	return res, errors.Join(cause, err)
}

func (p *Processor) failBatch(batch internal.Batch, cause error, start time.Time) (internal.Batch, error) {
	now := time.Now().UTC()
	reason := cause.Error()
	batch.Status = internal.BatchError
	batch.ErrorReason = &reason
	batch.ProcessedAt = &now
	batch.Stats.DurationMs = time.Since(start).Milliseconds()
	fileErr := internal.ErrorRecord{
		BatchID: batch.ID,
		Type:    internal.ErrFile,
		Message: reason,
		Raw:     map[string]any{"source_file": batch.SourceFile},
	}
	if err := p.db.SaveBatchResults(batch, nil, []internal.ErrorRecord{fileErr}); err != nil {
		return batch, fmt.Errorf("save failed batch: %w", err)
	}
	return batch, nil
}

// ProcessFiles ingests paths in parallel, at most cfg.IngestWorkers at a
// time. Per-file failures land in BatchResult.Err; the returned error is
// only set when ctx is cancelled.
func (p *Processor) ProcessFiles(ctx context.Context, paths []string, uploadDate time.Time, opts ProcessOptions) ([]BatchResult, error) {
	results := make([]BatchResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.cfg.IngestWorkers, 1))

	for i, path := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = BatchResult{Path: path, Err: err}
				return err
			}
			res, err := p.ProcessFile(path, uploadDate, opts)
			if err != nil {
				p.logger.Error("ingest failed", "file", path, "err", err)
				res.Err = err
			}
			res.Path = path
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

func fileHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func traceID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
