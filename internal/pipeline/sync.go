package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"codetwin/internal/crawler"
	"codetwin/internal/extractor"
	"codetwin/internal/git"
	"codetwin/internal/logging"
	"codetwin/internal/storage"
	"codetwin/internal/telemetry"

	"github.com/hashicorp/go-hclog"
)

var (
	// ErrRepositoryUnavailable means the working copy could not be cloned,
	// pulled or opened. Nothing is written.
	ErrRepositoryUnavailable = errors.New("repository unavailable")

	// ErrStoreUnavailable means the store could not be read at the start of
	// a pass, or a batch write failed.
	ErrStoreUnavailable = errors.New("store unavailable")
)

const defaultBatchSize = 200

// SyncStore is the part of the store the synchronizer writes through.
type SyncStore interface {
	storage.UnitStore
	storage.EdgeStore
}

// Enricher fills summaries, embeddings and footprints of units about to be
// written. knowledge.Enricher satisfies it.
type Enricher interface {
	Enrich(ctx context.Context, units []*extractor.CodeUnit)
}

// SyncResult describes what one pass changed.
type SyncResult struct {
	FilesScanned   int
	FilesFailed    int
	UnitsSeen      int
	UnitsWritten   int
	UnitsUnchanged int
	EdgesWritten   int
	Orphans        []string
}

// Synchronizer brings the stored units and edges of one project in line with
// a working copy, writing only units whose fingerprint changed.
type Synchronizer struct {
	store     SyncStore
	history   git.History
	enricher  Enricher
	extractor *extractor.Extractor
	logger    hclog.Logger
	batchSize int
	workers   int
	now       func() time.Time
}

type SyncOption func(*Synchronizer)

func WithEnricher(e Enricher) SyncOption {
	return func(s *Synchronizer) { s.enricher = e }
}

func WithBatchSize(n int) SyncOption {
	return func(s *Synchronizer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithWorkers(n int) SyncOption {
	return func(s *Synchronizer) { s.workers = n }
}

func WithLogger(l hclog.Logger) SyncOption {
	return func(s *Synchronizer) { s.logger = logging.OrNull(l) }
}

// WithClock overrides the timestamp used when provenance is unknown.
func WithClock(now func() time.Time) SyncOption {
	return func(s *Synchronizer) { s.now = now }
}

func NewSynchronizer(store SyncStore, history git.History, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		store:     store,
		history:   history,
		logger:    hclog.NewNullLogger(),
		batchSize: defaultBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.history == nil {
		s.history = git.NoHistory{}
	}
	s.extractor = extractor.NewExtractor(extractor.WithLogger(s.logger.Named("extractor")))
	return s
}

// Sync runs one differential pass over root for project.
func (s *Synchronizer) Sync(ctx context.Context, project, root string) (*SyncResult, error) {
	stored, err := s.store.UnitFingerprints(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	res := &SyncResult{}
	seen := make(map[string]bool, len(stored))
	var pending []*extractor.CodeUnit
	var writeErr error

	cr := crawler.NewCrawler(s.extractor, crawler.WithWorkers(s.workers), crawler.WithLogger(s.logger.Named("crawler")))
	scanErr := cr.ScanProject(ctx, root, func(r crawler.FileResult) {
		res.FilesScanned++
		if r.Err != nil {
			// keep what we had for a file we could not read this time
			res.FilesFailed++
			prefix := r.Path + "::"
			for id := range stored {
				if strings.HasPrefix(id, prefix) {
					seen[id] = true
				}
			}
			return
		}
		for _, u := range r.Units {
			seen[u.Identifier] = true
			res.UnitsSeen++
			if fp, ok := stored[u.Identifier]; ok && fp == u.Fingerprint {
				res.UnitsUnchanged++
				telemetry.UnitsProcessed.WithLabelValues("unchanged").Inc()
				continue
			}
			pending = append(pending, u)
		}
		if writeErr == nil && len(pending) >= s.batchSize {
			writeErr = s.flush(ctx, project, pending, res)
			pending = nil
		}
	})
	if scanErr != nil {
		return res, fmt.Errorf("scan %s: %w", root, scanErr)
	}
	if writeErr == nil && len(pending) > 0 {
		writeErr = s.flush(ctx, project, pending, res)
	}
	if writeErr != nil {
		return res, fmt.Errorf("%w: %v", ErrStoreUnavailable, writeErr)
	}

	for id := range stored {
		if !seen[id] {
			res.Orphans = append(res.Orphans, id)
		}
	}
	sort.Strings(res.Orphans)
	if err := s.store.DeleteUnits(ctx, project, res.Orphans); err != nil {
		return res, fmt.Errorf("%w: delete orphans: %v", ErrStoreUnavailable, err)
	}
	telemetry.OrphansDeleted.Add(float64(len(res.Orphans)))

	s.logger.Info("sync complete", "project", project, "files", res.FilesScanned, "written", res.UnitsWritten,
		"unchanged", res.UnitsUnchanged, "orphans", len(res.Orphans))
	return res, nil
}

// flush writes one batch: provenance and enrichment first, then the unit
// upsert, then a replacement edge group for every (unit, edge type).
func (s *Synchronizer) flush(ctx context.Context, project string, units []*extractor.CodeUnit, res *SyncResult) error {
	for _, u := range units {
		s.attachProvenance(ctx, u)
	}
	if s.enricher != nil {
		s.enricher.Enrich(ctx, units)
	}

	if err := s.store.UpsertUnits(ctx, project, units); err != nil {
		return fmt.Errorf("upsert units: %w", err)
	}

	groups := make([]storage.EdgeGroup, 0, len(units)*len(extractor.EdgeTypes))
	for _, u := range units {
		rel := u.Relations()
		for _, t := range extractor.EdgeTypes {
			groups = append(groups, storage.EdgeGroup{Source: u.Identifier, Type: t, Targets: rel[t]})
			res.EdgesWritten += len(rel[t])
			telemetry.EdgesWritten.WithLabelValues(string(t)).Add(float64(len(rel[t])))
		}
	}
	if err := s.store.ReplaceEdges(ctx, project, groups); err != nil {
		return fmt.Errorf("replace edges: %w", err)
	}

	res.UnitsWritten += len(units)
	telemetry.UnitsProcessed.WithLabelValues("written").Add(float64(len(units)))
	return nil
}

func (s *Synchronizer) attachProvenance(ctx context.Context, u *extractor.CodeUnit) {
	p, err := s.history.LastModified(ctx, u.FilePath, u.StartLine, u.EndLine)
	if err != nil || p.ModifiedAt.IsZero() {
		if err != nil && !errors.Is(err, git.ErrNoHistory) {
			s.logger.Warn("provenance unavailable", "file", u.FilePath, "error", err)
		}
		telemetry.ProvenanceFailures.Inc()
		p = git.Provenance{Author: git.UnknownAuthor, ModifiedAt: s.now()}
	}
	if p.Author == "" {
		p.Author = git.UnknownAuthor
	}
	modified := p.ModifiedAt
	u.LastModifiedAt = &modified
	u.Author = p.Author
}
