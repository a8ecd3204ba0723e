package crawler

import (
	"context"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"

	"codetwin/internal/extractor"
	"codetwin/internal/logging"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
)

// FileResult is the parse outcome of one file. Err is set when the file
// could not be read; the units are then empty.
type FileResult struct {
	Path  string
	Units []*extractor.CodeUnit
	Err   error
}

// Crawler scans a directory for source files.
type Crawler struct {
	extractor *extractor.Extractor
	logger    hclog.Logger
	workers   int
}

type Option func(*Crawler)

func WithWorkers(n int) Option {
	return func(c *Crawler) {
		if n > 0 {
			c.workers = n
		}
	}
}

func WithLogger(l hclog.Logger) Option {
	return func(c *Crawler) {
		c.logger = logging.OrNull(l)
	}
}

// NewCrawler creates a new crawler instance.
func NewCrawler(ext *extractor.Extractor, opts ...Option) *Crawler {
	c := &Crawler{
		extractor: ext,
		logger:    hclog.NewNullLogger(),
		workers:   runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListFiles returns the repository-relative, slash-separated paths of every
// file the extractor would parse, sorted.
func (c *Crawler) ListFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && extractor.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !extractor.ShouldProcess(rel) || extractor.LanguageFor(rel) == "" {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ScanProject parses every eligible file under root in parallel and hands
// the results to onFile one at a time, in path order. Unreadable files are
// reported through FileResult.Err and do not stop the scan.
func (c *Crawler) ScanProject(ctx context.Context, root string, onFile func(FileResult)) error {
	files, err := c.ListFiles(root)
	if err != nil {
		return err
	}

	results := make([]FileResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			units, err := c.extractor.ParseFile(root, f)
			if err != nil {
				c.logger.Warn("skipping unreadable file", "file", f, "error", err)
			}
			results[i] = FileResult{Path: f, Units: units, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, r := range results {
		onFile(r)
	}
	return nil
}
