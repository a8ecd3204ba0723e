package git

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/hashicorp/go-hclog"
)

// UnknownAuthor is reported when no history is available.
const UnknownAuthor = "unknown"

// ErrNoHistory means the path has no recorded commits.
var ErrNoHistory = errors.New("no history for path")

// Provenance is the last modification of a line range.
type Provenance struct {
	Author     string
	ModifiedAt time.Time
}

// History looks up who last touched a range of a file. Lines are 0-indexed
// and inclusive.
type History interface {
	LastModified(ctx context.Context, filePath string, startLine, endLine int) (Provenance, error)
}

// NoHistory is used for working copies that are not under version control.
type NoHistory struct{}

func (NoHistory) LastModified(context.Context, string, int, int) (Provenance, error) {
	return Provenance{}, ErrNoHistory
}

type blameLine struct {
	author string
	when   time.Time
}

// BlameHistory answers range lookups from a per-file blame of HEAD, falling
// back to the file's last commit when blame is unavailable.
type BlameHistory struct {
	repo   *gogit.Repository
	logger hclog.Logger

	mu    sync.Mutex
	files map[string][]blameLine
	head  *object.Commit
}

func NewBlameHistory(repo *gogit.Repository, logger hclog.Logger) *BlameHistory {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &BlameHistory{repo: repo, logger: logger, files: make(map[string][]blameLine)}
}

func (h *BlameHistory) LastModified(ctx context.Context, filePath string, startLine, endLine int) (Provenance, error) {
	if err := ctx.Err(); err != nil {
		return Provenance{}, err
	}
	filePath = strings.ReplaceAll(filePath, "\\", "/")

	lines, err := h.blame(filePath)
	if err == nil {
		if p, ok := latestInRange(lines, startLine, endLine); ok {
			return p, nil
		}
	} else {
		h.logger.Debug("blame unavailable, using file log", "file", filePath, "error", err)
	}
	return h.lastCommit(filePath)
}

func (h *BlameHistory) blame(filePath string) ([]blameLine, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if lines, ok := h.files[filePath]; ok {
		return lines, nil
	}
	if h.head == nil {
		ref, err := h.repo.Head()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve HEAD: %w", err)
		}
		commit, err := h.repo.CommitObject(ref.Hash())
		if err != nil {
			return nil, fmt.Errorf("cannot load HEAD commit: %w", err)
		}
		h.head = commit
	}

	res, err := gogit.Blame(h.head, filePath)
	if err != nil {
		return nil, err
	}
	lines := make([]blameLine, len(res.Lines))
	for i, l := range res.Lines {
		lines[i] = blameLine{author: l.Author, when: l.Date}
	}
	h.files[filePath] = lines
	return lines, nil
}

func latestInRange(lines []blameLine, start, end int) (Provenance, bool) {
	if start < 0 {
		start = 0
	}
	if end >= len(lines) {
		end = len(lines) - 1
	}
	var p Provenance
	found := false
	for i := start; i <= end; i++ {
		if !found || lines[i].when.After(p.ModifiedAt) {
			p = Provenance{Author: lines[i].author, ModifiedAt: lines[i].when}
			found = true
		}
	}
	return p, found
}

func (h *BlameHistory) lastCommit(filePath string) (Provenance, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	iter, err := h.repo.Log(&gogit.LogOptions{FileName: &filePath})
	if err != nil {
		return Provenance{}, fmt.Errorf("cannot read log for %s: %w", filePath, err)
	}
	defer iter.Close()

	commit, err := iter.Next()
	if err != nil || commit == nil {
		return Provenance{}, ErrNoHistory
	}
	return Provenance{Author: commit.Author.Email, ModifiedAt: commit.Author.When}, nil
}
