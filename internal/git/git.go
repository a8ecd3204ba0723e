package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	gogit "github.com/go-git/go-git/v5"
	"github.com/hashicorp/go-hclog"
)

// Repository is an opened working copy.
type Repository struct {
	repo   *gogit.Repository
	dir    string
	logger hclog.Logger
}

// Open opens an existing working copy rooted at dir.
func Open(dir string, logger hclog.Logger) (*Repository, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot open repository %s: %w", dir, err)
	}
	return &Repository{repo: repo, dir: dir, logger: logger}, nil
}

// CloneOrPull clones url into dir, or pulls the latest changes when dir already
// holds a working copy.
func CloneOrPull(ctx context.Context, url, dir string, logger hclog.Logger) (*Repository, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		r, err := Open(dir, logger)
		if err != nil {
			return nil, err
		}
		if err := r.pull(ctx); err != nil {
			return nil, err
		}
		return r, nil
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create clone directory: %w", err)
	}
	logger.Debug("cloning repository", "url", url, "targetFolder", dir)
	repo, err := gogit.PlainCloneContext(ctx, dir, false, &gogit.CloneOptions{URL: url})
	if err != nil {
		logger.Error("error occurred during clone", "error", err, "targetFolder", dir)
		return nil, fmt.Errorf("error occurred during clone: %w", err)
	}
	return &Repository{repo: repo, dir: dir, logger: logger}, nil
}

func (r *Repository) pull(ctx context.Context) error {
	w, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("error accessing worktree: %w", err)
	}
	r.logger.Debug("pulling latest changes", "targetFolder", r.dir)
	err = w.PullContext(ctx, &gogit.PullOptions{RemoteName: "origin"})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		r.logger.Error("error occurred during pull", "error", err, "targetFolder", r.dir)
		return fmt.Errorf("error occurred during pull: %w", err)
	}
	return nil
}

// Dir is the working copy root.
func (r *Repository) Dir() string { return r.dir }

// HeadCommit returns the hash HEAD points at.
func (r *Repository) HeadCommit() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("cannot resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// History returns a provenance lookup backed by this repository.
func (r *Repository) History() *BlameHistory {
	return NewBlameHistory(r.repo, r.logger)
}
