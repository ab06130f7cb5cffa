package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	git "github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	log "github.com/sirupsen/logrus"
)

// GitOptions configures the git storage backend.
type GitOptions struct {
	RemoteURL   string
	Branch      string
	Username    string
	Password    string
	AuthorName  string
	AuthorEmail string
}

// GitBackend keeps the file backend's layout inside a git worktree and
// commits after every state mutation, so `git log` is the audit trail
// for credential state, health entries and config documents. When a
// remote is configured commits are mirrored there best-effort; the
// local repository stays authoritative.
type GitBackend struct {
	*FileBackend
	dir  string
	opts GitOptions
	repo *git.Repository
}

// NewGitBackend creates a git-audited storage backend rooted at dir.
func NewGitBackend(dir string, opts GitOptions) *GitBackend {
	if opts.AuthorName == "" {
		opts.AuthorName = "routecodex"
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = "routecodex@localhost"
	}
	return &GitBackend{
		FileBackend: NewFileBackend(dir),
		dir:         dir,
		opts:        opts,
	}
}

func (g *GitBackend) Initialize(ctx context.Context) error {
	if err := g.FileBackend.Initialize(ctx); err != nil {
		return err
	}

	repo, err := git.PlainOpen(g.dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(g.dir, false)
	}
	if err != nil {
		return fmt.Errorf("open git state repository %s: %w", g.dir, err)
	}
	g.repo = repo

	if err := g.ensureBranch(); err != nil {
		return fmt.Errorf("select git branch %q: %w", g.opts.Branch, err)
	}
	if err := g.ensureRemote(); err != nil {
		return fmt.Errorf("configure git remote: %w", err)
	}

	// Anything already sitting in the worktree (state written before a
	// crash, files dropped in by hand) gets adopted into history now.
	return g.commit(ctx, "storage: adopt existing state")
}

func (g *GitBackend) Close() error {
	if err := g.FileBackend.Close(); err != nil {
		return err
	}
	if g.repo == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.commit(ctx, "storage: flush on close")
}

// ensureBranch points HEAD at the configured branch. On a fresh
// repository HEAD is unborn, so the first commit lands directly on it;
// on an existing repository we check out, creating the branch if needed.
func (g *GitBackend) ensureBranch() error {
	if g.opts.Branch == "" {
		return nil
	}
	ref := plumbing.NewBranchReferenceName(g.opts.Branch)

	head, err := g.repo.Head()
	if err != nil {
		return g.repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, ref))
	}
	if head.Name() == ref {
		return nil
	}

	wt, err := g.repo.Worktree()
	if err != nil {
		return err
	}
	_, refErr := g.repo.Reference(ref, true)
	return wt.Checkout(&git.CheckoutOptions{Branch: ref, Create: refErr != nil})
}

func (g *GitBackend) ensureRemote() error {
	if g.opts.RemoteURL == "" {
		return nil
	}
	if _, err := g.repo.Remote("origin"); err == nil {
		return nil
	} else if !errors.Is(err, git.ErrRemoteNotFound) {
		return err
	}
	_, err := g.repo.CreateRemote(&gitcfg.RemoteConfig{
		Name: "origin",
		URLs: []string{g.opts.RemoteURL},
	})
	return err
}

// commit stages the whole worktree and commits it. A clean worktree is
// not an error; it just means the mutation did not change bytes on disk.
func (g *GitBackend) commit(ctx context.Context, message string) error {
	wt, err := g.repo.Worktree()
	if err != nil {
		return fmt.Errorf("git worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("git add: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("git status: %w", err)
	}
	if status.IsClean() {
		return nil
	}

	_, err = wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  g.opts.AuthorName,
			Email: g.opts.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("git commit: %w", err)
	}

	g.push(ctx)
	return nil
}

// push mirrors history to the configured remote. Failures are logged
// and swallowed: remote outages must never fail a storage write.
func (g *GitBackend) push(ctx context.Context) {
	if g.opts.RemoteURL == "" {
		return
	}
	opts := &git.PushOptions{RemoteName: "origin"}
	if g.opts.Username != "" {
		opts.Auth = &githttp.BasicAuth{Username: g.opts.Username, Password: g.opts.Password}
	}
	if err := g.repo.PushContext(ctx, opts); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		log.WithError(err).Warn("git storage push failed, keeping local history")
	}
}

// Mutations delegate to the file backend, then commit the result.

func (g *GitBackend) SetCredentialState(ctx context.Context, id string, state json.RawMessage) error {
	if err := g.FileBackend.SetCredentialState(ctx, id, state); err != nil {
		return err
	}
	return g.commit(ctx, "credential state: set "+id)
}

func (g *GitBackend) DeleteCredentialState(ctx context.Context, id string) error {
	if err := g.FileBackend.DeleteCredentialState(ctx, id); err != nil {
		return err
	}
	return g.commit(ctx, "credential state: delete "+id)
}

func (g *GitBackend) BatchSetCredentialStates(ctx context.Context, states map[string]json.RawMessage) error {
	if err := g.FileBackend.BatchSetCredentialStates(ctx, states); err != nil {
		return err
	}
	return g.commit(ctx, fmt.Sprintf("credential state: batch set %d entries", len(states)))
}

func (g *GitBackend) BatchDeleteCredentialStates(ctx context.Context, ids []string) error {
	if err := g.FileBackend.BatchDeleteCredentialStates(ctx, ids); err != nil {
		return err
	}
	return g.commit(ctx, fmt.Sprintf("credential state: batch delete %d entries", len(ids)))
}

func (g *GitBackend) SetHealthEntry(ctx context.Context, key string, entry json.RawMessage) error {
	if err := g.FileBackend.SetHealthEntry(ctx, key, entry); err != nil {
		return err
	}
	return g.commit(ctx, "health entry: set "+key)
}

func (g *GitBackend) DeleteHealthEntry(ctx context.Context, key string) error {
	if err := g.FileBackend.DeleteHealthEntry(ctx, key); err != nil {
		return err
	}
	return g.commit(ctx, "health entry: delete "+key)
}

// IncrementUsage intentionally does not commit. Counters tick far too
// often for one commit each; they land in the worktree immediately and
// ride along with the next committed mutation (or the flush on close).
func (g *GitBackend) IncrementUsage(ctx context.Context, key string, field string, delta int64) error {
	return g.FileBackend.IncrementUsage(ctx, key, field, delta)
}

func (g *GitBackend) ResetUsage(ctx context.Context, key string) error {
	if err := g.FileBackend.ResetUsage(ctx, key); err != nil {
		return err
	}
	return g.commit(ctx, "usage: reset "+key)
}

func (g *GitBackend) SetConfigDoc(ctx context.Context, key string, doc json.RawMessage) error {
	if err := g.FileBackend.SetConfigDoc(ctx, key, doc); err != nil {
		return err
	}
	return g.commit(ctx, "config doc: set "+key)
}

func (g *GitBackend) DeleteConfigDoc(ctx context.Context, key string) error {
	if err := g.FileBackend.DeleteConfigDoc(ctx, key); err != nil {
		return err
	}
	return g.commit(ctx, "config doc: delete "+key)
}

// ExportData exports all data for backup
func (g *GitBackend) ExportData(ctx context.Context) (*Export, error) {
	return exportDataCommon(ctx, "git", g)
}

// ImportData imports data from backup
func (g *GitBackend) ImportData(ctx context.Context, data *Export) error {
	if err := g.FileBackend.ImportData(ctx, data); err != nil {
		return err
	}
	return g.commit(ctx, "storage: import backup")
}

// GetStorageStats returns the file counts plus where HEAD points.
func (g *GitBackend) GetStorageStats(ctx context.Context) (StorageStats, error) {
	stats, err := g.FileBackend.GetStorageStats(ctx)
	if err != nil {
		return stats, err
	}
	stats.Backend = "git"
	if head, err := g.repo.Head(); err == nil {
		stats.Details = map[string]interface{}{
			"head":   head.Hash().String(),
			"branch": head.Name().Short(),
		}
	}
	return stats, nil
}
