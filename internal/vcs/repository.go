// Package vcs wraps one cloned repository behind an exclusive checkout handle.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/schema"
)

var (
	// ErrCheckout is returned when the working tree cannot be moved to a commit.
	ErrCheckout = errors.New("checkout failed")

	// ErrTreeReleased is returned when a Tree is used after its At callback returned.
	ErrTreeReleased = errors.New("tree used outside its checkout")

	// ErrNoParents is returned when a first-parent diff is requested for a root commit.
	ErrNoParents = errors.New("commit has no parents")
)

// Repository is the only handle allowed to mutate a clone's checkout. All
// revision-dependent reads go through At, which holds the handle's lock.
type Repository struct {
	mu     sync.Mutex
	client contract.GitClient
	target schema.Target
	tip    string
}

// Open resolves the history tip of a target once, so later detached checkouts
// do not shorten the history seen by subsequent passes.
func Open(ctx context.Context, client contract.GitClient, target schema.Target) (*Repository, error) {
	tip, err := client.ResolveTip(ctx, target.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve tip of %s: %w", target.Name, err)
	}
	return &Repository{client: client, target: target, tip: tip}, nil
}

// Name returns the index-prefixed repository name.
func (r *Repository) Name() string {
	return r.target.Name
}

// History returns the commits reachable from the tip, oldest first. A zero
// until means no deadline.
func (r *Repository) History(ctx context.Context, until time.Time) ([]schema.Commit, error) {
	commits, err := r.client.GetHistory(ctx, r.target.Path, r.tip, until)
	if err != nil {
		return nil, fmt.Errorf("history of %s: %w", r.target.Name, err)
	}
	return commits, nil
}

// Messages returns the hash to message map of History.
func (r *Repository) Messages(ctx context.Context, until time.Time) (map[string]string, error) {
	commits, err := r.History(ctx, until)
	if err != nil {
		return nil, err
	}
	messages := make(map[string]string, len(commits))
	for _, c := range commits {
		messages[c.Hash] = c.Message
	}
	return messages, nil
}

// Parents returns the ordered parent hashes of a commit.
func (r *Repository) Parents(ctx context.Context, hash string) ([]string, error) {
	return r.client.GetParents(ctx, r.target.Path, hash)
}

// MergeBase returns the best common ancestor of a and b, or "" when the
// histories are unrelated.
func (r *Repository) MergeBase(ctx context.Context, a, b string) (string, error) {
	return r.client.GetMergeBase(ctx, r.target.Path, a, b)
}

// ChangedFiles returns the paths a commit changed relative to its first parent.
func (r *Repository) ChangedFiles(ctx context.Context, hash string) ([]string, error) {
	parents, err := r.Parents(ctx, hash)
	if err != nil {
		return nil, err
	}
	if len(parents) == 0 {
		return nil, fmt.Errorf("%s: %w", hash, ErrNoParents)
	}
	return r.client.GetChangedFilesBetweenRefs(ctx, r.target.Path, parents[0], hash)
}

// ChangeCount returns how many commits up to until touched path.
func (r *Repository) ChangeCount(ctx context.Context, path string, until time.Time) (int, error) {
	return r.client.CountPathCommits(ctx, r.target.Path, r.tip, path, until)
}

// CloneURL returns the origin URL of the clone.
func (r *Repository) CloneURL(ctx context.Context) (string, error) {
	return r.client.GetRemoteURL(ctx, r.target.Path)
}

// At checks out hash and calls fn with the resulting tree. The handle stays
// locked for the whole callback and the tree is unusable once At returns.
func (r *Repository) At(ctx context.Context, hash string, fn func(*Tree) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.client.Checkout(ctx, r.target.Path, hash); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s at %s: %v", ErrCheckout, r.target.Name, hash, err)
	}

	tree := &Tree{root: r.target.Path, hash: hash}
	defer tree.released.Store(true)
	return fn(tree)
}

// Tree is a read-only view of a checked-out revision.
type Tree struct {
	root     string
	hash     string
	released atomic.Bool
}

// Hash returns the commit the tree was checked out at.
func (t *Tree) Hash() string {
	return t.hash
}

// Root returns the working tree directory. It fails once the tree is released.
func (t *Tree) Root() (string, error) {
	if t.released.Load() {
		return "", ErrTreeReleased
	}
	return t.root, nil
}

// ReadFile reads a repo-relative slash path from the tree.
func (t *Tree) ReadFile(rel string) ([]byte, error) {
	root, err := t.Root()
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
}
