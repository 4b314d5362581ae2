package engine

import (
	"context"
	"log/slog"

	"github.com/jwhitfield/csync/internal/index"
	"github.com/jwhitfield/csync/internal/remote"
	"github.com/jwhitfield/csync/internal/store"
)

// Options tune one sync invocation.
type Options struct {
	// Recurse descends into children. Off, only the target node itself
	// is synced.
	Recurse bool

	// DryRun plans and logs but never mutates the mirror or the remote.
	DryRun bool

	// Progress emits a per-node outcome log line at info level.
	Progress bool
}

// Engine coordinates planning and execution over a remote API, a local
// mirror and its id index.
type Engine struct {
	api    remote.API
	store  *store.Store
	idx    *index.Index
	logger *slog.Logger
	opts   Options
}

// New returns an engine over the given collaborators.
func New(api remote.API, st *store.Store, idx *index.Index, logger *slog.Logger, opts Options) *Engine {
	return &Engine{api: api, store: st, idx: idx, logger: logger, opts: opts}
}

// Pull syncs the subtree rooted at a remote page into the mirror.
func (e *Engine) Pull(ctx context.Context, pageID string) (Summary, error) {
	planner := NewPlanner(e.api, e.store, e.idx, e.logger, e.opts.Recurse, e.opts.DryRun)

	plan, planFailed, err := planner.PlanPage(ctx, pageID)
	if err != nil {
		return Summary{}, err
	}

	return e.execute(ctx, plan, planFailed), nil
}

// PullSpace syncs every top-level page of a space, and their subtrees,
// into the mirror.
func (e *Engine) PullSpace(ctx context.Context, spaceKey string) (Summary, error) {
	planner := NewPlanner(e.api, e.store, e.idx, e.logger, e.opts.Recurse, e.opts.DryRun)

	plan, planFailed, err := planner.PlanSpace(ctx, spaceKey)
	if err != nil {
		return Summary{}, err
	}

	return e.execute(ctx, plan, planFailed), nil
}

func (e *Engine) execute(ctx context.Context, plan *Plan, planFailed int) Summary {
	if !e.opts.DryRun {
		if err := plan.Save(e.store.ControlDir()); err != nil {
			e.logger.Warn("plan not persisted", "error", err)
		}
	}

	executor := NewExecutor(e.api, e.store, e.idx, e.logger, e.opts.DryRun, e.opts.Progress)

	summary := executor.Execute(ctx, plan)
	summary.Failed += planFailed

	return summary
}

// Push propagates the whole mirror to the remote. rootParentID, if
// set, is the remote parent for unbound top-level directories.
func (e *Engine) Push(ctx context.Context, rootParentID string) Summary {
	pusher := NewPusher(e.api, e.store, e.idx, e.logger, e.opts.Recurse, e.opts.DryRun, e.opts.Progress)

	return pusher.Push(ctx, rootParentID)
}

// PushDir propagates a single mirror-relative directory to the remote.
func (e *Engine) PushDir(ctx context.Context, dir string) Summary {
	pusher := NewPusher(e.api, e.store, e.idx, e.logger, e.opts.Recurse, e.opts.DryRun, e.opts.Progress)

	return pusher.PushDir(ctx, dir)
}
