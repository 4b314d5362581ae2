package engine

import (
	"context"
	"log/slog"
	"path"

	"github.com/jwhitfield/csync/internal/index"
	"github.com/jwhitfield/csync/internal/remote"
	"github.com/jwhitfield/csync/internal/store"
)

// Planner walks the remote tree and classifies each node against the
// local mirror. Planning never mutates the mirror or the remote; the
// only side effect is at most one index rebuild scan per invocation.
type Planner struct {
	api     remote.API
	store   *store.Store
	idx     *index.Index
	logger  *slog.Logger
	recurse bool
	dryRun  bool

	scanned bool
	scan    map[string]string
	failed  int
}

// NewPlanner returns a planner over the given collaborators. When
// recurse is false only the target node itself is planned. With dryRun
// set, a rebuild scan stays in memory instead of rewriting the cache.
func NewPlanner(api remote.API, st *store.Store, idx *index.Index, logger *slog.Logger, recurse, dryRun bool) *Planner {
	return &Planner{api: api, store: st, idx: idx, logger: logger, recurse: recurse, dryRun: dryRun}
}

// PlanPage computes the action tree rooted at a single remote page.
func (p *Planner) PlanPage(ctx context.Context, pageID string) (*Plan, int, error) {
	p.failed = 0

	node, err := p.api.FetchNode(ctx, pageID)
	if err != nil {
		return nil, 0, err
	}

	root := p.planNode(ctx, node, "")

	return &Plan{Roots: []*PlanNode{root}}, p.failed, nil
}

// PlanSpace computes action trees for every top-level page of a space.
// A page that fails to fetch is counted and skipped; the rest of the
// space is still planned.
func (p *Planner) PlanSpace(ctx context.Context, spaceKey string) (*Plan, int, error) {
	p.failed = 0

	refs, err := p.api.ListSpaceRootPages(ctx, spaceKey)
	if err != nil {
		return nil, 0, err
	}

	plan := &Plan{}

	for _, ref := range refs {
		node, err := p.api.FetchNode(ctx, ref.ID)
		if err != nil {
			p.logger.Warn("skipping unreadable root page", "id", ref.ID, "title", ref.Title, "error", err)
			p.failed++

			continue
		}

		plan.Roots = append(plan.Roots, p.planNode(ctx, node, ""))
	}

	return plan, p.failed, nil
}

// planNode classifies one fetched node and, when recursing, its
// children. parentDir is the parent's prospective path ("" for a
// top-level node); child paths are derived from it so that a planned
// parent rename is already reflected in planned child paths.
func (p *Planner) planNode(ctx context.Context, node *remote.Node, parentDir string) *PlanNode {
	pn := &PlanNode{Node: *node}

	boundDir, bound := p.resolveBound(node.ID)

	switch {
	case !bound:
		pn.Action = ActionCreate
		pn.Path = p.derivePath(parentDir, store.SafeTitle(node.Title))

	default:
		meta, err := p.store.ReadMetadata(boundDir)
		if err != nil || meta == nil {
			// The binding survives but the record is unreadable. Recreate
			// at the bound path so the subtree under it stays attached.
			pn.Action = ActionCreate
			pn.Path = boundDir

			break
		}

		curName := path.Base(boundDir)
		wantName := store.SafeTitle(node.Title)

		switch {
		case curName != wantName && curName != store.DisambiguatedName(node.Title, node.ID):
			pn.Action = ActionRename
			pn.OldPath = boundDir
			pn.OldTitle = meta.Title
			pn.Path = p.derivePath(parentDir, wantName)

		case meta.Version != node.Version:
			// The remote is authoritative on pull: any divergence
			// resyncs the mirror, a locally ahead version included.
			pn.Action = ActionUpdate
			pn.Path = p.derivePath(parentDir, curName)

		default:
			pn.Action = ActionUnchanged
			pn.Path = p.derivePath(parentDir, curName)
		}
	}

	if !p.recurse {
		return pn
	}

	refs, err := p.api.ListChildren(ctx, node.ID)
	if err != nil {
		p.logger.Warn("listing children failed", "id", node.ID, "title", node.Title, "error", err)
		p.failed++

		return pn
	}

	for _, ref := range refs {
		child, err := p.api.FetchNode(ctx, ref.ID)
		if err != nil {
			p.logger.Warn("skipping unreadable child", "id", ref.ID, "title", ref.Title, "error", err)
			p.failed++

			continue
		}

		pn.Children = append(pn.Children, p.planNode(ctx, child, pn.Path))
	}

	return pn
}

// derivePath joins a prospective parent path with a directory name.
func (p *Planner) derivePath(parentDir, name string) string {
	if parentDir == "" {
		return name
	}

	return path.Join(parentDir, store.ChildrenDirName, name)
}

// resolveBound returns the local directory bound to a remote id. A
// cached entry counts when the directory's metadata record still
// carries the same id, or when the directory exists but its record is
// unreadable or missing (the create pass then heals it in place).
// Anything else is stale and the mirror is rescanned, at most once per
// invocation.
func (p *Planner) resolveBound(id string) (string, bool) {
	if dir, ok := p.lookup(id); ok && p.claims(dir, id) {
		return dir, true
	}

	if p.scanned {
		return "", false
	}

	p.rebuildIndex()

	if dir, ok := p.lookup(id); ok && p.claims(dir, id) {
		return dir, true
	}

	return "", false
}

// lookup consults the in-memory scan when one was taken during a dry
// run, otherwise the persisted cache.
func (p *Planner) lookup(id string) (string, bool) {
	if p.scan != nil {
		dir, ok := p.scan[id]

		return dir, ok
	}

	return p.idx.Resolve(id)
}

func (p *Planner) claims(dir, id string) bool {
	meta, err := p.store.ReadMetadata(dir)
	if err != nil || meta == nil {
		return p.store.DirExists(dir)
	}

	return meta.ID == id
}

// rebuildIndex replaces the cache from a full metadata scan of the
// mirror. Marked done even on failure so one bad scan cannot turn into
// a scan per node.
func (p *Planner) rebuildIndex() {
	p.scanned = true

	entries := map[string]string{}

	err := p.store.WalkMetadata(func(dir string, m *store.Metadata) {
		if m.ID != "" {
			entries[m.ID] = dir
		}
	})
	if err != nil {
		p.logger.Warn("mirror scan failed, index left as-is", "error", err)

		return
	}

	if p.dryRun {
		// A dry run never rewrites the cache; the scan serves lookups
		// for the rest of this invocation.
		p.scan = entries

		return
	}

	if _, err := p.idx.Rebuild(entries); err != nil {
		p.logger.Warn("index rebuild failed", "error", err)
	}
}
