package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/sync/errgroup"

	"github.com/jwhitfield/csync/internal/index"
	"github.com/jwhitfield/csync/internal/remote"
	"github.com/jwhitfield/csync/internal/store"
)

// attachmentWorkers bounds concurrent attachment downloads per node.
const attachmentWorkers = 4

// Executor applies a computed plan to the local mirror. Passes run in
// a fixed order over the whole tree: renames first, then creates, then
// updates. Renaming first means creates and updates always land under
// a parent's final name; paths are re-derived from realized parent
// locations at execution time rather than trusted from the plan.
type Executor struct {
	api      remote.API
	store    *store.Store
	idx      *index.Index
	logger   *slog.Logger
	dryRun   bool
	progress bool

	summary Summary
}

// NewExecutor returns an executor over the given collaborators. With
// dryRun set, every mutation of the mirror, the index and the remote is
// skipped and logged instead. progress controls whether per-node
// outcome lines log at info or debug.
func NewExecutor(api remote.API, st *store.Store, idx *index.Index, logger *slog.Logger, dryRun, progress bool) *Executor {
	return &Executor{api: api, store: st, idx: idx, logger: logger, dryRun: dryRun, progress: progress}
}

// progressLog emits a per-node outcome line.
func (e *Executor) progressLog(msg string, args ...any) {
	if e.progress {
		e.logger.Info(msg, args...)
	} else {
		e.logger.Debug(msg, args...)
	}
}

// Execute applies the plan and returns outcome counts. A node that
// fails is counted and skipped; its siblings still execute. A failed
// create skips its subtree, since the children have nowhere to land.
func (e *Executor) Execute(ctx context.Context, plan *Plan) Summary {
	e.summary = Summary{}

	for _, root := range plan.Roots {
		e.renamePass(ctx, root, "")
	}

	for _, root := range plan.Roots {
		e.createPass(ctx, root, "")
	}

	for _, root := range plan.Roots {
		e.updatePass(ctx, root)
	}

	for _, root := range plan.Roots {
		e.countPass(root)
	}

	return e.summary
}

// renamePass executes renames pre-order and records every bound node's
// realized directory, parent renames included.
func (e *Executor) renamePass(ctx context.Context, pn *PlanNode, parentDir string) {
	switch pn.Action {
	case ActionRename:
		cur := e.join(parentDir, path.Base(pn.OldPath))
		pn.realized = e.executeRename(ctx, pn, cur, parentDir)

	case ActionCreate:
		// Nothing moves yet; the create pass does the writing. Children
		// recurse against the prospective location.
		pn.realized = e.createTarget(parentDir, pn.Node)

	case ActionUpdate, ActionUnchanged:
		pn.realized = e.join(parentDir, path.Base(pn.Path))
	}

	for _, child := range pn.Children {
		e.renamePass(ctx, child, pn.realized)
	}
}

// executeRename moves the bound directory under its new name and keeps
// the index coherent for the whole moved subtree. Returns the realized
// directory.
func (e *Executor) executeRename(ctx context.Context, pn *PlanNode, cur, parentDir string) string {
	node := pn.Node

	target := e.join(parentDir, store.SafeTitle(node.Title))
	if e.collides(target, node.ID) {
		target = e.join(parentDir, store.DisambiguatedName(node.Title, node.ID))
		e.logger.Warn("rename target taken, disambiguating", "id", node.ID, "target", target)
	}

	if e.dryRun {
		e.progressLog("would rename", "id", node.ID, "from", cur, "to", target)

		return target
	}

	meta, err := e.store.ReadMetadata(cur)
	if err != nil || meta == nil {
		e.fail(pn, fmt.Errorf("reading metadata before rename of %s: %w", cur, err))

		return cur
	}

	if err := e.store.Rename(cur, target); err != nil {
		e.fail(pn, err)

		return cur
	}

	if err := e.idx.Update(node.ID, target); err != nil {
		e.fail(pn, err)

		return target
	}

	if err := e.idx.RewritePrefix(cur, target); err != nil {
		e.fail(pn, err)

		return target
	}

	refresh := meta.Version != node.Version
	if err := e.writeNode(ctx, target, node, refresh); err != nil {
		e.fail(pn, err)

		return target
	}

	e.progressLog("renamed", "id", node.ID, "from", cur, "to", target)

	return target
}

// createPass materializes planned creates pre-order, deriving each
// target from the parent's realized directory.
func (e *Executor) createPass(ctx context.Context, pn *PlanNode, parentDir string) {
	if pn.Action == ActionCreate && !pn.failed {
		node := pn.Node

		target := e.createTarget(parentDir, node)
		pn.realized = target

		if e.dryRun {
			e.progressLog("would create", "id", node.ID, "path", target)
		} else if err := e.executeCreate(ctx, pn, target); err != nil {
			e.fail(pn, err)

			// Children have no directory to land in.
			return
		}
	}

	for _, child := range pn.Children {
		e.createPass(ctx, child, pn.realized)
	}
}

func (e *Executor) executeCreate(ctx context.Context, pn *PlanNode, target string) error {
	if err := e.writeNode(ctx, target, pn.Node, true); err != nil {
		return err
	}

	if err := e.idx.Update(pn.Node.ID, target); err != nil {
		return err
	}

	e.progressLog("created", "id", pn.Node.ID, "path", target)

	return nil
}

// updatePass rewrites bound directories whose version is behind.
func (e *Executor) updatePass(ctx context.Context, pn *PlanNode) {
	if pn.Action == ActionUpdate && !pn.failed {
		if e.dryRun {
			e.progressLog("would update", "id", pn.Node.ID, "path", pn.realized)
		} else if err := e.executeUpdate(ctx, pn); err != nil {
			e.fail(pn, err)
		}
	}

	for _, child := range pn.Children {
		e.updatePass(ctx, child)
	}
}

func (e *Executor) executeUpdate(ctx context.Context, pn *PlanNode) error {
	node := pn.Node

	old, err := e.store.ReadContent(pn.realized)
	if err != nil {
		return err
	}

	if err := e.writeNode(ctx, pn.realized, node, true); err != nil {
		return err
	}

	if err := e.idx.Update(node.ID, pn.realized); err != nil {
		return err
	}

	ins, del := contentDelta(string(old), node.Content)
	e.progressLog("updated", "id", node.ID, "path", pn.realized,
		"version", node.Version, "chars_added", ins, "chars_removed", del)

	return nil
}

// writeNode persists a node's metadata, and when refresh is set, its
// content and attachment snapshot.
func (e *Executor) writeNode(ctx context.Context, dir string, node remote.Node, refresh bool) error {
	meta := &store.Metadata{
		ID:       node.ID,
		Title:    node.Title,
		Version:  node.Version,
		ParentID: node.ParentID,
		SpaceKey: node.SpaceKey,
	}
	if err := e.store.WriteMetadata(dir, meta); err != nil {
		return err
	}

	if !refresh {
		return nil
	}

	if err := e.store.WriteContent(dir, []byte(node.Content)); err != nil {
		return err
	}

	// Attachment trouble never fails the node; the page itself synced.
	if err := e.syncAttachments(ctx, dir, node); err != nil {
		e.logger.Warn("attachment sync incomplete", "id", node.ID, "path", dir, "error", err)
	}

	return nil
}

// syncAttachments downloads the node's attachments concurrently and
// replaces the local snapshot with them.
func (e *Executor) syncAttachments(ctx context.Context, dir string, node remote.Node) error {
	files := make(map[string][]byte, len(node.Attachments))

	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(attachmentWorkers)

	for _, att := range node.Attachments {
		att := att
		g.Go(func() error {
			data, err := e.api.DownloadAttachment(ctx, node.ID, att.ID)
			if err != nil {
				return fmt.Errorf("downloading attachment %q of %s: %w", att.Name, node.ID, err)
			}

			mu.Lock()
			files[att.Name] = data
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return e.store.ReplaceAttachments(dir, files)
}

// countPass buckets every visited node into the summary. Children
// below a failed create were never visited and are not counted.
func (e *Executor) countPass(pn *PlanNode) {
	if pn.failed {
		e.summary.Failed++

		if pn.Action == ActionCreate {
			return
		}
	} else {
		e.summary.count(pn.Action)
	}

	for _, child := range pn.Children {
		e.countPass(child)
	}
}

// createTarget picks the directory a create lands in. A directory
// already bound to the id whose metadata record no longer parses is
// reused, healing the mirror in place without detaching its subtree;
// otherwise the name derives from the title, id-suffixed when a
// foreign directory holds it.
func (e *Executor) createTarget(parentDir string, node remote.Node) string {
	if dir, ok := e.idx.Resolve(node.ID); ok && e.store.DirExists(dir) && e.brokenMetadata(dir) {
		return dir
	}

	target := e.join(parentDir, store.SafeTitle(node.Title))
	if e.collides(target, node.ID) {
		target = e.join(parentDir, store.DisambiguatedName(node.Title, node.ID))
		e.logger.Warn("create target taken, disambiguating", "id", node.ID, "target", target)
	}

	return target
}

func (e *Executor) brokenMetadata(dir string) bool {
	meta, err := e.store.ReadMetadata(dir)

	return err != nil || meta == nil
}

// collides reports whether target exists and belongs to a different
// node, which forces the id-suffixed directory name.
func (e *Executor) collides(target, id string) bool {
	if !e.store.DirExists(target) {
		return false
	}

	meta, err := e.store.ReadMetadata(target)
	if err != nil || meta == nil {
		return true
	}

	return meta.ID != id
}

func (e *Executor) fail(pn *PlanNode, err error) {
	pn.failed = true
	e.logger.Error("node sync failed", "id", pn.Node.ID, "title", pn.Node.Title, "error", err)
}

func (e *Executor) join(parentDir, name string) string {
	if parentDir == "" {
		return name
	}

	return path.Join(parentDir, store.ChildrenDirName, name)
}

// contentDelta returns the inserted and deleted character counts
// between two content revisions.
func contentDelta(before, after string) (inserted, deleted int) {
	dmp := diffmatchpatch.New()

	for _, d := range dmp.DiffMain(before, after, false) {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			inserted += len(d.Text)
		case diffmatchpatch.DiffDelete:
			deleted += len(d.Text)
		}
	}

	return inserted, deleted
}
