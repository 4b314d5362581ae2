package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/jwhitfield/csync/internal/index"
	"github.com/jwhitfield/csync/internal/remote"
	"github.com/jwhitfield/csync/internal/store"
)

// PlaceholderContent is pushed for a local node directory that has no
// content artifact yet.
const PlaceholderContent = "<p>todo</p>"

// pendingParentID stands in for a parent created only notionally during
// a dry run. It never reaches the remote: every descendant of a pending
// create is itself a pending create.
const pendingParentID = "pending"

// Pusher walks the local mirror and propagates it to the remote:
// unbound directories become new remote nodes, bound directories are
// compared against the live remote state and updated when they differ.
type Pusher struct {
	api      remote.API
	store    *store.Store
	idx      *index.Index
	logger   *slog.Logger
	recurse  bool
	dryRun   bool
	progress bool

	summary Summary
}

// NewPusher returns a pusher over the given collaborators.
func NewPusher(api remote.API, st *store.Store, idx *index.Index, logger *slog.Logger, recurse, dryRun, progress bool) *Pusher {
	return &Pusher{api: api, store: st, idx: idx, logger: logger, recurse: recurse, dryRun: dryRun, progress: progress}
}

func (p *Pusher) progressLog(msg string, args ...any) {
	if p.progress {
		p.logger.Info(msg, args...)
	} else {
		p.logger.Debug(msg, args...)
	}
}

// Push propagates every top-level node of the mirror. rootParentID, if
// set, is the remote parent used for unbound top-level directories that
// carry no parent of their own. Each node's outcome is independent: a
// failed update still descends into its children, while a failed create
// skips its subtree because the children have no parent id to be
// created under.
func (p *Pusher) Push(ctx context.Context, rootParentID string) Summary {
	p.summary = Summary{}

	dirs, err := p.store.TopLevelDirs()
	if err != nil {
		p.logger.Error("listing mirror root failed", "error", err)
		p.summary.Failed++

		return p.summary
	}

	for _, dir := range dirs {
		p.pushDir(ctx, dir, rootParentID)
	}

	return p.summary
}

// PushDir propagates a single mirror-relative directory and, when
// recursing, its subtree.
func (p *Pusher) PushDir(ctx context.Context, dir string) Summary {
	p.summary = Summary{}
	p.pushDir(ctx, dir, "")

	return p.summary
}

// pushDir pushes one node directory. parentID is the remote parent for
// creates; when empty the metadata's recorded parent is used instead.
func (p *Pusher) pushDir(ctx context.Context, dir, parentID string) {
	meta, err := p.store.ReadMetadata(dir)
	if err != nil {
		p.logger.Error("unreadable metadata, skipping subtree", "path", dir, "error", err)
		p.summary.Failed++

		return
	}

	if meta == nil {
		p.logger.Warn("directory has no metadata, skipping", "path", dir)

		return
	}

	var childParent string

	if meta.ID == "" {
		childParent = p.pushCreate(ctx, dir, meta, parentID)
		if childParent == "" {
			return
		}
	} else {
		childParent = p.pushBound(ctx, dir, meta, parentID)
	}

	if !p.recurse {
		return
	}

	children, err := p.store.ListChildDirs(dir)
	if err != nil {
		p.logger.Error("listing children failed", "path", dir, "error", err)
		p.summary.Failed++

		return
	}

	for _, child := range children {
		p.pushDir(ctx, child, childParent)
	}
}

// pushCreate creates a new remote node for an unbound directory and
// binds the directory to the assigned id before any child is pushed.
// Returns the id children should be created under, or "" when the
// subtree must be skipped.
func (p *Pusher) pushCreate(ctx context.Context, dir string, meta *store.Metadata, parentID string) string {
	if parentID == "" {
		parentID = meta.ParentID
	}

	if parentID == "" {
		p.logger.Error("cannot create node without a parent id", "path", dir, "title", meta.Title)
		p.summary.Failed++

		return ""
	}

	if p.dryRun {
		p.progressLog("would create remote node", "path", dir, "title", meta.Title, "parent", parentID)
		p.summary.Created++

		return pendingParentID
	}

	ref, err := p.api.CreateNode(ctx, parentID, meta.Title, p.localContent(dir, PlaceholderContent))
	if err != nil {
		p.logger.Error("remote create failed, skipping subtree", "path", dir, "title", meta.Title, "error", err)
		p.summary.Failed++

		return ""
	}

	meta.ID = ref.ID
	meta.Version = ref.Version
	meta.ParentID = parentID

	if err := p.store.WriteMetadata(dir, meta); err != nil {
		// The remote node exists but the binding was lost; the next push
		// would create a duplicate. Surface loudly.
		p.logger.Error("created remotely but binding not persisted", "path", dir, "id", ref.ID, "error", err)
		p.summary.Failed++

		return ""
	}

	if err := p.idx.Update(ref.ID, dir); err != nil {
		p.logger.Warn("index update failed after create", "id", ref.ID, "error", err)
	}

	p.uploadAttachments(ctx, dir, ref.ID)

	p.progressLog("created remote node", "path", dir, "id", ref.ID, "version", ref.Version)
	p.summary.Created++

	return ref.ID
}

// pushBound reconciles a bound directory against the live remote node.
// Returns the id children should be pushed under.
func (p *Pusher) pushBound(ctx context.Context, dir string, meta *store.Metadata, parentID string) string {
	node, err := p.api.FetchNode(ctx, meta.ID)
	if errors.Is(err, remote.ErrNotFound) {
		// The bound node is gone remotely. Recreate it and rebind.
		p.logger.Warn("bound node missing remotely, recreating", "path", dir, "id", meta.ID)

		oldID := meta.ID
		meta.ID = ""

		if newID := p.pushCreate(ctx, dir, meta, parentID); newID != "" {
			if delErr := p.idx.Delete(oldID); delErr != nil {
				p.logger.Warn("stale index entry not removed", "id", oldID, "error", delErr)
			}

			return newID
		}

		return meta.ID
	}

	if err != nil {
		p.logger.Error("fetching bound node failed", "path", dir, "id", meta.ID, "error", err)
		p.summary.Failed++

		return meta.ID
	}

	content := p.localContent(dir, node.Content)

	if node.Version == meta.Version {
		if meta.Title == node.Title && content == node.Content {
			p.logger.Debug("unchanged", "path", dir, "id", meta.ID)
			p.summary.Unchanged++

			return meta.ID
		}

		p.pushUpdate(ctx, dir, meta, content, node.Version)

		return meta.ID
	}

	// Versions diverged: the remote moved on since the last sync. Try
	// the update anyway with the recorded version; the remote's version
	// check decides whether it lands.
	if p.pushUpdate(ctx, dir, meta, content, meta.Version) {
		return meta.ID
	}

	return meta.ID
}

// pushUpdate rewrites the remote node. On a version conflict the node
// is recreated under its parent instead, binding the directory to the
// fresh id. Returns false only for the conflict-and-recreate path.
func (p *Pusher) pushUpdate(ctx context.Context, dir string, meta *store.Metadata, content string, expectedVersion int) bool {
	if p.dryRun {
		p.progressLog("would update remote node", "path", dir, "id", meta.ID, "expected_version", expectedVersion)
		p.summary.Updated++

		return true
	}

	newVersion, err := p.api.UpdateNode(ctx, meta.ID, meta.Title, content, expectedVersion)
	if errors.Is(err, remote.ErrVersionConflict) {
		p.logger.Warn("version conflict, recreating under parent", "path", dir, "id", meta.ID)

		oldID := meta.ID
		meta.ID = ""

		if p.pushCreate(ctx, dir, meta, meta.ParentID) != "" {
			if delErr := p.idx.Delete(oldID); delErr != nil {
				p.logger.Warn("stale index entry not removed", "id", oldID, "error", delErr)
			}
		}

		return false
	}

	if err != nil {
		p.logger.Error("remote update failed", "path", dir, "id", meta.ID, "error", err)
		p.summary.Failed++

		return true
	}

	meta.Version = newVersion
	if err := p.store.WriteMetadata(dir, meta); err != nil {
		p.logger.Error("updated remotely but version not persisted", "path", dir, "id", meta.ID, "error", err)
		p.summary.Failed++

		return true
	}

	p.uploadAttachments(ctx, dir, meta.ID)

	p.progressLog("updated remote node", "path", dir, "id", meta.ID, "version", newVersion)
	p.summary.Updated++

	return true
}

// localContent returns the directory's content artifact, or fallback
// when none exists.
func (p *Pusher) localContent(dir, fallback string) string {
	data, err := p.store.ReadContent(dir)
	if err != nil {
		p.logger.Warn("unreadable content, using fallback", "path", dir, "error", err)

		return fallback
	}

	if len(data) == 0 {
		return fallback
	}

	return string(data)
}

// uploadAttachments pushes every local attachment file of the node.
// Attachment failures are logged but never fail the node itself.
func (p *Pusher) uploadAttachments(ctx context.Context, dir, nodeID string) {
	names, err := p.store.ListAttachments(dir)
	if err != nil {
		p.logger.Warn("listing local attachments failed", "path", dir, "error", err)

		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(attachmentWorkers)

	for _, name := range names {
		name := name
		g.Go(func() error {
			data, err := p.store.ReadAttachment(dir, name)
			if err != nil {
				return fmt.Errorf("reading attachment %q: %w", name, err)
			}

			if err := p.api.UploadAttachment(ctx, nodeID, name, data); err != nil {
				return fmt.Errorf("uploading attachment %q: %w", name, err)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.logger.Warn("attachment upload incomplete", "path", dir, "error", err)
	}
}
