package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/jwhitfield/csync/internal/remote"
	"github.com/jwhitfield/csync/internal/remote/mocks"
	"github.com/jwhitfield/csync/internal/store"
)

func (h *harness) push(t *testing.T) Summary {
	t.Helper()

	return h.engine(Options{Recurse: true}).Push(context.Background(), "")
}

func TestPush_CreatePropagatesAssignedParentID(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := newHarness(t)
	api := mocks.NewMockAPI(ctrl)

	require.NoError(t, h.store.WriteMetadata("Parent", &store.Metadata{Title: "Parent", ParentID: "root9"}))
	require.NoError(t, h.store.WriteContent("Parent", []byte("<p>p</p>")))
	require.NoError(t, h.store.WriteMetadata("Parent/children/Child", &store.Metadata{Title: "Child"}))
	require.NoError(t, h.store.WriteContent("Parent/children/Child", []byte("<p>c</p>")))

	// The child must be created under the id the remote just assigned
	// to the parent, not under anything recorded locally.
	gomock.InOrder(
		api.EXPECT().
			CreateNode(gomock.Any(), "root9", "Parent", "<p>p</p>").
			Return(&remote.NodeRef{ID: "p1", Version: 1}, nil),
		api.EXPECT().
			CreateNode(gomock.Any(), "p1", "Child", "<p>c</p>").
			Return(&remote.NodeRef{ID: "c1", Version: 1}, nil),
	)

	pusher := NewPusher(api, h.store, h.idx, slog.New(slog.NewTextHandler(io.Discard, nil)), true, false, false)
	summary := pusher.Push(context.Background(), "")

	assert.Equal(t, Summary{Created: 2}, summary)

	// Assigned ids are persisted before any child was pushed.
	assert.Equal(t, "p1", h.metadata(t, "Parent").ID)
	assert.Equal(t, "c1", h.metadata(t, "Parent/children/Child").ID)
}

func TestPush_MissingContentUsesPlaceholder(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := newHarness(t)
	api := mocks.NewMockAPI(ctrl)

	require.NoError(t, h.store.WriteMetadata("Draft", &store.Metadata{Title: "Draft", ParentID: "root9"}))

	api.EXPECT().
		CreateNode(gomock.Any(), "root9", "Draft", PlaceholderContent).
		Return(&remote.NodeRef{ID: "d1", Version: 1}, nil)

	pusher := NewPusher(api, h.store, h.idx, slog.New(slog.NewTextHandler(io.Discard, nil)), true, false, false)
	summary := pusher.Push(context.Background(), "")

	assert.Equal(t, Summary{Created: 1}, summary)
}

func TestPush_UnboundWithoutParentFailsSubtree(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := newHarness(t)
	api := mocks.NewMockAPI(ctrl)

	require.NoError(t, h.store.WriteMetadata("Orphan", &store.Metadata{Title: "Orphan"}))
	require.NoError(t, h.store.WriteMetadata("Orphan/children/Child", &store.Metadata{Title: "Child"}))

	pusher := NewPusher(api, h.store, h.idx, slog.New(slog.NewTextHandler(io.Discard, nil)), true, false, false)
	summary := pusher.Push(context.Background(), "")

	// No remote call is ever made; the subtree is skipped whole.
	assert.Equal(t, Summary{Failed: 1}, summary)
}

func TestPush_RootParentUsedForUnboundTopLevel(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := newHarness(t)
	api := mocks.NewMockAPI(ctrl)

	// No recorded parent; the invocation's remote root is the only one.
	require.NoError(t, h.store.WriteMetadata("Draft", &store.Metadata{Title: "Draft"}))

	api.EXPECT().
		CreateNode(gomock.Any(), "root42", "Draft", PlaceholderContent).
		Return(&remote.NodeRef{ID: "d1", Version: 1}, nil)

	pusher := NewPusher(api, h.store, h.idx, slog.New(slog.NewTextHandler(io.Discard, nil)), true, false, false)
	summary := pusher.Push(context.Background(), "root42")

	assert.Equal(t, Summary{Created: 1}, summary)
	assert.Equal(t, "root42", h.metadata(t, "Draft").ParentID)
}

func TestPush_RoundTripIsUnchanged(t *testing.T) {
	h := newHarness(t)
	h.api.addNode("1", "", "Overview", "<p>root</p>", 3)
	h.api.addNode("2", "1", "Child", "<p>child</p>", 1)
	h.pull(t, "1")

	summary := h.push(t)

	assert.Equal(t, Summary{Unchanged: 2}, summary)
	// No spurious version bumps on the remote either.
	assert.Equal(t, 3, h.api.nodes["1"].Version)
	assert.Equal(t, 1, h.api.nodes["2"].Version)
}

func TestPush_LocalEditUpdatesRemote(t *testing.T) {
	h := newHarness(t)
	h.api.addNode("1", "", "Overview", "<p>root</p>", 3)
	h.pull(t, "1")

	require.NoError(t, h.store.WriteContent("Overview", []byte("<p>edited</p>")))

	summary := h.push(t)

	assert.Equal(t, Summary{Updated: 1}, summary)
	assert.Equal(t, "<p>edited</p>", h.api.nodes["1"].Content)
	assert.Equal(t, 4, h.api.nodes["1"].Version)
	// The new version is recorded so the next push is a no-op.
	assert.Equal(t, 4, h.metadata(t, "Overview").Version)

	summary = h.push(t)
	assert.Equal(t, Summary{Unchanged: 1}, summary)
}

func TestPush_VersionConflictRecreates(t *testing.T) {
	h := newHarness(t)
	h.api.addNode("r", "", "Root", "<p>r</p>", 1)
	h.api.addNode("1", "r", "Page", "<p>base</p>", 3)
	h.pull(t, "r")

	// Remote moved on since the pull, and the local copy was edited.
	h.api.nodes["1"].Content = "<p>remote edit</p>"
	h.api.nodes["1"].Version = 5
	require.NoError(t, h.store.WriteContent("Root/children/Page", []byte("<p>local edit</p>")))

	summary := h.push(t)

	// The stale update is refused and the local copy lands as a fresh
	// node bound to a new id.
	assert.Equal(t, Summary{Unchanged: 1, Created: 1}, summary)

	m := h.metadata(t, "Root/children/Page")
	assert.NotEqual(t, "1", m.ID)
	assert.Equal(t, "<p>local edit</p>", h.api.nodes[m.ID].Content)

	// The surviving remote node keeps its own edit.
	assert.Equal(t, "<p>remote edit</p>", h.api.nodes["1"].Content)
}

func TestPush_BoundNodeGoneRemotelyIsRecreated(t *testing.T) {
	h := newHarness(t)
	h.api.addNode("r", "", "Root", "<p>r</p>", 1)
	h.api.addNode("1", "r", "Page", "<p>base</p>", 1)
	h.pull(t, "r")

	delete(h.api.nodes, "1")

	summary := h.push(t)

	assert.Equal(t, Summary{Unchanged: 1, Created: 1}, summary)

	m := h.metadata(t, "Root/children/Page")
	assert.NotEqual(t, "1", m.ID)

	_, ok := h.idx.Resolve("1")
	assert.False(t, ok)
}

func TestPush_FailedUpdateStillDescends(t *testing.T) {
	h := newHarness(t)
	h.api.addNode("1", "", "Overview", "<p>root</p>", 2)
	h.api.addNode("2", "1", "Child", "<p>child</p>", 1)
	h.pull(t, "1")

	require.NoError(t, h.store.WriteContent("Overview", []byte("<p>edit</p>")))
	require.NoError(t, h.store.WriteContent("Overview/children/Child", []byte("<p>child edit</p>")))

	// Only the parent's fetch breaks; the child must still be pushed.
	h.api.failFetch["1"] = assert.AnError

	summary := h.push(t)

	assert.Equal(t, Summary{Updated: 1, Failed: 1}, summary)
	assert.Equal(t, "<p>child edit</p>", h.api.nodes["2"].Content)
}

func TestPush_AttachmentsUploaded(t *testing.T) {
	h := newHarness(t)
	h.api.addNode("1", "", "Overview", "<p>root</p>", 1)
	h.pull(t, "1")

	require.NoError(t, h.store.WriteContent("Overview", []byte("<p>edit</p>")))
	require.NoError(t, h.store.ReplaceAttachments("Overview", map[string][]byte{
		"diagram.png": []byte("png"),
	}))

	summary := h.push(t)

	assert.Equal(t, Summary{Updated: 1}, summary)
	assert.Equal(t, []string{"diagram.png"}, h.api.uploads["1"])
}

func TestPush_DryRunMakesNoRemoteCallsForCreates(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := newHarness(t)
	api := mocks.NewMockAPI(ctrl)

	require.NoError(t, h.store.WriteMetadata("Parent", &store.Metadata{Title: "Parent", ParentID: "root9"}))
	require.NoError(t, h.store.WriteMetadata("Parent/children/Child", &store.Metadata{Title: "Child"}))

	pusher := NewPusher(api, h.store, h.idx, slog.New(slog.NewTextHandler(io.Discard, nil)), true, true, false)
	summary := pusher.Push(context.Background(), "")

	assert.Equal(t, Summary{Created: 2}, summary)
	// Bindings must not be persisted by a dry run.
	assert.Empty(t, h.metadata(t, "Parent").ID)
}

func TestPushDir_SingleSubtree(t *testing.T) {
	h := newHarness(t)
	h.api.addNode("1", "", "First", "<p>1</p>", 1)
	h.api.addNode("2", "", "Second", "<p>2</p>", 1)

	summary, err := h.engine(Options{Recurse: true}).PullSpace(context.Background(), "DOCS")
	require.NoError(t, err)
	require.Equal(t, Summary{Created: 2}, summary)

	require.NoError(t, h.store.WriteContent("First", []byte("<p>edit</p>")))
	require.NoError(t, h.store.WriteContent("Second", []byte("<p>edit</p>")))

	summary = h.engine(Options{Recurse: true}).PushDir(context.Background(), "First")

	assert.Equal(t, Summary{Updated: 1}, summary)
	assert.Equal(t, "<p>edit</p>", h.api.nodes["1"].Content)
	assert.Equal(t, "<p>2</p>", h.api.nodes["2"].Content)
}
