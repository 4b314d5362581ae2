package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jwhitfield/csync/internal/index"
	"github.com/jwhitfield/csync/internal/remote"
	"github.com/jwhitfield/csync/internal/store"
)

// fakeRemote is a stateful in-memory remote. Unlike a mock it behaves
// like the real thing across calls, which is what the round-trip and
// idempotence tests need.
type fakeRemote struct {
	mu         sync.Mutex
	nodes      map[string]*remote.Node
	children   map[string][]string
	spaceRoots map[string][]string
	attData    map[string][]byte
	uploads    map[string][]string
	failFetch  map[string]error
	nextID     int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		nodes:      map[string]*remote.Node{},
		children:   map[string][]string{},
		spaceRoots: map[string][]string{},
		attData:    map[string][]byte{},
		uploads:    map[string][]string{},
		failFetch:  map[string]error{},
	}
}

// addNode seeds a remote node. Parent "" makes it a space root.
func (f *fakeRemote) addNode(id, parentID, title, content string, version int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nodes[id] = &remote.Node{
		ID: id, Title: title, Version: version, Content: content,
		ParentID: parentID, SpaceKey: "DOCS",
	}

	if parentID != "" {
		f.children[parentID] = append(f.children[parentID], id)
	} else {
		f.spaceRoots["DOCS"] = append(f.spaceRoots["DOCS"], id)
	}
}

func (f *fakeRemote) addAttachment(nodeID, attID, name string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.nodes[nodeID]
	n.Attachments = append(n.Attachments, remote.Attachment{ID: attID, Name: name})
	f.attData[nodeID+"/"+attID] = data
}

func (f *fakeRemote) FetchNode(_ context.Context, id string) (*remote.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failFetch[id]; err != nil {
		return nil, err
	}

	n, ok := f.nodes[id]
	if !ok {
		return nil, remote.ErrNotFound
	}

	cp := *n

	return &cp, nil
}

func (f *fakeRemote) ListChildren(_ context.Context, id string) ([]remote.ChildRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var refs []remote.ChildRef
	for _, cid := range f.children[id] {
		refs = append(refs, remote.ChildRef{ID: cid, Title: f.nodes[cid].Title})
	}

	return refs, nil
}

func (f *fakeRemote) ListSpaceRootPages(_ context.Context, spaceKey string) ([]remote.ChildRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var refs []remote.ChildRef
	for _, id := range f.spaceRoots[spaceKey] {
		refs = append(refs, remote.ChildRef{ID: id, Title: f.nodes[id].Title})
	}

	return refs, nil
}

func (f *fakeRemote) CreateNode(_ context.Context, parentID, title, content string) (*remote.NodeRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := fmt.Sprintf("new%d", f.nextID)

	f.nodes[id] = &remote.Node{
		ID: id, Title: title, Version: 1, Content: content,
		ParentID: parentID, SpaceKey: "DOCS",
	}
	f.children[parentID] = append(f.children[parentID], id)

	return &remote.NodeRef{ID: id, Version: 1}, nil
}

func (f *fakeRemote) UpdateNode(_ context.Context, id, title, content string, expectedVersion int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.nodes[id]
	if !ok {
		return 0, remote.ErrNotFound
	}

	if n.Version != expectedVersion {
		return 0, remote.ErrVersionConflict
	}

	n.Title = title
	n.Content = content
	n.Version++

	return n.Version, nil
}

func (f *fakeRemote) ListAttachments(_ context.Context, id string) ([]remote.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.nodes[id]
	if !ok {
		return nil, remote.ErrNotFound
	}

	return n.Attachments, nil
}

func (f *fakeRemote) DownloadAttachment(_ context.Context, nodeID, attachmentID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.attData[nodeID+"/"+attachmentID]
	if !ok {
		return nil, remote.ErrNotFound
	}

	return data, nil
}

func (f *fakeRemote) UploadAttachment(_ context.Context, nodeID, filename string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.uploads[nodeID] = append(f.uploads[nodeID], filename)

	return nil
}

// harness bundles the engine's collaborators over a temp mirror.
type harness struct {
	api   *fakeRemote
	store *store.Store
	idx   *index.Index
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)

	idx, err := index.Open(st.ControlDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	return &harness{api: newFakeRemote(), store: st, idx: idx}
}

func (h *harness) engine(opts Options) *Engine {
	return New(h.api, h.store, h.idx, slog.New(slog.NewTextHandler(io.Discard, nil)), opts)
}

func (h *harness) pull(t *testing.T, pageID string) Summary {
	t.Helper()

	summary, err := h.engine(Options{Recurse: true}).Pull(context.Background(), pageID)
	require.NoError(t, err)

	return summary
}

func (h *harness) metadata(t *testing.T, dir string) *store.Metadata {
	t.Helper()

	m, err := h.store.ReadMetadata(dir)
	require.NoError(t, err)
	require.NotNil(t, m, "expected metadata in %s", dir)

	return m
}
