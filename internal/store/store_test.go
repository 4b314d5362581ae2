package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(t.TempDir())
	require.NoError(t, err)

	return s
}

func TestOpen_CreatesControlDir(t *testing.T) {
	s := testStore(t)

	info, err := os.Stat(s.ControlDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpen_EmptyDir(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}

func TestPathDerivation(t *testing.T) {
	s := testStore(t)

	assert.Equal(t, "Overview", s.RootPath("Overview"))
	assert.Equal(t, "Overview/children/Getting Started", s.ChildPath("Overview", "Getting Started"))
	assert.Equal(t, "a/children/b_c", s.ChildPath("a", "b/c"))
}

func TestResolve_RejectsTraversal(t *testing.T) {
	s := testStore(t)

	_, err := s.ReadMetadata("../outside")
	require.Error(t, err)

	_, err = s.ReadMetadata("a/../../outside")
	require.Error(t, err)
}

func TestMetadata_RoundTrip(t *testing.T) {
	s := testStore(t)

	want := &Metadata{ID: "123", Title: "Overview", Version: 4, ParentID: "99", SpaceKey: "DOCS"}
	require.NoError(t, s.WriteMetadata("Overview", want))

	got, err := s.ReadMetadata("Overview")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadMetadata_AbsentVsCorrupt(t *testing.T) {
	s := testStore(t)

	got, err := s.ReadMetadata("nowhere")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "bad"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "bad", MetadataFile), []byte("{not json"), 0o644))

	_, err = s.ReadMetadata("bad")
	require.Error(t, err)
}

func TestContent_RoundTrip(t *testing.T) {
	s := testStore(t)

	got, err := s.ReadContent("Overview")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.WriteContent("Overview", []byte("<p>hi</p>")))

	got, err = s.ReadContent("Overview")
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", string(got))
}

func TestReplaceAttachments_Snapshot(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.ReplaceAttachments("Overview", map[string][]byte{
		"diagram.png": []byte("png"),
		"old.txt":     []byte("old"),
	}))

	require.NoError(t, s.ReplaceAttachments("Overview", map[string][]byte{
		"diagram.png": []byte("png2"),
	}))

	names, err := s.ListAttachments("Overview")
	require.NoError(t, err)
	assert.Equal(t, []string{"diagram.png"}, names)

	data, err := s.ReadAttachment("Overview", "diagram.png")
	require.NoError(t, err)
	assert.Equal(t, "png2", string(data))
}

func TestListAttachments_Absent(t *testing.T) {
	s := testStore(t)

	names, err := s.ListAttachments("Overview")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestReadAttachment_RejectsPathName(t *testing.T) {
	s := testStore(t)

	_, err := s.ReadAttachment("Overview", "../metadata.json")
	require.Error(t, err)
}

func TestListChildDirs(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.WriteMetadata("Overview/children/B", &Metadata{Title: "B"}))
	require.NoError(t, s.WriteMetadata("Overview/children/A", &Metadata{Title: "A"}))

	dirs, err := s.ListChildDirs("Overview")
	require.NoError(t, err)
	assert.Equal(t, []string{"Overview/children/A", "Overview/children/B"}, dirs)

	dirs, err = s.ListChildDirs("Overview/children/A")
	require.NoError(t, err)
	assert.Empty(t, dirs)
}

func TestTopLevelDirs_ExcludesControlDir(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.WriteMetadata("Overview", &Metadata{Title: "Overview"}))
	require.NoError(t, s.WriteMetadata("Archive", &Metadata{Title: "Archive"}))

	dirs, err := s.TopLevelDirs()
	require.NoError(t, err)
	assert.Equal(t, []string{"Archive", "Overview"}, dirs)
}

func TestRename_MovesSubtree(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.WriteMetadata("Old", &Metadata{ID: "1", Title: "Old"}))
	require.NoError(t, s.WriteMetadata("Old/children/Child", &Metadata{ID: "2", Title: "Child"}))

	require.NoError(t, s.Rename("Old", "New"))

	assert.False(t, s.DirExists("Old"))
	assert.True(t, s.DirExists("New/children/Child"))
}

func TestWalkMetadata(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.WriteMetadata("Overview", &Metadata{ID: "1", Title: "Overview"}))
	require.NoError(t, s.WriteMetadata("Overview/children/Child", &Metadata{ID: "2", Title: "Child"}))
	require.NoError(t, s.ReplaceAttachments("Overview", map[string][]byte{"a.png": []byte("x")}))

	seen := map[string]string{}
	require.NoError(t, s.WalkMetadata(func(dir string, m *Metadata) {
		seen[m.ID] = dir
	}))

	assert.Equal(t, map[string]string{
		"1": "Overview",
		"2": "Overview/children/Child",
	}, seen)
}
