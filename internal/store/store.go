// Package store reads and writes the local mirror: one directory per
// node holding a content payload, a metadata record, an attachments
// directory, and a children directory. All paths in the API are
// relative to the mirror root and use forward slashes.
package store

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// ContentFile is the per-node content payload artifact.
	ContentFile = "content.html"

	// MetadataFile is the per-node structured metadata record.
	MetadataFile = "metadata.json"

	// AttachmentsDirName holds a node's attachment files.
	AttachmentsDirName = "attachments"

	// ChildrenDirName holds a node's child directories. Its absence
	// means the node is a leaf.
	ChildrenDirName = "children"

	// ControlDirName is the hidden control directory at the mirror root
	// (id index, last computed plan). Never treated as a node.
	ControlDirName = ".csync"

	dirPerm  = fs.FileMode(0o755)
	filePerm = fs.FileMode(0o644)
)

// Metadata is the structured record persisted alongside each node's
// content. A record with ID set binds the directory to a remote node;
// without one the directory is a pending-create candidate.
type Metadata struct {
	ID       string `json:"id,omitempty"`
	Title    string `json:"title"`
	Version  int    `json:"version,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
	SpaceKey string `json:"space_key,omitempty"`
}

// Store provides filesystem operations on a mirror directory.
type Store struct {
	root string
}

// Open creates a Store rooted at dir, creating the mirror root and the
// control directory if they do not exist.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("mirror directory must not be empty")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving mirror directory: %w", err)
	}

	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("creating mirror directory %s: %w", dir, err)
	}

	if err := os.MkdirAll(filepath.Join(abs, ControlDirName), dirPerm); err != nil {
		return nil, fmt.Errorf("creating control directory: %w", err)
	}

	return &Store{root: abs}, nil
}

// Root returns the absolute mirror root.
func (s *Store) Root() string {
	return s.root
}

// ControlDir returns the absolute path of the hidden control directory.
func (s *Store) ControlDir() string {
	return filepath.Join(s.root, ControlDirName)
}

// RootPath derives the mirror-relative directory for a top-level node.
func (s *Store) RootPath(title string) string {
	return SafeTitle(title)
}

// ChildPath derives the mirror-relative directory for a child of the
// node at parentDir.
func (s *Store) ChildPath(parentDir, title string) string {
	return path.Join(parentDir, ChildrenDirName, SafeTitle(title))
}

// resolve converts a mirror-relative path to an absolute one, rejecting
// traversal outside the root. An empty relative path means the root.
func (s *Store) resolve(rel string) (string, error) {
	if strings.ContainsRune(rel, 0) {
		return "", fmt.Errorf("path contains null byte: %q", rel)
	}

	rel = strings.ReplaceAll(rel, "\\", "/")

	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path contains ..: %q", rel)
		}
	}

	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q resolves outside the mirror root", rel)
	}

	return abs, nil
}

// DirExists reports whether a mirror-relative directory exists.
func (s *Store) DirExists(dir string) bool {
	abs, err := s.resolve(dir)
	if err != nil {
		return false
	}

	info, err := os.Stat(abs)

	return err == nil && info.IsDir()
}

// ReadMetadata returns the metadata record for a node directory.
// A missing file returns (nil, nil); a file that cannot be parsed
// returns an error so callers can distinguish absent from corrupt.
func (s *Store) ReadMetadata(dir string) (*Metadata, error) {
	abs, err := s.resolve(dir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(abs, MetadataFile)) //nolint:gosec // G304: path resolved against the mirror root
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading metadata in %s: %w", dir, err)
	}

	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing metadata in %s: %w", dir, err)
	}

	return &m, nil
}

// WriteMetadata persists the metadata record, creating the node
// directory if needed.
func (s *Store) WriteMetadata(dir string, m *Metadata) error {
	abs, err := s.resolve(dir)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return fmt.Errorf("creating node directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}

	if err := os.WriteFile(filepath.Join(abs, MetadataFile), data, filePerm); err != nil {
		return fmt.Errorf("writing metadata in %s: %w", dir, err)
	}

	return nil
}

// ReadContent returns the content payload for a node directory, or
// (nil, nil) when the content artifact is absent. Metadata and content
// are independent: a node with metadata but no content is valid.
func (s *Store) ReadContent(dir string) ([]byte, error) {
	abs, err := s.resolve(dir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(abs, ContentFile)) //nolint:gosec // G304: path resolved against the mirror root
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading content in %s: %w", dir, err)
	}

	return data, nil
}

// WriteContent persists the content payload, creating the node
// directory if needed.
func (s *Store) WriteContent(dir string, content []byte) error {
	abs, err := s.resolve(dir)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return fmt.Errorf("creating node directory %s: %w", dir, err)
	}

	if err := os.WriteFile(filepath.Join(abs, ContentFile), content, filePerm); err != nil {
		return fmt.Errorf("writing content in %s: %w", dir, err)
	}

	return nil
}

// AttachmentsDir returns the absolute attachments directory for a node,
// creating it on first use.
func (s *Store) AttachmentsDir(dir string) (string, error) {
	abs, err := s.resolve(path.Join(dir, AttachmentsDirName))
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return "", fmt.Errorf("creating attachments directory in %s: %w", dir, err)
	}

	return abs, nil
}

// ReplaceAttachments replaces the node's attachments directory contents
// with a fresh snapshot.
func (s *Store) ReplaceAttachments(dir string, files map[string][]byte) error {
	abs, err := s.resolve(path.Join(dir, AttachmentsDirName))
	if err != nil {
		return err
	}

	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("clearing attachments in %s: %w", dir, err)
	}

	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return fmt.Errorf("creating attachments directory in %s: %w", dir, err)
	}

	for name, data := range files {
		safe := SafeTitle(name)
		if err := os.WriteFile(filepath.Join(abs, safe), data, filePerm); err != nil {
			return fmt.Errorf("writing attachment %q in %s: %w", name, dir, err)
		}
	}

	return nil
}

// ListAttachments returns the names of a node's local attachment files,
// sorted. A missing attachments directory yields an empty list.
func (s *Store) ListAttachments(dir string) ([]string, error) {
	abs, err := s.resolve(path.Join(dir, AttachmentsDirName))
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("listing attachments in %s: %w", dir, err)
	}

	var names []string

	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}

// ReadAttachment returns the bytes of a single local attachment file.
func (s *Store) ReadAttachment(dir, name string) ([]byte, error) {
	if name != filepath.Base(name) || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid attachment name %q", name)
	}

	abs, err := s.resolve(path.Join(dir, AttachmentsDirName, name))
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(abs) //nolint:gosec // G304: path resolved against the mirror root
	if err != nil {
		return nil, fmt.Errorf("reading attachment %q in %s: %w", name, dir, err)
	}

	return data, nil
}

// ListChildDirs returns the mirror-relative child node directories of a
// node, sorted by name. A missing children directory means leaf.
func (s *Store) ListChildDirs(dir string) ([]string, error) {
	abs, err := s.resolve(path.Join(dir, ChildrenDirName))
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("listing children of %s: %w", dir, err)
	}

	var dirs []string

	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, path.Join(dir, ChildrenDirName, e.Name()))
		}
	}

	sort.Strings(dirs)

	return dirs, nil
}

// TopLevelDirs returns the mirror-relative top-level node directories,
// excluding the control directory, sorted by name.
func (s *Store) TopLevelDirs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing mirror root: %w", err)
	}

	var dirs []string

	for _, e := range entries {
		if e.IsDir() && e.Name() != ControlDirName {
			dirs = append(dirs, e.Name())
		}
	}

	sort.Strings(dirs)

	return dirs, nil
}

// Rename moves a node directory, creating the destination's parent if
// needed. Works for non-empty directories.
func (s *Store) Rename(oldDir, newDir string) error {
	oldAbs, err := s.resolve(oldDir)
	if err != nil {
		return err
	}

	newAbs, err := s.resolve(newDir)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(newAbs), dirPerm); err != nil {
		return fmt.Errorf("creating directory for %s: %w", newDir, err)
	}

	if err := os.Rename(oldAbs, newAbs); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", oldDir, newDir, err)
	}

	return nil
}

// WalkMetadata calls fn for every node directory under the mirror root
// that has a metadata file, passing the mirror-relative directory and
// its parsed record. Corrupt records are skipped. The control and
// attachments directories are never descended into.
func (s *Store) WalkMetadata(fn func(dir string, m *Metadata)) error {
	return filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		name := d.Name()
		if p != s.root && (name == ControlDirName || name == AttachmentsDirName) {
			return filepath.SkipDir
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}

		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		m, err := s.ReadMetadata(rel)
		if err != nil || m == nil {
			// Corrupt or absent metadata: not indexable, keep walking.
			return nil
		}

		fn(rel, m)

		return nil
	})
}
