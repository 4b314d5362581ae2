// Package remote defines the contract the sync engine has with the
// remote document store, plus the Confluence REST implementation.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

//go:generate mockgen -destination=mocks/api.go -package=mocks github.com/jwhitfield/csync/internal/remote API

// Sentinel outcomes of remote calls. Callers match these explicitly:
// a stale version check is a first-class result, not a generic failure.
var (
	ErrNotFound        = errors.New("remote node not found")
	ErrVersionConflict = errors.New("remote version check failed")
)

// Node is a full snapshot of a remote document: identity, versioned
// body, and parent linkage. Content is excluded from serialization
// because plans that embed nodes are persisted for inspection only.
type Node struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Version     int          `json:"version"`
	Content     string       `json:"-"`
	ParentID    string       `json:"parent_id,omitempty"`
	SpaceKey    string       `json:"space_key,omitempty"`
	Attachments []Attachment `json:"-"`
}

// ChildRef is a lightweight reference to a child node.
type ChildRef struct {
	ID    string
	Title string
}

// NodeRef identifies a node the remote just created or updated.
type NodeRef struct {
	ID      string
	Version int
}

// Attachment identifies a single file attached to a node. The name is
// unique within the node.
type Attachment struct {
	ID   string
	Name string
}

// API is the remote collaborator contract consumed by the sync engine.
// Implementations must return ErrNotFound for missing nodes and
// ErrVersionConflict when an update's expectedVersion is stale.
type API interface {
	// FetchNode returns a node with content, version, parent linkage
	// and attachment metadata expanded.
	FetchNode(ctx context.Context, id string) (*Node, error)

	// ListChildren enumerates the direct children of a node, consuming
	// pagination until exhausted.
	ListChildren(ctx context.Context, id string) ([]ChildRef, error)

	// ListSpaceRootPages enumerates the top-level pages of a space.
	ListSpaceRootPages(ctx context.Context, spaceKey string) ([]ChildRef, error)

	// CreateNode creates a node under parentID and returns its assigned
	// id and initial version.
	CreateNode(ctx context.Context, parentID, title, content string) (*NodeRef, error)

	// UpdateNode rewrites a node's title and content, failing with
	// ErrVersionConflict if expectedVersion is no longer current.
	// Returns the new version.
	UpdateNode(ctx context.Context, id, title, content string, expectedVersion int) (int, error)

	ListAttachments(ctx context.Context, id string) ([]Attachment, error)
	DownloadAttachment(ctx context.Context, nodeID, attachmentID string) ([]byte, error)
	UploadAttachment(ctx context.Context, nodeID, filename string, data []byte) error
}

// Target is the result of parsing a pull/push destination: either a
// single page or a whole space.
type Target struct {
	PageID   string
	SpaceKey string
}

// IsSpace reports whether the target names a space rather than a page.
func (t Target) IsSpace() bool {
	return t.PageID == "" && t.SpaceKey != ""
}

// ParsePageURL extracts a page id or space key from a Confluence URL.
// Accepted forms:
//
//	123456789                                   (raw page id)
//	https://x.atlassian.net/wiki/spaces/KEY/pages/123/Title
//	https://x.atlassian.net/wiki/spaces/KEY     (space target)
//	https://x.atlassian.net/wiki/rest/api/content/123
func ParsePageURL(raw string) (Target, error) {
	if raw == "" {
		return Target{}, fmt.Errorf("empty remote target")
	}

	if !strings.Contains(raw, "/") {
		if !isDigits(raw) {
			return Target{}, fmt.Errorf("remote target %q is not a page id or URL", raw)
		}

		return Target{PageID: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("parsing remote target URL: %w", err)
	}

	parts := splitPath(u.Path)

	for i, p := range parts {
		switch p {
		case "spaces":
			if i+1 >= len(parts) {
				return Target{}, fmt.Errorf("space URL %q has no space key", raw)
			}

			t := Target{SpaceKey: parts[i+1]}
			if j := indexOf(parts, "pages"); j >= 0 && j+1 < len(parts) {
				t.PageID = parts[j+1]
			}

			if t.PageID != "" && !isDigits(t.PageID) {
				return Target{}, fmt.Errorf("page id %q in %q is not numeric", t.PageID, raw)
			}

			return t, nil

		case "content":
			// rest/api/content/<id>
			if i > 0 && parts[i-1] == "api" && i+1 < len(parts) && isDigits(parts[i+1]) {
				return Target{PageID: parts[i+1]}, nil
			}
		}
	}

	return Target{}, fmt.Errorf("unrecognized remote target %q", raw)
}

func splitPath(p string) []string {
	var out []string

	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}

	return out
}

func indexOf(parts []string, want string) int {
	for i, p := range parts {
		if p == want {
			return i
		}
	}

	return -1
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}
