// Package engine plans and executes synchronization between the remote
// document tree and the local mirror, in both directions.
package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jwhitfield/csync/internal/remote"
)

// Action classifies what the executor will do for one node.
type Action string

const (
	// ActionCreate materializes a node that has no local directory.
	ActionCreate Action = "create"

	// ActionUpdate rewrites a bound directory whose version is behind.
	ActionUpdate Action = "update"

	// ActionRename moves a bound directory whose name no longer matches
	// the remote title. A rename also refreshes content when the version
	// changed, so a renamed node never needs a second pass.
	ActionRename Action = "rename"

	// ActionUnchanged leaves the directory alone. Children are still
	// visited.
	ActionUnchanged Action = "unchanged"
)

// PlanNode is one node's planned action plus its planned subtree.
// Path is prospective: it assumes ancestor renames have already
// happened. The executor re-derives real paths at execution time, so
// Path is for inspection and logging only.
type PlanNode struct {
	Action   Action      `json:"action"`
	Node     remote.Node `json:"node"`
	Path     string      `json:"path"`
	OldPath  string      `json:"old_path,omitempty"`
	OldTitle string      `json:"old_title,omitempty"`
	Children []*PlanNode `json:"children,omitempty"`

	// realized is the directory the executor actually used, set during
	// execution. failed marks a node whose action could not complete.
	realized string
	failed   bool
}

// Plan is the computed action tree for one pull invocation.
type Plan struct {
	Roots []*PlanNode `json:"roots"`
}

// LastPlanFile is where the most recent non-dry-run plan is persisted,
// inside the control directory.
const LastPlanFile = "last-plan.json"

// Save writes the plan as indented JSON into the control directory.
// Node content and attachment bytes are excluded by their field tags,
// so the file stays small enough to read.
func (p *Plan) Save(controlDir string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling plan: %w", err)
	}

	path := filepath.Join(controlDir, LastPlanFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing plan to %s: %w", path, err)
	}

	return nil
}

// Summary counts node outcomes across one pull or push invocation.
type Summary struct {
	Created   int
	Updated   int
	Renamed   int
	Unchanged int
	Failed    int
}

// Total returns the number of nodes visited.
func (s Summary) Total() int {
	return s.Created + s.Updated + s.Renamed + s.Unchanged + s.Failed
}

func (s Summary) String() string {
	return fmt.Sprintf("%d created, %d updated, %d renamed, %d unchanged, %d failed",
		s.Created, s.Updated, s.Renamed, s.Unchanged, s.Failed)
}

// count buckets a plan action into the summary.
func (s *Summary) count(a Action) {
	switch a {
	case ActionCreate:
		s.Created++
	case ActionUpdate:
		s.Updated++
	case ActionRename:
		s.Renamed++
	case ActionUnchanged:
		s.Unchanged++
	}
}
