package commands

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"

	"github.com/flowstack-labs/flowsql/pkg/core"
)

// workflowFile is the on-disk request the offline commands accept: the
// same payload the HTTP API takes, saved as JSON.
type workflowFile struct {
	Graph  core.WorkflowGraph `json:"graph"`
	Target string             `json:"target"`
	Tenant core.TenantContext `json:"tenant"`
	Page   core.Pagination    `json:"pagination"`
}

// loadWorkflow reads and parses a workflow JSON file.
func loadWorkflow(path string) (*workflowFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow file: %w", err)
	}
	var wf workflowFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parsing workflow file %s: %w", path, err)
	}
	if len(wf.Graph.Nodes) == 0 {
		return nil, fmt.Errorf("workflow file %s has no nodes", path)
	}
	if wf.Tenant.TenantID == "" {
		return nil, fmt.Errorf("workflow file %s has no tenant id", path)
	}
	return &wf, nil
}

// resolveTarget returns the explicit target when given, falling back
// to the one recorded in the workflow file.
func resolveTarget(wf *workflowFile, flagTarget string) (string, error) {
	if flagTarget != "" {
		return flagTarget, nil
	}
	if wf.Target != "" {
		return wf.Target, nil
	}
	return "", fmt.Errorf("no target node: pass --target or set \"target\" in the workflow file")
}
