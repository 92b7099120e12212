package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opencode-ai/core/internal/project"
	"github.com/opencode-ai/core/internal/storage"
	"github.com/opencode-ai/core/pkg/types"
)

const listProjectsDescription = `Lists the projects known to this runtime: the current working
directory's project plus any other project directories that have existing sessions on disk.`

// ListProjectsTool reports the set of project roots the runtime has seen,
// derived from persisted sessions rather than a separate projects index.
type ListProjectsTool struct {
	workDir string
	storage *storage.Storage
}

// NewListProjectsTool creates a new list_projects tool.
func NewListProjectsTool(workDir string, store *storage.Storage) *ListProjectsTool {
	return &ListProjectsTool{workDir: workDir, storage: store}
}

func (t *ListProjectsTool) ID() string          { return "list_projects" }
func (t *ListProjectsTool) Description() string { return listProjectsDescription }

func (t *ListProjectsTool) Spec() Spec {
	return Spec{Name: t.ID(), Description: t.Description(), Parameters: t.Parameters()}
}

func (t *ListProjectsTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {},
		"required": []
	}`)
}

func (t *ListProjectsTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	current, err := project.NewService(t.workDir).Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve current project: %w", err)
	}

	seen := map[string]*types.Project{current.ID: current}

	if t.storage != nil {
		_ = t.storage.Scan(ctx, []string{"session"}, func(key string, data json.RawMessage) error {
			var sess types.Session
			if err := json.Unmarshal(data, &sess); err != nil {
				return nil // skip malformed entries rather than aborting the scan
			}
			if sess.ProjectID == "" || sess.Directory == "" {
				return nil
			}
			if _, ok := seen[sess.ProjectID]; !ok {
				seen[sess.ProjectID] = &types.Project{ID: sess.ProjectID, Worktree: sess.Directory}
			}
			return nil
		})
	}

	projects := make([]types.Project, 0, len(seen))
	for _, p := range seen {
		projects = append(projects, *p)
	}

	var sb strings.Builder
	for _, p := range projects {
		sb.WriteString(fmt.Sprintf("%s  %s\n", p.ID, p.Worktree))
	}

	return &Result{
		Title:  fmt.Sprintf("%d projects", len(projects)),
		Output: sb.String(),
		Metadata: map[string]any{
			"projects": projects,
		},
	}, nil
}
