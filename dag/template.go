package dag

import (
	"context"
	"strings"

	"github.com/Casys-AI/pml-std-sub000/config"
	"github.com/Casys-AI/pml-std-sub000/pmlerr"
	"github.com/Casys-AI/pml-std-sub000/types"
)

// Planner expands a free-text intent into an executable workflow. The
// full agentic planning loop is out of scope (spec.md §9); this
// interface is the seam a real planner would implement.
type Planner interface {
	Plan(ctx context.Context, intent string) (*types.Workflow, error)
}

// TemplatePlanner selects a pre-authored workflow template (loaded from
// PML_CONFIG_FILE, see config.WorkflowTemplate) whose Match substring
// appears in the intent, case-insensitively. The first matching template
// in declaration order wins.
type TemplatePlanner struct {
	templates []config.WorkflowTemplate
}

// NewTemplatePlanner builds a planner over the given templates.
func NewTemplatePlanner(templates []config.WorkflowTemplate) *TemplatePlanner {
	return &TemplatePlanner{templates: templates}
}

// Plan returns a deep-enough copy of the first matching template's
// workflow (the Tasks slice is copied so callers may mutate it freely).
func (p *TemplatePlanner) Plan(ctx context.Context, intent string) (*types.Workflow, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	lower := strings.ToLower(intent)
	for _, tmpl := range p.templates {
		if tmpl.Match == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(tmpl.Match)) {
			tasks := make([]types.Task, len(tmpl.Workflow.Tasks))
			copy(tasks, tmpl.Workflow.Tasks)
			return &types.Workflow{Tasks: tasks}, nil
		}
	}
	return nil, pmlerr.New(pmlerr.NotFound, "no workflow template matches intent")
}
