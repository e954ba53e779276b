package automation

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID creates a new UUID for a process, step, item, or task.
func GenerateID() string {
	return uuid.New().String()
}

// ValidateTemplate checks a template for defects that would make an
// instance unrunnable. All problems are collected so an editor can
// show them at once, not one save at a time.
//
// Jump targets are the critical check: a transition naming a step id
// that does not exist would only surface as a broken process mid-run,
// long after the author stopped looking.
func ValidateTemplate(tpl *Template) error {
	if tpl == nil {
		return &TemplateValidationError{Problems: []string{"template is required"}}
	}

	var problems []string

	if tpl.Title == "" {
		problems = append(problems, "title is required")
	}

	// A template with no steps is valid: the instance finishes on its
	// first tick with a terminal Invalid result.

	stepIDs := make(map[string]bool, len(tpl.Steps))
	for i, step := range tpl.Steps {
		if step.ID == "" {
			problems = append(problems, fmt.Sprintf("step[%d]: id is required", i))
			continue
		}
		if stepIDs[step.ID] {
			problems = append(problems, fmt.Sprintf("step[%d]: duplicate id %q", i, step.ID))
		}
		stepIDs[step.ID] = true
	}

	for i, step := range tpl.Steps {
		for j, item := range step.Preconditions {
			if item.Impl == nil {
				problems = append(problems, fmt.Sprintf("step[%d].preconditions[%d]: impl is required", i, j))
			}
		}
		for j, item := range step.Actions {
			if item.Impl == nil {
				problems = append(problems, fmt.Sprintf("step[%d].actions[%d]: impl is required", i, j))
			}
		}
		for j, tr := range step.Transitions {
			for k, item := range tr.Conditions {
				if item.Impl == nil {
					problems = append(problems, fmt.Sprintf("step[%d].transitions[%d].conditions[%d]: impl is required", i, j, k))
				}
			}
			if tr.Next.IsStep && !stepIDs[tr.Next.StepID] {
				problems = append(problems, fmt.Sprintf("step[%d].transitions[%d]: unknown next step %q", i, j, tr.Next.StepID))
			}
		}
	}

	if len(problems) > 0 {
		return &TemplateValidationError{TemplateID: tpl.ID, Problems: problems}
	}
	return nil
}

// InstantiateProcess creates a runnable process from a template.
//
// Every id in the template is replaced with a fresh one so two
// instances of the same template never share step or item identity;
// transition jump targets are remapped to the new step ids. The
// template is validated first, so instantiation cannot produce a
// process with dangling jumps.
func InstantiateProcess(tpl *Template) (*Process, error) {
	if err := ValidateTemplate(tpl); err != nil {
		return nil, err
	}

	proc := &Process{
		ID:      GenerateID(),
		Title:   tpl.Title,
		Steps:   make([]Step, len(tpl.Steps)),
		Results: []StepResult{},
	}

	idMap := make(map[string]string, len(tpl.Steps))
	for i := range tpl.Steps {
		idMap[tpl.Steps[i].ID] = GenerateID()
	}

	for i := range tpl.Steps {
		step := *tpl.Steps[i].DeepCopy()
		step.ID = idMap[tpl.Steps[i].ID]
		step.Preconditions = freshItemIDs(step.Preconditions)
		step.Actions = freshItemIDs(step.Actions)

		for j := range step.Transitions {
			step.Transitions[j].ID = GenerateID()
			step.Transitions[j].Conditions = freshItemIDs(step.Transitions[j].Conditions)
			if step.Transitions[j].Next.IsStep {
				step.Transitions[j].Next.StepID = idMap[step.Transitions[j].Next.StepID]
			}
		}

		proc.Steps[i] = step
	}

	return proc, nil
}

func freshItemIDs(items []Item) []Item {
	for i := range items {
		items[i].ID = GenerateID()
	}
	return items
}
