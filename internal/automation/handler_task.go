package automation

import (
	"context"
	"fmt"
)

// matchingTasks returns all stored tasks for (processID, ref).
func matchingTasks(ctx context.Context, tasks TaskStore, processID, ref string) ([]Task, error) {
	all, err := tasks.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	matched := make([]Task, 0, 1)
	for _, t := range all {
		if t.ProcessID == processID && t.Ref == ref {
			matched = append(matched, t)
		}
	}
	return matched, nil
}

// taskStatusHandler implements the TaskStatus condition: hold the step
// until every task matching the ref reaches the configured status.
type taskStatusHandler struct {
	baseHandler
	tasks TaskStore
}

// Prepare ensures a task exists for the ref so there is always
// something for the operator to complete. With ResetStatus set,
// existing tasks are pushed back to it, so a revisited step waits
// from scratch instead of passing on stale completions.
func (h *taskStatusHandler) Prepare(ctx context.Context, impl Impl, hctx *HandlerContext) error {
	cfg := impl.(TaskStatusImpl)
	if cfg.Ref == "" {
		return fmt.Errorf("automation: task status item needs a ref")
	}

	matched, err := matchingTasks(ctx, h.tasks, hctx.Process.ID, cfg.Ref)
	if err != nil {
		return err
	}

	if len(matched) == 0 {
		task := &Task{
			ID:        GenerateID(),
			Ref:       cfg.Ref,
			Title:     cfg.Ref,
			Status:    TaskCreated,
			CreatedBy: TaskByAction,
			ProcessID: hctx.Process.ID,
			StepID:    hctx.Result.StepID,
		}
		if _, err := h.tasks.Save(ctx, task); err != nil {
			return err
		}
		return nil
	}

	if cfg.ResetStatus == "" {
		return nil
	}
	for i := range matched {
		if matched[i].Status == cfg.ResetStatus {
			continue
		}
		matched[i].Status = cfg.ResetStatus
		if _, err := h.tasks.Save(ctx, &matched[i]); err != nil {
			return err
		}
	}
	return nil
}

func (h *taskStatusHandler) Check(ctx context.Context, impl Impl, hctx *HandlerContext) (bool, error) {
	cfg := impl.(TaskStatusImpl)
	if cfg.Ref == "" {
		return true, nil
	}

	matched, err := matchingTasks(ctx, h.tasks, hctx.Process.ID, cfg.Ref)
	if err != nil {
		return false, err
	}

	for _, t := range matched {
		if t.Status != cfg.Status {
			return false, nil
		}
	}
	return true, nil
}

// taskCreateHandler implements the TaskCreate action. Every Apply
// creates a new task, even when one with the same ref already exists;
// a step that needs exactly-one-per-ref uses TaskStatus, whose Prepare
// only fills the gap.
type taskCreateHandler struct {
	baseHandler
	tasks TaskStore
}

func (h *taskCreateHandler) Apply(ctx context.Context, impl Impl, hctx *HandlerContext) error {
	cfg := impl.(TaskCreateImpl)
	if cfg.Ref == "" {
		return fmt.Errorf("automation: task create item needs a ref")
	}

	title := cfg.Title
	if title == "" {
		title = cfg.Ref
	}
	task := &Task{
		ID:        GenerateID(),
		Ref:       cfg.Ref,
		Title:     title,
		Message:   cfg.Message,
		Status:    TaskCreated,
		CreatedBy: TaskByAction,
		ProcessID: hctx.Process.ID,
		StepID:    hctx.Result.StepID,
	}
	_, err := h.tasks.Save(ctx, task)
	return err
}

// taskEditHandler implements the TaskEdit action: update every task
// matching the ref, creating one when none exist. Only explicitly
// provided fields are applied, so an edit that only flips status
// leaves titles and messages alone.
type taskEditHandler struct {
	baseHandler
	tasks TaskStore
}

func (h *taskEditHandler) Apply(ctx context.Context, impl Impl, hctx *HandlerContext) error {
	cfg := impl.(TaskEditImpl)
	if cfg.Ref == "" {
		return fmt.Errorf("automation: task edit item needs a ref")
	}

	matched, err := matchingTasks(ctx, h.tasks, hctx.Process.ID, cfg.Ref)
	if err != nil {
		return err
	}

	if len(matched) == 0 {
		task := &Task{
			ID:        GenerateID(),
			Ref:       cfg.Ref,
			Title:     cfg.Ref,
			Status:    TaskCreated,
			CreatedBy: TaskByAction,
			ProcessID: hctx.Process.ID,
			StepID:    hctx.Result.StepID,
		}
		applyTaskEdit(task, cfg)
		_, err := h.tasks.Save(ctx, task)
		return err
	}

	for i := range matched {
		applyTaskEdit(&matched[i], cfg)
		if _, err := h.tasks.Save(ctx, &matched[i]); err != nil {
			return err
		}
	}
	return nil
}

func applyTaskEdit(task *Task, cfg TaskEditImpl) {
	if cfg.Title != nil {
		task.Title = *cfg.Title
	}
	if cfg.Message != nil {
		task.Message = *cfg.Message
	}
	if cfg.Status != nil {
		task.Status = *cfg.Status
	}
}
