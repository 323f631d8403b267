package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/xkilldash9x/flow-automator/api/schemas"
)

// -- Prompt queue --

// Queue returns the prompt queue, empty when unset.
func (s *Store) Queue(ctx context.Context) ([]schemas.PromptItem, error) {
	queue := []schemas.PromptItem{}
	if err := s.load(ctx, KeyPromptQueue, &queue); err != nil {
		return nil, err
	}
	for i := range queue {
		if queue[i].Status == "" {
			queue[i].Status = schemas.PromptPending
		}
	}
	return queue, nil
}

// SetQueue replaces the queue.
func (s *Store) SetQueue(ctx context.Context, queue []schemas.PromptItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setQueue(ctx, queue)
}

func (s *Store) setQueue(ctx context.Context, queue []schemas.PromptItem) error {
	if queue == nil {
		queue = []schemas.PromptItem{}
	}
	return s.save(ctx, KeyPromptQueue, queue)
}

// ClearQueue empties the queue.
func (s *Store) ClearQueue(ctx context.Context) error {
	return s.SetQueue(ctx, nil)
}

// UpdateQueue applies fn to the queue and stores the result.
func (s *Store) UpdateQueue(ctx context.Context, fn func([]schemas.PromptItem) ([]schemas.PromptItem, error)) ([]schemas.PromptItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue, err := s.Queue(ctx)
	if err != nil {
		return nil, err
	}
	next, err := fn(queue)
	if err != nil {
		return nil, err
	}
	if err := s.setQueue(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// AddPrompt appends text as a pending item. Blank text is ignored and
// reported as not added.
func (s *Store) AddPrompt(ctx context.Context, text string) (bool, error) {
	item := schemas.NewPromptItem(text)
	if item.Text == "" {
		return false, nil
	}
	_, err := s.UpdateQueue(ctx, func(q []schemas.PromptItem) ([]schemas.PromptItem, error) {
		return append(q, item), nil
	})
	return err == nil, err
}

// ImportPrompts appends one pending item per non-blank line of text and
// returns how many were added.
func (s *Store) ImportPrompts(ctx context.Context, text string) (int, error) {
	var items []schemas.PromptItem
	for _, line := range strings.Split(text, "\n") {
		if item := schemas.NewPromptItem(line); item.Text != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return 0, nil
	}
	_, err := s.UpdateQueue(ctx, func(q []schemas.PromptItem) ([]schemas.PromptItem, error) {
		return append(q, items...), nil
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// RemovePrompt deletes the item at index.
func (s *Store) RemovePrompt(ctx context.Context, index int) error {
	_, err := s.UpdateQueue(ctx, func(q []schemas.PromptItem) ([]schemas.PromptItem, error) {
		if index < 0 || index >= len(q) {
			return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
		}
		return append(q[:index], q[index+1:]...), nil
	})
	return err
}

// SetPromptStatus updates the status of the item at index.
func (s *Store) SetPromptStatus(ctx context.Context, index int, status schemas.PromptStatus) error {
	_, err := s.UpdateQueue(ctx, func(q []schemas.PromptItem) ([]schemas.PromptItem, error) {
		if index < 0 || index >= len(q) {
			return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
		}
		q[index].Status = status
		return q, nil
	})
	return err
}

// ResetQueue returns every unfinished item (failed, pending or left
// generating) to pending. Done items are kept.
func (s *Store) ResetQueue(ctx context.Context) ([]schemas.PromptItem, error) {
	return s.UpdateQueue(ctx, func(q []schemas.PromptItem) ([]schemas.PromptItem, error) {
		for i := range q {
			if q[i].Status != schemas.PromptDone {
				q[i].Status = schemas.PromptPending
			}
		}
		return q, nil
	})
}

// -- Settings --

// Settings returns the stored settings merged over the defaults.
func (s *Store) Settings(ctx context.Context) (schemas.Settings, error) {
	settings := schemas.DefaultSettings()
	if err := s.load(ctx, KeySettings, &settings); err != nil {
		return schemas.Settings{}, err
	}
	return settings, nil
}

// UpdateSettings merges patch over the current settings. patch may be a
// Settings value, a map or raw JSON naming only the fields to change.
func (s *Store) UpdateSettings(ctx context.Context, patch interface{}) (schemas.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, err := s.Settings(ctx)
	if err != nil {
		return schemas.Settings{}, err
	}
	if err := overlay(&settings, patch); err != nil {
		return schemas.Settings{}, err
	}
	if err := s.save(ctx, KeySettings, settings); err != nil {
		return schemas.Settings{}, err
	}
	return settings, nil
}

// -- Picked elements --

// PickedElements returns the saved descriptors by role.
func (s *Store) PickedElements(ctx context.Context) (schemas.PickedElements, error) {
	picked := schemas.PickedElements{}
	if err := s.load(ctx, KeyPickedElements, &picked); err != nil {
		return nil, err
	}
	return picked, nil
}

func (s *Store) updatePicked(ctx context.Context, fn func(schemas.PickedElements)) (schemas.PickedElements, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	picked, err := s.PickedElements(ctx)
	if err != nil {
		return nil, err
	}
	fn(picked)
	if err := s.save(ctx, KeyPickedElements, picked); err != nil {
		return nil, err
	}
	return picked, nil
}

// SetPickedElement stores desc for role and returns the full map.
func (s *Store) SetPickedElement(ctx context.Context, role schemas.ElementRole, desc schemas.ElementDescriptor) (schemas.PickedElements, error) {
	return s.updatePicked(ctx, func(p schemas.PickedElements) { p[role] = desc })
}

// ClearPickedElement forgets role and returns the remaining map.
func (s *Store) ClearPickedElement(ctx context.Context, role schemas.ElementRole) (schemas.PickedElements, error) {
	return s.updatePicked(ctx, func(p schemas.PickedElements) { delete(p, role) })
}

// ClearPickedElements forgets every role.
func (s *Store) ClearPickedElements(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, KeyPickedElements, schemas.PickedElements{})
}

// -- Video specs --

// VideoSpecs returns the stored generation options.
func (s *Store) VideoSpecs(ctx context.Context) (schemas.VideoSpecs, error) {
	var specs schemas.VideoSpecs
	if err := s.load(ctx, KeyVideoSpecs, &specs); err != nil {
		return schemas.VideoSpecs{}, err
	}
	return specs, nil
}

// UpdateVideoSpecs merges patch over the stored options. An empty string
// clears a field.
func (s *Store) UpdateVideoSpecs(ctx context.Context, patch interface{}) (schemas.VideoSpecs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	specs, err := s.VideoSpecs(ctx)
	if err != nil {
		return schemas.VideoSpecs{}, err
	}
	if err := overlay(&specs, patch); err != nil {
		return schemas.VideoSpecs{}, err
	}
	if err := s.save(ctx, KeyVideoSpecs, specs); err != nil {
		return schemas.VideoSpecs{}, err
	}
	return specs, nil
}

// -- Download folder --

// DownloadFolder returns the subfolder downloads are written to.
func (s *Store) DownloadFolder(ctx context.Context) (string, error) {
	var folder string
	if err := s.load(ctx, KeyDownloadFolder, &folder); err != nil {
		return "", err
	}
	return folder, nil
}

// SetDownloadFolder stores folder.
func (s *Store) SetDownloadFolder(ctx context.Context, folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, KeyDownloadFolder, strings.TrimSpace(folder))
}

// -- Pipeline state --

// PipelineState returns the persisted state, idle at index 0 when unset.
func (s *Store) PipelineState(ctx context.Context) (schemas.PipelineState, error) {
	state := schemas.DefaultPipelineState()
	if err := s.load(ctx, KeyPipelineState, &state); err != nil {
		return schemas.PipelineState{}, err
	}
	return state, nil
}

// UpdatePipelineState applies fn to the persisted state.
func (s *Store) UpdatePipelineState(ctx context.Context, fn func(*schemas.PipelineState)) (schemas.PipelineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.PipelineState(ctx)
	if err != nil {
		return schemas.PipelineState{}, err
	}
	fn(&state)
	if err := s.save(ctx, KeyPipelineState, state); err != nil {
		return schemas.PipelineState{}, err
	}
	return state, nil
}

// SetPipelineStatus is UpdatePipelineState for the status field alone.
func (s *Store) SetPipelineStatus(ctx context.Context, status schemas.PipelineStatus) error {
	_, err := s.UpdatePipelineState(ctx, func(st *schemas.PipelineState) { st.Status = status })
	return err
}

// ResetPipelineState stores the idle state at index 0.
func (s *Store) ResetPipelineState(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, KeyPipelineState, schemas.DefaultPipelineState())
}

// -- Activity log --

// AddLog appends an entry stamped with the current time, dropping the
// oldest entries beyond MaxLogEntries.
func (s *Store) AddLog(ctx context.Context, typ schemas.LogType, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	logs, err := s.Logs(ctx)
	if err != nil {
		return err
	}
	logs = append(logs, schemas.LogEntry{Type: typ, Message: message, Timestamp: s.now().UnixMilli()})
	if over := len(logs) - schemas.MaxLogEntries; over > 0 {
		logs = logs[over:]
	}
	return s.save(ctx, KeyLogs, logs)
}

// Logs returns the activity log, oldest first.
func (s *Store) Logs(ctx context.Context) ([]schemas.LogEntry, error) {
	logs := []schemas.LogEntry{}
	if err := s.load(ctx, KeyLogs, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// ClearLogs empties the activity log.
func (s *Store) ClearLogs(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, KeyLogs, []schemas.LogEntry{})
}
