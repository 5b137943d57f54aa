package a2a

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// TaskStore holds the tasks an agent endpoint is serving. Reads return
// copies so callers never share state with the store.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*storedTask
	now   func() time.Time
}

type storedTask struct {
	task    Task
	push    *PushNotificationConfig
	created time.Time
}

func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]*storedTask), now: time.Now}
}

// Upsert returns the task with id, creating it in the submitted state when it
// does not exist. The message is appended to the task history.
func (s *TaskStore) Upsert(id, sessionID string, msg Message, push *PushNotificationConfig) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tasks[id]
	if !ok {
		now := s.now()
		st = &storedTask{
			task: Task{
				ID:        id,
				SessionID: sessionID,
				Status:    TaskStatus{State: TaskStateSubmitted, Timestamp: &now},
			},
			created: now,
		}
		s.tasks[id] = st
	}
	st.task.History = append(st.task.History, msg)
	if push != nil {
		st.push = push
	}
	return copyTask(st.task), !ok
}

func (s *TaskStore) Get(id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("task %q not found", id)
	}
	return copyTask(st.task), nil
}

// GetWithHistory returns the task trimmed to the last historyLength
// messages. A nil length returns no history.
func (s *TaskStore) GetWithHistory(id string, historyLength *int) (Task, error) {
	t, err := s.Get(id)
	if err != nil {
		return Task{}, err
	}
	if historyLength == nil {
		t.History = nil
		return t, nil
	}
	if n := *historyLength; n < len(t.History) {
		t.History = t.History[len(t.History)-n:]
	}
	return t, nil
}

func (s *TaskStore) SetStatus(id string, status TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	if status.Timestamp == nil {
		now := s.now()
		status.Timestamp = &now
	}
	st.task.Status = status
	if status.Message != nil {
		st.task.History = append(st.task.History, *status.Message)
	}
	return nil
}

func (s *TaskStore) AddArtifact(id string, a Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	st.task.Artifacts = append(st.task.Artifacts, a)
	return nil
}

func (s *TaskStore) PushConfig(id string) *PushNotificationConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.tasks[id]; ok && st.push != nil {
		cfg := *st.push
		return &cfg
	}
	return nil
}

// List returns all tasks, oldest first.
func (s *TaskStore) List() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := make([]*storedTask, 0, len(s.tasks))
	for _, st := range s.tasks {
		stored = append(stored, st)
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].created.Before(stored[j].created) })

	result := make([]Task, 0, len(stored))
	for _, st := range stored {
		result = append(result, copyTask(st.task))
	}
	return result
}

func copyTask(t Task) Task {
	t.Artifacts = append([]Artifact(nil), t.Artifacts...)
	t.History = append([]Message(nil), t.History...)
	return t
}
