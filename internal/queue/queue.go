package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task задача трекинга после сохранения кадра пользователем
type Task struct {
	ID           uuid.UUID `json:"id"`
	ExperimentID string    `json:"exp_id"`
	Username     string    `json:"username,omitempty"`
	FrameNo      int       `json:"frame_no,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewTask создает задачу с новым идентификатором
func NewTask(expID, username string, frameNo int) Task {
	return Task{
		ID:           uuid.New(),
		ExperimentID: expID,
		Username:     username,
		FrameNo:      frameNo,
		CreatedAt:    time.Now().UTC(),
	}
}

// Encode сериализует задачу в JSON
func (t Task) Encode() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task: %w", err)
	}
	return data, nil
}

// DecodeTask разбирает задачу из JSON
func DecodeTask(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("failed to decode task: %w", err)
	}
	if t.ExperimentID == "" {
		return Task{}, fmt.Errorf("task %s has no experiment id", t.ID)
	}
	return t, nil
}

// Handler обработчик задачи
type Handler func(ctx context.Context, task Task) error

// Queue очередь задач трекинга
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Close() error
}
