package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// InlineQueue выполняет задачи в фоновых горутинах того же процесса
type InlineQueue struct {
	handler Handler
	logger  *logrus.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewInlineQueue создает очередь с обработчиком
func NewInlineQueue(handler Handler, logger *logrus.Logger) *InlineQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &InlineQueue{
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Enqueue запускает обработку задачи и сразу возвращается.
// Контекст вызывающего не передается в задачу.
func (q *InlineQueue) Enqueue(ctx context.Context, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.handler(q.ctx, task); err != nil {
			q.logger.Errorf("Ошибка выполнения задачи %s (%s кадр %d): %v", task.ID, task.ExperimentID, task.FrameNo, err)
			return
		}
		q.logger.Debugf("Задача %s выполнена", task.ID)
	}()
	return nil
}

// Wait ждет завершения запущенных задач
func (q *InlineQueue) Wait() {
	q.wg.Wait()
}

// Close перестает принимать задачи, отменяет запущенные и ждет их остановки
func (q *InlineQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
	return nil
}
