package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cell-tracker-go/internal/model"
	"cell-tracker-go/internal/repository"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout время жизни блокировки без продления
const DefaultTimeout = 12 * time.Hour

// ErrLockedByOther эксперимент заблокирован другим пользователем
var ErrLockedByOther = errors.New("experiment is locked by another user")

// Clock источник текущего времени
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock системные часы
var RealClock Clock = realClock{}

// Manager менеджер блокировок экспериментов
type Manager struct {
	locks   repository.LockRepository
	clock   Clock
	timeout time.Duration
	logger  *logrus.Logger
}

// NewManager создает менеджер. Нулевой timeout означает DefaultTimeout.
func NewManager(locks repository.LockRepository, clock Clock, timeout time.Duration, logger *logrus.Logger) *Manager {
	if clock == nil {
		clock = RealClock
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		locks:   locks,
		clock:   clock,
		timeout: timeout,
		logger:  logger,
	}
}

// IsLocked проверяет блокировку и возвращает ее владельца.
// Истекшая блокировка снимается при проверке.
func (m *Manager) IsLocked(ctx context.Context, expID string) (bool, string, error) {
	lock, err := m.locks.Get(ctx, expID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, "", nil
		}
		return false, "", err
	}

	if m.clock.Now().Sub(lock.LockedTime) >= m.timeout {
		if err := m.locks.Delete(ctx, expID); err != nil {
			return false, "", err
		}
		m.logger.Infof("Блокировка эксперимента %s пользователем %s истекла", expID, lock.LockedUser)
		return false, "", nil
	}
	return true, lock.LockedUser, nil
}

// Acquire снимает прочие блокировки пользователя и блокирует эксперимент.
// Повторный вызов владельцем продлевает блокировку.
func (m *Manager) Acquire(ctx context.Context, expID, username string) error {
	if username == "" {
		return fmt.Errorf("username is required to lock an experiment")
	}

	locked, holder, err := m.IsLocked(ctx, expID)
	if err != nil {
		return err
	}
	if locked && holder != username {
		return fmt.Errorf("%s held by %s: %w", expID, holder, ErrLockedByOther)
	}

	err = m.locks.Replace(ctx, &model.ExperimentLock{
		ExpID:      expID,
		LockedUser: username,
		LockedTime: m.clock.Now().UTC(),
	})
	if err != nil {
		return err
	}
	m.logger.Infof("Эксперимент %s заблокирован пользователем %s", expID, username)
	return nil
}

// ReleaseAllForUser снимает все блокировки пользователя (выход из системы)
func (m *Manager) ReleaseAllForUser(ctx context.Context, username string) (int64, error) {
	n, err := m.locks.DeleteByUser(ctx, username)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Infof("Снято блокировок пользователя %s: %d", username, n)
	}
	return n, nil
}

// CanEdit может ли пользователь править эксперимент: свободен или заблокирован им самим
func (m *Manager) CanEdit(ctx context.Context, expID, username string) (bool, error) {
	locked, holder, err := m.IsLocked(ctx, expID)
	if err != nil {
		return false, err
	}
	return !locked || holder == username, nil
}
