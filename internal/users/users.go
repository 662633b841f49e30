package users

import (
	"context"
	"errors"

	"cell-tracker-go/internal/model"
	"cell-tracker-go/internal/repository"

	"github.com/sirupsen/logrus"
)

// Directory справочник пользователей.
// При ошибке поиска пользователь считается невалидным.
type Directory interface {
	ValidateUser(ctx context.Context, username string) (bool, error)
	IsPowerUser(ctx context.Context, username string) (bool, error)
}

// DBDirectory справочник поверх таблицы users
type DBDirectory struct {
	users  repository.UserRepository
	logger *logrus.Logger
}

// NewDBDirectory создает справочник
func NewDBDirectory(users repository.UserRepository, logger *logrus.Logger) *DBDirectory {
	return &DBDirectory{users: users, logger: logger}
}

// ValidateUser существует ли пользователь
func (d *DBDirectory) ValidateUser(ctx context.Context, username string) (bool, error) {
	if username == "" {
		return false, nil
	}
	_, err := d.users.Get(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			d.logger.Warnf("Пользователь %s не найден", username)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsPowerUser имеет ли пользователь роль PU
func (d *DBDirectory) IsPowerUser(ctx context.Context, username string) (bool, error) {
	if username == "" {
		return false, nil
	}
	u, err := d.users.Get(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return u.Role == model.RolePower, nil
}

// Static справочник из фиксированного набора, для тестов и локального запуска
type Static map[string]string

// ValidateUser есть ли пользователь в наборе
func (s Static) ValidateUser(ctx context.Context, username string) (bool, error) {
	_, ok := s[username]
	return ok && username != "", nil
}

// IsPowerUser роль пользователя PU
func (s Static) IsPowerUser(ctx context.Context, username string) (bool, error) {
	return s[username] == model.RolePower, nil
}
