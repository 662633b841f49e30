package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotExist объект отсутствует в архиве
var ErrNotExist = errors.New("archive object does not exist")

// Store архивное хранилище объектов (зона iRODS)
type Store interface {
	// Put загружает объект по логическому пути, заменяя существующий
	Put(ctx context.Context, name string, r io.Reader) error
	// Get читает объект целиком
	Get(ctx context.Context, name string) ([]byte, error)
	// Exists проверяет наличие объекта или коллекции
	Exists(ctx context.Context, name string) (bool, error)
	// Delete удаляет объект или коллекцию рекурсивно
	Delete(ctx context.Context, name string) error
	// List возвращает имена объектов коллекции (без подколлекций)
	List(ctx context.Context, dir string) ([]string, error)
}

// SegmentationPath путь к документу сегментации кадра.
// Пустой username дает путь системной сегментации.
func SegmentationPath(expID string, frameNo int, username string) string {
	return path.Join(SegmentationDir(expID, username), FrameFileName(frameNo))
}

// SegmentationDir коллекция документов сегментации
func SegmentationDir(expID, username string) string {
	if username != "" {
		return fmt.Sprintf("%s/data/user_segmentation/%s", expID, username)
	}
	return fmt.Sprintf("%s/data/segmentation", expID)
}

// BackupPath путь для резервной копии системного документа
func BackupPath(expID string, frameNo int, stamp string) string {
	return fmt.Sprintf("%s/data/segmentation/backup/frame%d.%s.json", expID, frameNo, stamp)
}

// ImageDir коллекция кадров эксперимента
func ImageDir(expID string) string {
	return fmt.Sprintf("%s/data/image/jpg", expID)
}

// ExperimentDir корневая коллекция эксперимента
func ExperimentDir(expID string) string {
	return expID
}

// FrameFileName имя файла документа кадра
func FrameFileName(frameNo int) string {
	return fmt.Sprintf("frame%d.json", frameNo)
}

// ParseFrameFileName извлекает номер кадра из имени вида frame{N}.json
func ParseFrameFileName(name string) (int, bool) {
	base := path.Base(name)
	if !strings.HasPrefix(base, "frame") || path.Ext(base) != ".json" {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(base, "frame"), ".json")
	if digits == "" {
		return 0, false
	}
	n := 0
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// FSStore хранилище поверх локальной файловой системы (смонтированная зона)
type FSStore struct {
	root string
}

// NewFSStore создает хранилище с корнем root
func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

func (s *FSStore) resolve(name string) (string, error) {
	clean := path.Clean("/" + name)
	if clean == "/" {
		return "", fmt.Errorf("invalid archive path %q", name)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put пишет во временный файл рядом с целевым и переименовывает его
func (s *FSStore) Put(ctx context.Context, name string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.resolve(name)
	if err != nil {
		return err
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create staging file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close staging file: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", name, err)
	}
	return nil
}

// Get читает объект
func (s *FSStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotExist)
		}
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// Exists проверяет наличие объекта
func (s *FSStore) Exists(ctx context.Context, name string) (bool, error) {
	target, err := s.resolve(name)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return true, nil
}

// Delete удаляет объект или коллекцию
func (s *FSStore) Delete(ctx context.Context, name string) error {
	target, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}

// List возвращает отсортированные имена объектов коллекции
func (s *FSStore) List(ctx context.Context, dir string) ([]string, error) {
	target, err := s.resolve(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", dir, ErrNotExist)
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".upload-") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
