package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
)

// MemoryStore хранилище в памяти для тестов и локальной разработки
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	// PutErr если задана, возвращается из каждого Put
	PutErr error
	puts   int
}

// NewMemoryStore создает пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put сохраняет копию данных
func (s *MemoryStore) Put(ctx context.Context, name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PutErr != nil {
		return s.PutErr
	}
	s.objects[path.Clean(name)] = data
	s.puts++
	return nil
}

// Get возвращает копию данных
func (s *MemoryStore) Get(ctx context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path.Clean(name)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotExist)
	}
	return bytes.Clone(data), nil
}

// Exists проверяет наличие объекта или коллекции
func (s *MemoryStore) Exists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name = path.Clean(name)
	if _, ok := s.objects[name]; ok {
		return true, nil
	}
	prefix := name + "/"
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			return true, nil
		}
	}
	return false, nil
}

// Delete удаляет объект и все вложенные
func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name = path.Clean(name)
	prefix := name + "/"
	for k := range s.objects {
		if k == name || strings.HasPrefix(k, prefix) {
			delete(s.objects, k)
		}
	}
	return nil
}

// List возвращает имена объектов непосредственно в коллекции
func (s *MemoryStore) List(ctx context.Context, dir string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := path.Clean(dir) + "/"
	var names []string
	found := false
	for k := range s.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		found = true
		rest := strings.TrimPrefix(k, prefix)
		if !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	if !found {
		return nil, fmt.Errorf("%s: %w", dir, ErrNotExist)
	}
	sort.Strings(names)
	return names, nil
}

// Puts количество успешных загрузок
func (s *MemoryStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// Keys все пути объектов
func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
