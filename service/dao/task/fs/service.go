package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"

	"github.com/gpumesh/marketplace/model"
	"github.com/gpumesh/marketplace/service/dao"
	"github.com/gpumesh/marketplace/service/dao/criteria"
)

// Service implements a filesystem-backed task store: one JSON document per
// task under a base path.  It lets a deployment keep a durable journal of
// tasks without a database; any afs-supported scheme (file, s3, gs, mem)
// works as the backing store.
type Service struct {
	basePath string
	fs       afs.Service
	mu       sync.RWMutex
}

var (
	_ dao.Service[string, model.Task] = (*Service)(nil)
	_ dao.Mutator[string, model.Task] = (*Service)(nil)
)

// Save persists a task to the filesystem.
func (s *Service) Save(ctx context.Context, task *model.Task) error {
	if task == nil {
		return dao.ErrNilEntity
	}
	if task.ID == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, task)
}

func (s *Service) save(ctx context.Context, task *model.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	filePath := s.taskPath(task.ID)
	if err = s.fs.Upload(ctx, filePath, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save task to file %s: %w", filePath, err)
	}
	return nil
}

// Load retrieves a task from the filesystem.
func (s *Service) Load(ctx context.Context, id string) (*model.Task, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(ctx, id)
}

func (s *Service) load(ctx context.Context, id string) (*model.Task, error) {
	filePath := s.taskPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to check if task exists: %w", err)
	}
	if !exists {
		return nil, dao.ErrNotFound
	}

	data, err := s.fs.DownloadWithURL(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}

	var task model.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task data: %w", err)
	}
	return &task, nil
}

// Mutate applies fn to the stored task while holding the store lock across
// the read and the write, so concurrent status changes serialize.
func (s *Service) Mutate(ctx context.Context, id string, fn func(*model.Task) error) (*model.Task, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(task); err != nil {
		return nil, err
	}
	if err := s.save(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Delete removes a task from the filesystem.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.taskPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return fmt.Errorf("failed to check if task exists: %w", err)
	}
	if !exists {
		return dao.ErrNotFound
	}
	if err := s.fs.Delete(ctx, filePath); err != nil {
		return fmt.Errorf("failed to delete task file: %w", err)
	}
	return nil
}

// List returns all tasks from the filesystem ordered by creation time
// descending, filtered by the supplied parameters.
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, err := s.fs.List(ctx, s.basePath, option.NewRecursive(true))
	if err != nil {
		return nil, fmt.Errorf("failed to list task files: %w", err)
	}

	var tasks []*model.Task
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}

		data, err := s.fs.Download(ctx, object)
		if err != nil {
			// Skip unreadable entries so one corrupt file does not hide the
			// rest of the journal.
			continue
		}

		var task model.Task
		if err := json.Unmarshal(data, &task); err != nil {
			continue
		}
		fields := map[string]string{
			"Status":      string(task.Status),
			"Type":        string(task.Type),
			"RequesterID": task.RequesterID,
			"GPUID":       task.GPUID,
		}
		if !criteria.Match(fields, parameters) {
			continue
		}
		tasks = append(tasks, &task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (s *Service) taskPath(id string) string {
	return path.Join(s.basePath, fmt.Sprintf("%s.json", id))
}

// New creates a new filesystem task store rooted at basePath.
func New(basePath string) (*Service, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	fs := afs.New()

	ctx := context.Background()
	exists, _ := fs.Exists(ctx, basePath)
	if !exists {
		if err := fs.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}

	basePath = url.Normalize(basePath, file.Scheme)

	return &Service{
		basePath: basePath,
		fs:       fs,
	}, nil
}
