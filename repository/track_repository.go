package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"SliceFM/logger"
	"SliceFM/model"

	"github.com/fsnotify/fsnotify"
)

// TrackRepository 曲目索引的只读访问接口
type TrackRepository interface {
	// GetTrackByID 未找到时返回 nil, nil
	GetTrackByID(ctx context.Context, id int64) (*model.Track, error)
	ListTracks(ctx context.Context) ([]*model.Track, error)
}

// FileTrackRepository 从 streams.json 加载索引，ID 为数组下标
type FileTrackRepository struct {
	path string

	mu     sync.RWMutex
	tracks []*model.Track

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFileTrackRepository 加载索引文件
func NewFileTrackRepository(path string) (*FileTrackRepository, error) {
	r := &FileTrackRepository{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadTracks 解析索引文件并按位置分配 ID
func LoadTracks(path string) ([]*model.Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read track index %s: %w", path, err)
	}
	var tracks []*model.Track
	if err := json.Unmarshal(data, &tracks); err != nil {
		return nil, fmt.Errorf("parse track index %s: %w", path, err)
	}
	for i, t := range tracks {
		t.ID = int64(i)
	}
	return tracks, nil
}

// Reload 重新读取索引文件，失败时保留旧索引
func (r *FileTrackRepository) Reload() error {
	tracks, err := LoadTracks(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.tracks = tracks
	r.mu.Unlock()
	logger.Info("track index loaded",
		logger.String("path", r.path),
		logger.Int("tracks", len(tracks)))
	return nil
}

// GetTrackByID 根据ID获取曲目
func (r *FileTrackRepository) GetTrackByID(ctx context.Context, id int64) (*model.Track, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || id >= int64(len(r.tracks)) {
		return nil, nil
	}
	return r.tracks[id], nil
}

// ListTracks 返回索引快照
func (r *FileTrackRepository) ListTracks(ctx context.Context) ([]*model.Track, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Track, len(r.tracks))
	copy(out, r.tracks)
	return out, nil
}

// Watch 监听索引文件变化并自动重新加载。
// 监听的是所在目录，这样原子替换（写临时文件再 rename）也能被捕获。
func (r *FileTrackRepository) Watch(debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create index watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", r.path, err)
	}
	r.watcher = watcher
	r.done = make(chan struct{})

	target := filepath.Clean(r.path)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		var timer *time.Timer
		reload := make(chan struct{}, 1)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			case <-reload:
				if err := r.Reload(); err != nil {
					logger.Warn("track index reload failed, keeping previous index",
						logger.String("path", r.path),
						logger.ErrorField(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("track index watcher error", logger.ErrorField(err))
			case <-r.done:
				if timer != nil {
					timer.Stop()
				}
				return
			}
		}
	}()
	return nil
}

// Close 停止监听
func (r *FileTrackRepository) Close() error {
	if r.watcher == nil {
		return nil
	}
	close(r.done)
	err := r.watcher.Close()
	r.wg.Wait()
	r.watcher = nil
	return err
}

// MemoryTrackRepository 内存索引，用于测试和导入
type MemoryTrackRepository struct {
	Tracks []*model.Track
}

// NewMemoryTrackRepository 按位置为给定曲目分配 ID
func NewMemoryTrackRepository(tracks []*model.Track) *MemoryTrackRepository {
	for i, t := range tracks {
		t.ID = int64(i)
	}
	return &MemoryTrackRepository{Tracks: tracks}
}

func (r *MemoryTrackRepository) GetTrackByID(ctx context.Context, id int64) (*model.Track, error) {
	if id < 0 || id >= int64(len(r.Tracks)) {
		return nil, nil
	}
	return r.Tracks[id], nil
}

func (r *MemoryTrackRepository) ListTracks(ctx context.Context) ([]*model.Track, error) {
	return r.Tracks, nil
}
