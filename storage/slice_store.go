package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound 对象不存在
var ErrNotFound = errors.New("object not found")

// SliceStore 切片与封面文件的读取接口，key 为索引中的相对路径
type SliceStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// FileStore 从本地文件系统读取
type FileStore struct {
	Root string
}

// NewFileStore 创建本地存储，root 为空时 key 按当前目录解析
func NewFileStore(root string) *FileStore {
	return &FileStore{Root: root}
}

func (s *FileStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.Root, clean), nil
}

// Get 读取文件内容
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// MemoryStore 内存存储，用于测试
type MemoryStore map[string][]byte

func (s MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := s[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

// ObjectKey 把索引中的路径转换为对象存储的 key
func ObjectKey(key string) string {
	return strings.TrimPrefix(filepath.ToSlash(filepath.Clean(key)), "./")
}
