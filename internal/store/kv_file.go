package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileKV 单键 JSON 文件存储，承载指纹缓存的提交记录列表
type FileKV struct {
	mu   sync.Mutex
	file string
}

func NewFileKV(dataDir, fileName string) (*FileKV, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	return &FileKV{file: filepath.Join(dataDir, fileName)}, nil
}

func (s *FileKV) Load() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取指纹文件失败: %w", err)
	}
	return data, nil
}

func (s *FileKV) Save(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.file, data, 0o600); err != nil {
		return fmt.Errorf("写入指纹文件失败: %w", err)
	}
	return nil
}

// MemoryKV 进程内单键存储，用于测试与无数据目录的部署
type MemoryKV struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{}
}

func (s *MemoryKV) Load() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data, nil
}

func (s *MemoryKV) Save(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	return nil
}
