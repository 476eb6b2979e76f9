package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/John-Robertt/bbthumb/internal/infra/fsx"
)

const fileVersion = 1

// File 是 <output_dir>/.bbthumb/ledger.json 上的 ledger。
//
// 约束：
// - Open 时整体读入内存；Mark 只改内存，Flush/Close 时原子覆盖写
// - dry-run：只允许读（ReadOnly=true）
type File struct {
	Path     string
	ReadOnly bool

	mu      sync.Mutex
	entries map[string]Entry
	dirty   bool
}

type fileDoc struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// FilePath 返回 output_dir 对应的 ledger 文件路径。
func FilePath(outputDir string) string {
	return filepath.Join(filepath.Clean(strings.TrimSpace(outputDir)), ".bbthumb", "ledger.json")
}

// OpenFile 读取（或新建）文件 ledger。文件不存在不是错误。
func OpenFile(path string, readOnly bool) (*File, error) {
	f := &File{Path: path, ReadOnly: readOnly, entries: make(map[string]Entry)}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, err
	}
	var doc fileDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("ledger 解析失败：%s：%w", path, err)
	}
	if doc.Version != fileVersion {
		return nil, fmt.Errorf("ledger 版本不支持：%d", doc.Version)
	}
	for k, v := range doc.Entries {
		f.entries[k] = v
	}
	return f, nil
}

func (f *File) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	return e, ok, nil
}

func (f *File) Mark(ctx context.Context, key string, e Entry) error {
	if f.ReadOnly {
		return ErrReadOnly
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("ledger key 不能为空")
	}
	f.mu.Lock()
	f.entries[key] = e
	f.dirty = true
	f.mu.Unlock()
	return nil
}

func (f *File) Flush(ctx context.Context) error {
	if f.ReadOnly {
		return nil
	}
	f.mu.Lock()
	if !f.dirty {
		f.mu.Unlock()
		return nil
	}
	doc := fileDoc{Version: fileVersion, Entries: make(map[string]Entry, len(f.entries))}
	for k, v := range f.entries {
		doc.Entries[k] = v
	}
	f.dirty = false
	f.mu.Unlock()

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := fsx.WriteFileAtomic(f.Path, append(b, '\n')); err != nil {
		f.mu.Lock()
		f.dirty = true
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *File) Close() error {
	return f.Flush(context.Background())
}
