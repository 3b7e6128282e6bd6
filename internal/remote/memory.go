package remote

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/hitoshi/inkstand/internal/model"
)

// Fault はMemoryStoreの操作に失敗を注入するフック。
// nil以外を返すとその操作はストアを変更せずにエラーを返す。
type Fault func(op, path string) error

// MemoryStore はメモリ上のFileStore実装。
// SHAはgitのblobハッシュと同じ方法で計算する。
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string][]byte
	fault Fault
	calls map[string]int
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files: make(map[string][]byte),
		calls: make(map[string]int),
	}
}

// BlobSHA はgitのblobオブジェクトと同じSHA-1を返す。
func BlobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// SetFault は失敗注入フックを設定する。nilで解除する。
func (m *MemoryStore) SetFault(f Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

// Calls は操作ごとの呼び出し回数を返す。
func (m *MemoryStore) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// Put はSHAの検査なしでファイルを書き込む。テストデータの投入用。
func (m *MemoryStore) Put(p string, content []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[clean(p)] = append([]byte(nil), content...)
	return BlobSHA(content)
}

// Paths は保持しているファイルパスをソートして返す。
func (m *MemoryStore) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (m *MemoryStore) begin(op, p string) error {
	m.calls[op]++
	if m.fault != nil {
		return m.fault(op, p)
	}
	return nil
}

func (m *MemoryStore) ReadFile(ctx context.Context, p string) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	if err := m.begin("read", p); err != nil {
		return nil, err
	}
	content, ok := m.files[p]
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, model.ErrNotFound)
	}
	return &File{Path: p, Content: append([]byte(nil), content...), SHA: BlobSHA(content)}, nil
}

func (m *MemoryStore) WriteFile(ctx context.Context, p string, content []byte, sha, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	if err := m.begin("write", p); err != nil {
		return "", err
	}
	existing, ok := m.files[p]
	switch {
	case sha == "" && ok:
		return "", fmt.Errorf("%s already exists: %w", p, model.ErrConflict)
	case sha != "" && !ok:
		return "", fmt.Errorf("%s: %w", p, model.ErrNotFound)
	case sha != "" && BlobSHA(existing) != sha:
		return "", fmt.Errorf("%s does not match %s: %w", p, sha, model.ErrConflict)
	}
	m.files[p] = append([]byte(nil), content...)
	return BlobSHA(content), nil
}

func (m *MemoryStore) DeleteFile(ctx context.Context, p, sha, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	if err := m.begin("delete", p); err != nil {
		return err
	}
	existing, ok := m.files[p]
	if !ok {
		return fmt.Errorf("%s: %w", p, model.ErrNotFound)
	}
	if sha != "" && BlobSHA(existing) != sha {
		return fmt.Errorf("%s does not match %s: %w", p, sha, model.ErrConflict)
	}
	delete(m.files, p)
	return nil
}

func (m *MemoryStore) ListFiles(ctx context.Context, dir string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	dir = clean(dir)
	if err := m.begin("list", dir); err != nil {
		return nil, err
	}
	entries := []Entry{}
	for p, content := range m.files {
		if path.Dir(p) != dir {
			continue
		}
		entries = append(entries, Entry{Path: p, Name: path.Base(p), SHA: BlobSHA(content)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func clean(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

var _ FileStore = (*MemoryStore)(nil)
