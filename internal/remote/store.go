// Package remote はバージョン管理されたリモートストア上のファイル操作を提供する。
// 本番ではGitHubのContents APIを使い、テストや開発ではメモリ上の実装を使う。
package remote

import (
	"context"
	"path"
	"time"
)

// File はリモートストアから読み込んだファイル。
// SHA はリビジョン識別子で、条件付き書き込みに使う。
type File struct {
	Path    string
	Content []byte
	SHA     string
}

// Entry はディレクトリ一覧の1要素。
type Entry struct {
	Path string
	Name string
	SHA  string
}

// FileStore はリモートストアのファイル操作インターフェース。
//
// WriteFile は sha が空の場合は新規作成として扱い、既存ファイルがあれば
// model.ErrConflict を返す。sha を指定した場合はリモートのSHAと一致した
// ときのみ上書きする。
type FileStore interface {
	ReadFile(ctx context.Context, path string) (*File, error)
	WriteFile(ctx context.Context, path string, content []byte, sha, message string) (string, error)
	DeleteFile(ctx context.Context, path, sha, message string) error
	// ListFiles はディレクトリ直下のファイルを返す。存在しないディレクトリは空として扱う。
	ListFiles(ctx context.Context, dir string) ([]Entry, error)
}

// Observer はリモート呼び出しの計測フック。
type Observer interface {
	ObserveRemoteCall(op, status string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveRemoteCall(string, string, time.Duration) {}

// Join はストア上のパスを結合する。
func Join(elem ...string) string {
	return path.Join(elem...)
}
