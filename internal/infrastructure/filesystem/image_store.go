package filesystem

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"imagechat/internal/domain"
)

// fileScheme は、保存した画像のハンドルに使うURLスキームです
const fileScheme = "file://"

// maxNameAttempts は、同名ファイルがある場合に連番を試す回数です
const maxNameAttempts = 100

// ImageStore は、生成された画像をディレクトリに保存します
type ImageStore struct {
	dir string
}

// NewImageStore は新しいImageStoreインスタンスを作成します
// ディレクトリが存在しない場合は作成します
func NewImageStore(dir string) (*ImageStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("画像の保存先ディレクトリが指定されていません")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(err, "保存先ディレクトリの解決に失敗")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrap(err, "保存先ディレクトリの作成に失敗")
	}
	return &ImageStore{dir: abs}, nil
}

// Dir は、保存先ディレクトリの絶対パスを返します
func (s *ImageStore) Dir() string {
	return s.dir
}

// Store は、画像をファイルに書き込み、file:// 形式のハンドルを返します
func (s *ImageStore) Store(ctx context.Context, image domain.GeneratedImage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(image.Data) == 0 {
		return "", domain.ErrEmptyResult
	}

	name := image.Filename()
	f, path, err := s.create(name)
	if err != nil {
		return "", err
	}

	if _, err := f.Write(image.Data); err != nil {
		f.Close()
		os.Remove(path)
		return "", errors.Wrapf(err, "画像の書き込みに失敗: %s", path)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", errors.Wrapf(err, "画像ファイルのクローズに失敗: %s", path)
	}

	log.Printf("画像を保存しました: %s (%dバイト)", path, len(image.Data))
	return HandleForPath(path), nil
}

// create は、既存のファイルを上書きしないように連番を付けてファイルを作成します
func (s *ImageStore) create(name string) (*os.File, string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		path := filepath.Join(s.dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !os.IsExist(err) {
			return nil, "", errors.Wrapf(err, "画像ファイルの作成に失敗: %s", path)
		}
	}
	return nil, "", fmt.Errorf("画像ファイル名を決定できませんでした: %s", name)
}

// Open は、Storeが返したハンドルの画像を開きます
func (s *ImageStore) Open(handle string) (io.ReadCloser, string, error) {
	path, ok := PathForHandle(handle)
	if !ok {
		return nil, "", fmt.Errorf("ファイルのハンドルではありません: %s", handle)
	}
	rel, err := filepath.Rel(s.dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, "", fmt.Errorf("保存先ディレクトリ外のファイルです: %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", errors.Wrapf(err, "画像ファイルを開けません: %s", path)
	}
	return f, filepath.Base(path), nil
}

// HandleForPath は、ファイルパスをfile://形式のハンドルに変換します
func HandleForPath(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// PathForHandle は、file://形式のハンドルからファイルパスを取り出します
func PathForHandle(handle string) (string, bool) {
	if !strings.HasPrefix(handle, fileScheme) {
		return "", false
	}
	u, err := url.Parse(handle)
	if err != nil || u.Path == "" {
		return "", false
	}
	return filepath.FromSlash(u.Path), true
}
