// Package loader 从本地目录加载文档，并在目录变化后触发重建索引。
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/pkg/utils/id"
)

// DirectoryLoader 递归读取目录下指定扩展名的文件，按相对路径排序。
type DirectoryLoader struct {
	dir        string
	extensions map[string]bool
}

var _ biz.DocumentSource = (*DirectoryLoader)(nil)

// NewDirectoryLoader 创建目录加载器，extensions 为空时只加载 .txt。
func NewDirectoryLoader(dir string, extensions []string) *DirectoryLoader {
	if len(extensions) == 0 {
		extensions = []string{".txt"}
	}
	ext := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		ext[e] = true
	}
	return &DirectoryLoader{dir: dir, extensions: ext}
}

// Dir 返回文档目录。
func (l *DirectoryLoader) Dir() string { return l.dir }

// Matches 判断文件是否为文档。
func (l *DirectoryLoader) Matches(path string) bool {
	return l.extensions[strings.ToLower(filepath.Ext(path))]
}

// Load 读取全部文档。目录不存在时返回空列表。
func (l *DirectoryLoader) Load(ctx context.Context) ([]biz.Document, error) {
	paths, err := l.findFiles()
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warnw("Documents directory does not exist", "dir", l.dir)
		return []biz.Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan documents directory %s: %w", l.dir, err)
	}

	docs := make([]biz.Document, 0, len(paths))
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		full := filepath.Join(l.dir, rel)
		content, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("read document %s: %w", full, err)
		}
		docs = append(docs, biz.Document{
			ID:       id.DocumentID(filepath.ToSlash(rel)),
			Filename: filepath.Base(rel),
			Path:     filepath.ToSlash(rel),
			Content:  string(content),
		})
	}

	logger.Debugw("Documents loaded", "dir", l.dir, "count", len(docs))
	return docs, nil
}

func (l *DirectoryLoader) findFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != l.dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !l.Matches(path) {
			return nil
		}
		rel, err := filepath.Rel(l.dir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
