package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/John-Robertt/harvest/internal/infra/fsx"
)

// Store 提供 <root>/<site>/<kind>/<id>.html 下的页面快照缓存。
//
// 缓存的是“已渲染的 HTML”，解析层是纯函数，所以命中缓存与实时抓取得到的记录一致。
//
// 约束：
// - ReadOnly=true 只允许读（重放已有快照，未命中的页面不写回）
// - 只缓存成功就绪的页面；失败页不落盘
type Store struct {
	Root     string
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

func New(root string, readOnly bool) Store {
	return Store{
		Root:     filepath.Clean(strings.TrimSpace(root)),
		ReadOnly: readOnly,
	}
}

// PagePath 返回页面缓存的绝对路径。
func (s Store) PagePath(site, kind, id string) (string, error) {
	dir, name, err := s.locate(site, kind, id)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func (s Store) ReadPage(site, kind, id string) ([]byte, bool, error) {
	path, err := s.PagePath(site, kind, id)
	if err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(b) == 0 {
		return nil, false, nil
	}
	return b, true, nil
}

func (s Store) WritePage(site, kind, id string, html []byte) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	dir, name, err := s.locate(site, kind, id)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomic(dir, name, html)
}

var (
	segmentRE = regexp.MustCompile(`^[a-z0-9_]+$`)
	idRE      = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

func (s Store) locate(site, kind, id string) (dir, name string, err error) {
	if strings.TrimSpace(s.Root) == "" {
		return "", "", fmt.Errorf("cache 根目录不能为空")
	}
	site = strings.ToLower(strings.TrimSpace(site))
	kind = strings.ToLower(strings.TrimSpace(kind))
	id = strings.TrimSpace(id)
	// 最小约束：避免路径穿越。
	if !segmentRE.MatchString(site) {
		return "", "", fmt.Errorf("非法 site：%q", site)
	}
	if !segmentRE.MatchString(kind) {
		return "", "", fmt.Errorf("非法 kind：%q", kind)
	}
	if !idRE.MatchString(id) {
		return "", "", fmt.Errorf("非法 id：%q", id)
	}
	return filepath.Join(s.Root, site, kind), id + ".html", nil
}
