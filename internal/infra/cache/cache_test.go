package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStore_ReadWritePage(t *testing.T) {
	root := t.TempDir()

	s := New(root, false)
	if err := s.WritePage("imdb", "title", "tt0111161", []byte("<html/>")); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	b, ok, err := s.ReadPage("imdb", "title", "tt0111161")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !ok {
		t.Fatalf("期望命中缓存，但 ok=false")
	}
	if string(b) != "<html/>" {
		t.Fatalf("内容不一致：%q", string(b))
	}

	path, err := s.PagePath("imdb", "title", "tt0111161")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if want := filepath.Join(root, "imdb", "title", "tt0111161.html"); path != want {
		t.Fatalf("期望 %q，实际 %q", want, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("期望文件存在，但 Stat 失败：%v", err)
	}

	_, ok, err = s.ReadPage("imdb", "reviews", "tt0111161")
	if err != nil || ok {
		t.Fatalf("期望未命中，实际 ok=%v err=%v", ok, err)
	}
}

func TestStore_ReadOnlyRejectWrite(t *testing.T) {
	root := t.TempDir()

	s := New(root, true)
	err := s.WritePage("imdb", "reviews", "tt0111161", []byte(`<html/>`))
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("期望 ErrReadOnly，实际：%v", err)
	}

	path, err := s.PagePath("imdb", "reviews", "tt0111161")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("期望文件不存在，但 Stat err=%v", err)
	}
}

func TestStore_RejectTraversal(t *testing.T) {
	s := New(t.TempDir(), false)
	for _, id := range []string{"../x", "a/b", ""} {
		if _, err := s.PagePath("imdb", "title", id); err == nil {
			t.Fatalf("期望 id=%q 被拒绝", id)
		}
	}
	if _, err := s.PagePath("../imdb", "title", "tt1"); err == nil {
		t.Fatalf("期望非法 site 被拒绝")
	}
}
