package storage

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return store
}

func TestStore_PutGet(t *testing.T) {
	store := newTestStore(t)

	content := []byte("%PDF-1.4 resume")
	if err := store.Put("cv", "job-1/u1/resume.pdf", content); err != nil {
		t.Fatalf("put file: %v", err)
	}
	got, err := store.Get("cv", "job-1/u1/resume.pdf")
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("expected %s, got %s", content, got)
	}
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)

	if err := store.Put("cv", "a.pdf", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("cv", "a.pdf"); err != nil {
		t.Fatalf("delete file: %v", err)
	}
	if _, err := store.Get("cv", "a.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.Delete("cv", "a.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v", err)
	}
}

func TestStore_PathTraversal(t *testing.T) {
	store := newTestStore(t)

	for _, p := range []string{"../etc/passwd", "a/../../b", "/abs/path", ""} {
		if err := store.Put("cv", p, []byte("x")); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Put(%q) error = %v, want ErrInvalidPath", p, err)
		}
	}
}

func TestStore_PutReader(t *testing.T) {
	store := newTestStore(t)

	n, err := store.PutReader("cv", "ok.pdf", strings.NewReader("12345"), 5)
	if err != nil || n != 5 {
		t.Fatalf("PutReader() = %d, %v", n, err)
	}

	_, err = store.PutReader("cv", "big.pdf", strings.NewReader("123456"), 5)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("error = %v, want ErrTooLarge", err)
	}
	if _, err := store.Get("cv", "big.pdf"); !errors.Is(err, ErrNotFound) {
		t.Error("oversized upload left on disk")
	}
}

func TestStore_List(t *testing.T) {
	store := newTestStore(t)

	if files, err := store.List("cv", ""); err != nil || files != nil {
		t.Fatalf("List() on empty namespace = %v, %v", files, err)
	}
	for _, p := range []string{"2/u1/b.pdf", "1/u2/a.pdf", "1/u1/c.pdf"} {
		if err := store.Put("cv", p, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}
	files, err := store.List("cv", "1/")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(files, []string{"1/u1/c.pdf", "1/u2/a.pdf"}) {
		t.Errorf("List() = %v", files)
	}
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"resume.pdf":          "resume.pdf",
		"../../etc/passwd":    "passwd",
		`C:\Users\me\cv.docx`: "cv.docx",
		"my cv (final).pdf":   "my_cv__final_.pdf",
		"..":                  "upload",
	}
	for in, want := range tests {
		if got := SafeName(in); got != want {
			t.Errorf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}
}
