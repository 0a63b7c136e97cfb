package db

import (
	"errors"
	"reflect"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_GetSet(t *testing.T) {
	store := newTestStore(t)

	if err := store.Set("jobs/", "1", []byte("backend")); err != nil {
		t.Fatalf("set value: %v", err)
	}
	got, err := store.Get("jobs/", "1")
	if err != nil {
		t.Fatalf("get value: %v", err)
	}
	if string(got) != "backend" {
		t.Errorf("expected backend, got %s", got)
	}
}

func TestStore_GetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get("jobs/", "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)

	if err := store.Set("jobs/", "1", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("jobs/", "1"); err != nil {
		t.Fatalf("delete value: %v", err)
	}
	if _, err := store.Get("jobs/", "1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStore_JSON(t *testing.T) {
	store := newTestStore(t)

	type rec struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	if err := store.SetJSON("apps/", "1/u1", rec{Name: "ada", Count: 2}); err != nil {
		t.Fatal(err)
	}
	var got rec
	if err := store.GetJSON("apps/", "1/u1", &got); err != nil {
		t.Fatal(err)
	}
	if got != (rec{Name: "ada", Count: 2}) {
		t.Errorf("got %+v", got)
	}
}

func TestStore_Update(t *testing.T) {
	store := newTestStore(t)

	appendByte := func(cur []byte) ([]byte, error) { return append(cur, 'x'), nil }
	for i := 0; i < 3; i++ {
		if err := store.Update("ctr/", "a", appendByte); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := store.Get("ctr/", "a")
	if string(got) != "xxx" {
		t.Errorf("got %q, want xxx", got)
	}

	boom := errors.New("refuse")
	if err := store.Update("ctr/", "a", func([]byte) ([]byte, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Errorf("Update() error = %v", err)
	}
	got, _ = store.Get("ctr/", "a")
	if string(got) != "xxx" {
		t.Errorf("failed update changed value to %q", got)
	}
}

func TestStore_ListAndScan(t *testing.T) {
	store := newTestStore(t)

	for _, k := range []string{"1/u1", "1/u2", "2/u1"} {
		if err := store.Set("apps/", k, []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Set("jobs/", "1", []byte("job")); err != nil {
		t.Fatal(err)
	}

	keys, err := store.List("apps/", "1/", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(keys, []string{"1/u1", "1/u2"}) {
		t.Errorf("List() = %v", keys)
	}

	keys, _ = store.List("apps/", "", 2)
	if len(keys) != 2 {
		t.Errorf("List() with limit = %v", keys)
	}

	var values []string
	err = store.Scan("apps/", "", func(_ string, v []byte) error {
		values = append(values, string(v))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 3 {
		t.Errorf("Scan() visited %v", values)
	}
}
