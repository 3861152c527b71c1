package service

import (
	"context"
	"errors"
	"testing"

	"github.com/pubky/pubky-core-client/internal/model"
	"github.com/pubky/pubky-core-client/internal/repository/memory"
	"github.com/pubky/pubky-core-client/pkg/errs"
)

func TestRepos_OwnerWritesPublicReads(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRepoService(memory.NewBlobRepo(), 8)
	alice := model.Session{UserID: "alice"}
	bob := model.Session{UserID: "bob"}

	if err := s.CreateRepo(ctx, bob, "alice", "notes"); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}
	if err := s.CreateRepo(ctx, alice, "alice", "notes"); err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}
	if err := s.CreateRepo(ctx, alice, "alice", "notes"); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}

	ver, err := s.Put(ctx, alice, "alice", "notes", "/todo", []byte("milk"))
	if err != nil || ver != 1 {
		t.Fatalf("Put: ver=%d err=%v", ver, err)
	}
	if _, err := s.Put(ctx, bob, "alice", "notes", "todo", []byte("x")); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}

	e, err := s.Get(ctx, "alice", "notes", "todo")
	if err != nil || string(e.Data) != "milk" {
		t.Fatalf("Get: %+v err=%v", e, err)
	}

	paths, err := s.List(ctx, "alice", "notes", "/")
	if err != nil || len(paths) != 1 || paths[0] != "todo" {
		t.Fatalf("List: %v err=%v", paths, err)
	}

	if err := s.Delete(ctx, bob, "alice", "notes", "todo"); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}
	if err := s.Delete(ctx, alice, "alice", "notes", "todo"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "alice", "notes", "todo"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestRepos_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRepoService(memory.NewBlobRepo(), 4)
	alice := model.Session{UserID: "alice"}
	if err := s.CreateRepo(ctx, alice, "alice", "r"); err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}

	for _, name := range []string{"", ".", "..", "a/b"} {
		if err := s.CreateRepo(ctx, alice, "alice", name); !errors.Is(err, errs.ErrInvalidInput) {
			t.Fatalf("repo %q: want ErrInvalidInput, got %v", name, err)
		}
	}
	for _, p := range []string{"", "/", "a//b", "../x", "a/./b"} {
		if _, err := s.Put(ctx, alice, "alice", "r", p, []byte("x")); !errors.Is(err, errs.ErrInvalidInput) {
			t.Fatalf("path %q: want ErrInvalidInput, got %v", p, err)
		}
	}
	if _, err := s.Put(ctx, alice, "alice", "r", "big", []byte("12345")); !errors.Is(err, errs.ErrTooLarge) {
		t.Fatalf("want ErrTooLarge, got %v", err)
	}
	if _, err := s.Put(ctx, alice, "alice", "missing", "a", []byte("x")); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound for missing repo, got %v", err)
	}
	if NewRepoService(memory.NewBlobRepo(), 0).MaxEntrySize() != DefaultMaxEntrySize {
		t.Fatalf("default max entry size not applied")
	}
}
