package db

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "concord.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteRepository_roundtrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	conf := &Conference{
		ID:         "conf-1",
		Moderators: []string{"mod-1"},
		Permissions: map[string]any{
			"chat/canSendChatMessage": true,
		},
		ModeratorPermissions: map[string]any{
			"conference/canOpenAndClose": true,
		},
	}
	if err := repo.CreateConference(ctx, conf); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.FindConferenceByID(ctx, "conf-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Open {
		t.Error("new conference should be closed")
	}
	if !got.IsModerator("mod-1") || got.IsModerator("someone-else") {
		t.Errorf("moderators not preserved: %v", got.Moderators)
	}
	if v, ok := got.Permissions["chat/canSendChatMessage"]; !ok || v != true {
		t.Errorf("conference permission layer lost: %v", got.Permissions)
	}
	if v, ok := got.ModeratorPermissions["conference/canOpenAndClose"]; !ok || v != true {
		t.Errorf("moderator permission layer lost: %v", got.ModeratorPermissions)
	}
}

func TestSQLiteRepository_openFlag(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateConference(ctx, &Conference{ID: "conf-2"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.SetConferenceOpen(ctx, "conf-2", true); err != nil {
		t.Fatalf("set open: %v", err)
	}
	open, err := repo.IsConferenceOpen(ctx, "conf-2")
	if err != nil || !open {
		t.Fatalf("expected open, got open=%v err=%v", open, err)
	}

	if err := repo.SetConferenceOpen(ctx, "conf-2", false); err != nil {
		t.Fatalf("set closed: %v", err)
	}
	open, err = repo.IsConferenceOpen(ctx, "conf-2")
	if err != nil || open {
		t.Fatalf("expected closed, got open=%v err=%v", open, err)
	}
}

func TestSQLiteRepository_notFound(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.FindConferenceByID(ctx, "missing"); err != ErrConferenceNotFound {
		t.Errorf("find: expected ErrConferenceNotFound, got %v", err)
	}
	if err := repo.SetConferenceOpen(ctx, "missing", true); err != ErrConferenceNotFound {
		t.Errorf("set open: expected ErrConferenceNotFound, got %v", err)
	}
	if _, err := repo.IsConferenceOpen(ctx, "missing"); err != ErrConferenceNotFound {
		t.Errorf("is open: expected ErrConferenceNotFound, got %v", err)
	}
}
