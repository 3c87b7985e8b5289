package vault

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calnotes/internal/model"
)

func day(d int) model.Date {
	return model.Date{Year: 2024, Month: time.December, Day: d}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFSFindsNotesByDatePrefix(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "TODO", "12-21-2024 (Sat) 📝.md"), "saturday")
	writeFile(t, filepath.Join(dir, "12-22-2024.md"), "sunday")
	writeFile(t, filepath.Join(dir, "Archive", "12-23-2024.md"), "archived")
	writeFile(t, filepath.Join(dir, "Weekly", "12-24-2024.md"), "weekly")
	writeFile(t, filepath.Join(dir, "12-25-2024.txt"), "wrong extension")
	writeFile(t, filepath.Join(dir, "shopping list.md"), "no date")

	v := NewFS(FSOptions{Dir: dir, Layout: "01-02-2006"})
	ctx := context.Background()

	dates, err := v.Dates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Date{day(21), day(22)}, dates)

	got, err := v.Read(ctx, day(21))
	require.NoError(t, err)
	assert.Equal(t, "saturday", got)

	ok, err := v.Exists(ctx, day(23))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFSReadMissingIsEmpty(t *testing.T) {
	v := NewFS(FSOptions{Dir: filepath.Join(t.TempDir(), "not-yet")})

	got, err := v.Read(context.Background(), day(1))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFSWriteCreatesAndUpdates(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "2024-12-02 Monday.md")
	writeFile(t, existing, "old")
	require.NoError(t, os.Chmod(existing, 0o600))

	v := NewFS(FSOptions{Dir: dir})
	ctx := context.Background()

	require.NoError(t, v.Write(ctx, day(1), "new note"))
	data, err := os.ReadFile(filepath.Join(dir, "2024-12-01.md"))
	require.NoError(t, err)
	assert.Equal(t, "new note", string(data))

	ok, err := v.Exists(ctx, day(1))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, v.Write(ctx, day(2), "updated"))
	data, err = os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "updated", string(data))

	st, err := os.Stat(existing)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestFSRescanPicksUpNewNotes(t *testing.T) {
	dir := t.TempDir()
	v := NewFS(FSOptions{Dir: dir})
	ctx := context.Background()

	ok, err := v.Exists(ctx, day(5))
	require.NoError(t, err)
	assert.False(t, ok)

	writeFile(t, filepath.Join(dir, "2024-12-05.md"), "hi")
	v.Rescan()

	ok, err = v.Exists(ctx, day(5))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFSPrefersCanonicalNameOnDuplicates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "2024-12-07 copy.md"), "copy")
	writeFile(t, filepath.Join(dir, "2024-12-07.md"), "canonical")

	got, err := NewFS(FSOptions{Dir: dir}).Read(context.Background(), day(7))
	require.NoError(t, err)
	assert.Equal(t, "canonical", got)
}

func TestFSEmptyDirIsAnError(t *testing.T) {
	_, err := NewFS(FSOptions{}).Exists(context.Background(), day(1))
	assert.Error(t, err)
}
