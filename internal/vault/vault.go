// Package vault stores daily notes keyed by calendar date.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	appLog "calnotes/internal/log"
	"calnotes/internal/model"
)

// Store is the note store the sync engine writes through. Read of a missing
// note returns "" and no error.
type Store interface {
	Exists(ctx context.Context, d model.Date) (bool, error)
	Read(ctx context.Context, d model.Date) (string, error)
	Write(ctx context.Context, d model.Date, content string) error
}

// Lister is implemented by stores that can enumerate the dates of their
// existing notes.
type Lister interface {
	Dates(ctx context.Context) ([]model.Date, error)
}

// Defaults for FS.
const (
	DefaultLayout    = "2006-01-02"
	DefaultExtension = ".md"
)

// DefaultSkipDirs are directory names never scanned for notes.
var DefaultSkipDirs = []string{"Archive", "Weekly"}

// FS is a directory of notes named "<date><ext>". Existing notes whose file
// name merely starts with the formatted date (for example
// "12-21-2024 (Sat) 📝.md") are found as well; new notes are created with the
// bare name.
type FS struct {
	dir      string
	layout   string
	ext      string
	skipDirs map[string]bool

	mu    sync.Mutex
	index map[model.Date]string
}

// FSOptions configures NewFS.
type FSOptions struct {
	Dir       string
	Layout    string
	Extension string
	SkipDirs  []string
}

// NewFS creates a filesystem store. The directory is scanned lazily on first
// access.
func NewFS(opts FSOptions) *FS {
	layout := opts.Layout
	if layout == "" {
		layout = DefaultLayout
	}
	ext := opts.Extension
	if ext == "" {
		ext = DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	skip := opts.SkipDirs
	if skip == nil {
		skip = DefaultSkipDirs
	}
	skipDirs := make(map[string]bool, len(skip))
	for _, d := range skip {
		skipDirs[d] = true
	}
	return &FS{dir: opts.Dir, layout: layout, ext: ext, skipDirs: skipDirs}
}

// Dir returns the vault root.
func (v *FS) Dir() string { return v.dir }

// Path returns the file used for d: the existing note if any, otherwise the
// canonical new-note path.
func (v *FS) Path(ctx context.Context, d model.Date) (string, error) {
	idx, err := v.loadIndex(ctx)
	if err != nil {
		return "", err
	}
	if p, ok := idx[d]; ok {
		return p, nil
	}
	return filepath.Join(v.dir, d.Format(v.layout)+v.ext), nil
}

// Exists implements Store.
func (v *FS) Exists(ctx context.Context, d model.Date) (bool, error) {
	idx, err := v.loadIndex(ctx)
	if err != nil {
		return false, err
	}
	_, ok := idx[d]
	return ok, nil
}

// Read implements Store.
func (v *FS) Read(ctx context.Context, d model.Date) (string, error) {
	p, err := v.Path(ctx, d)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Write implements Store. The note is replaced atomically via a temp file
// in the same directory; an existing note keeps its permissions.
func (v *FS) Write(ctx context.Context, d model.Date, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := v.Path(ctx, d)
	if err != nil {
		return err
	}

	perm := fs.FileMode(0o644)
	if st, err := os.Stat(p); err == nil {
		perm = st.Mode().Perm()
	}

	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calnotes-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpName, p); err != nil {
		return err
	}

	v.mu.Lock()
	if v.index != nil {
		v.index[d] = p
	}
	v.mu.Unlock()
	return nil
}

// Dates implements Lister.
func (v *FS) Dates(ctx context.Context) ([]model.Date, error) {
	idx, err := v.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Date, 0, len(idx))
	for d := range idx {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// Rescan drops the cached index so the next access walks the vault again.
func (v *FS) Rescan() {
	v.mu.Lock()
	v.index = nil
	v.mu.Unlock()
}

func (v *FS) loadIndex(ctx context.Context) (map[model.Date]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.index != nil {
		return v.index, nil
	}

	idx := make(map[model.Date]string)
	if v.dir == "" {
		return nil, errors.New("vault directory is empty")
	}
	if _, err := os.Stat(v.dir); errors.Is(err, fs.ErrNotExist) {
		v.index = idx
		return idx, nil
	}

	err := filepath.WalkDir(v.dir, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if de.IsDir() {
			if path != v.dir && (v.skipDirs[de.Name()] || strings.HasPrefix(de.Name(), ".")) {
				appLog.Debug("vault: skipping directory", "path", path)
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(de.Name()), v.ext) {
			return nil
		}
		d, ok := v.dateFromName(strings.TrimSuffix(de.Name(), filepath.Ext(de.Name())))
		if !ok {
			return nil
		}
		if prev, dup := idx[d]; dup {
			// Prefer the canonical name, then the lexically smallest path.
			canonical := d.Format(v.layout) + v.ext
			if filepath.Base(prev) == canonical || (filepath.Base(path) != canonical && prev < path) {
				appLog.Warn("vault: duplicate note for date", "date", d.String(), "kept", prev, "ignored", path)
				return nil
			}
			appLog.Warn("vault: duplicate note for date", "date", d.String(), "kept", path, "ignored", prev)
		}
		idx[d] = path
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan vault %s: %w", v.dir, err)
	}

	appLog.Debug("vault indexed", "dir", v.dir, "notes", len(idx))
	v.index = idx
	return idx, nil
}

// dateFromName parses the longest prefix of name that matches the layout.
func (v *FS) dateFromName(name string) (model.Date, bool) {
	for i := len(name); i > 0; i-- {
		t, err := time.Parse(v.layout, name[:i])
		if err == nil {
			return model.DateOf(t), true
		}
	}
	return model.Date{}, false
}
