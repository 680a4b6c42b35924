package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"

	"github.com/spf13/afero"

	"github.com/pepasjc/savesync/internal/bundle"
	"github.com/pepasjc/savesync/internal/titles"
)

// Archive is an open platform save archive. Fs is rooted at the archive
// root. Commit flushes the archive's journal — writes that are not
// committed are silently discarded by the platform when the archive
// closes.
type Archive interface {
	Fs() afero.Fs
	Commit() error
	Close() error
}

// ArchiveOpener opens the savedata archive of a title. Implemented by the
// platform layer; tests supply memory-backed archives.
type ArchiveOpener interface {
	OpenSave(titleID uint64, kind titles.Kind) (Archive, error)
}

// ArchiveAdapter reads and writes tree-structured console savedata through
// an ArchiveOpener.
type ArchiveAdapter struct {
	opener ArchiveOpener
	logger *slog.Logger
}

// NewArchiveAdapter creates an adapter over the platform archive opener.
func NewArchiveAdapter(opener ArchiveOpener, logger *slog.Logger) *ArchiveAdapter {
	if logger == nil {
		logger = slog.Default()
	}

	return &ArchiveAdapter{opener: opener, logger: logger}
}

// ReadSave walks the archive tree from the root and returns every regular
// file with its slash-separated path (no leading slash). Traversal order is
// the filesystem's directory order and is stable per archive state, which
// makes the resulting save hash deterministic.
func (a *ArchiveAdapter) ReadSave(_ context.Context, t *titles.Title) ([]bundle.File, error) {
	arc, err := a.opener.OpenSave(t.ID, t.Kind)
	if err != nil {
		return nil, fmt.Errorf("media: opening save archive for %s: %w", t.HexID(), err)
	}
	defer arc.Close()

	var files []bundle.File

	walkErr := walkFiles(arc.Fs(), "", func(relPath string) error {
		data, err := afero.ReadFile(arc.Fs(), relPath)
		if err != nil {
			return fmt.Errorf("media: reading %s: %w", relPath, err)
		}

		files = append(files, bundle.File{Path: relPath, Data: data})

		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	a.logger.Debug("archive read", "title", t.HexID(), "files", len(files))

	return files, nil
}

// WriteSave erases the archive's existing contents, writes every file
// (creating parent directories as needed), and commits. A failure after the
// clear leaves the archive inconsistent; no rollback is attempted and the
// caller surfaces the error to the user.
func (a *ArchiveAdapter) WriteSave(_ context.Context, t *titles.Title, files []bundle.File) error {
	arc, err := a.opener.OpenSave(t.ID, t.Kind)
	if err != nil {
		return fmt.Errorf("media: opening save archive for %s: %w", t.HexID(), err)
	}
	defer arc.Close()

	fs := arc.Fs()

	if err := clearRoot(fs); err != nil {
		return fmt.Errorf("media: clearing save archive for %s: %w", t.HexID(), err)
	}

	for _, f := range files {
		if err := bundle.ValidatePath(f.Path); err != nil {
			return err
		}

		if dir := path.Dir(f.Path); dir != "." {
			if err := fs.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("media: creating directory %s: %w", dir, err)
			}
		}

		if err := afero.WriteFile(fs, f.Path, f.Data, 0o644); err != nil {
			return fmt.Errorf("media: writing %s: %w", f.Path, err)
		}
	}

	// Without the commit the platform discards everything written above.
	if err := arc.Commit(); err != nil {
		return fmt.Errorf("media: committing save archive for %s: %w", t.HexID(), err)
	}

	a.logger.Debug("archive written", "title", t.HexID(), "files", len(files))

	return nil
}

// walkFiles visits every regular file under dir in sorted directory order,
// recursing into subdirectories. relPath uses forward slashes without a
// leading slash.
func walkFiles(fs afero.Fs, dir string, visit func(relPath string) error) error {
	open := dir
	if open == "" {
		open = "."
	}

	entries, err := afero.ReadDir(fs, open)
	if err != nil {
		return fmt.Errorf("media: listing %s: %w", open, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		rel := entry.Name()
		if dir != "" {
			rel = dir + "/" + rel
		}

		if entry.IsDir() {
			if err := walkFiles(fs, rel, visit); err != nil {
				return err
			}

			continue
		}

		if err := visit(rel); err != nil {
			return err
		}
	}

	return nil
}

// clearRoot deletes everything under the archive root.
func clearRoot(fs afero.Fs) error {
	entries, err := afero.ReadDir(fs, ".")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	for _, entry := range entries {
		if err := fs.RemoveAll(entry.Name()); err != nil {
			return err
		}
	}

	return nil
}

// DirArchive is an Archive backed by a directory subtree; the platform
// commit is a no-op flush hook callers can observe. It backs both loose
// platform mounts and tests.
type DirArchive struct {
	fs       afero.Fs
	onCommit func() error
}

// NewDirArchive roots an archive at dir on base.
func NewDirArchive(base afero.Fs, dir string) (*DirArchive, error) {
	if err := base.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &DirArchive{fs: afero.NewBasePathFs(base, dir)}, nil
}

func (d *DirArchive) Fs() afero.Fs { return d.fs }

func (d *DirArchive) Commit() error {
	if d.onCommit != nil {
		return d.onCommit()
	}

	return nil
}

func (d *DirArchive) Close() error { return nil }

// DirOpener maps (titleID, kind) to directory-backed archives under a root
// filesystem, one subtree per title.
type DirOpener struct {
	Base afero.Fs
}

func (o *DirOpener) OpenSave(titleID uint64, kind titles.Kind) (Archive, error) {
	dir := kind.String() + "/" + titles.FormatID(titleID)
	return NewDirArchive(o.Base, dir)
}
