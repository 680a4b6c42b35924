package media

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/spf13/afero"

	"github.com/pepasjc/savesync/internal/bundle"
	"github.com/pepasjc/savesync/internal/titles"
)

// SaveFileName is the single path used inside bundles for media that store
// one opaque save blob (loose files and raw cartridge chips).
const SaveFileName = "save.dat"

// LooseFileAdapter serves titles whose save is a single file on removable
// storage, located by Title.LoosePath.
type LooseFileAdapter struct {
	fs     afero.Fs
	logger *slog.Logger
}

// NewLooseFileAdapter creates an adapter over the storage filesystem.
func NewLooseFileAdapter(fs afero.Fs, logger *slog.Logger) *LooseFileAdapter {
	if logger == nil {
		logger = slog.Default()
	}

	return &LooseFileAdapter{fs: fs, logger: logger}
}

// ReadSave returns the save file as a single-entry file list.
func (a *LooseFileAdapter) ReadSave(_ context.Context, t *titles.Title) ([]bundle.File, error) {
	if t.LoosePath == "" {
		return nil, fmt.Errorf("media: title %s has no save file path", t.HexID())
	}

	data, err := afero.ReadFile(a.fs, t.LoosePath)
	if err != nil {
		return nil, fmt.Errorf("media: reading %s: %w", t.LoosePath, err)
	}

	a.logger.Debug("loose save read", "title", t.HexID(), "path", t.LoosePath, "bytes", len(data))

	return []bundle.File{{Path: SaveFileName, Data: data}}, nil
}

// WriteSave writes the first file's bytes to the title's save path,
// creating the parent directory if needed and truncating any existing
// file.
func (a *LooseFileAdapter) WriteSave(_ context.Context, t *titles.Title, files []bundle.File) error {
	if t.LoosePath == "" {
		return fmt.Errorf("media: title %s has no save file path", t.HexID())
	}

	if len(files) == 0 {
		return fmt.Errorf("media: empty bundle for %s", t.HexID())
	}

	if dir := path.Dir(t.LoosePath); dir != "." && dir != "/" {
		if err := a.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("media: creating %s: %w", dir, err)
		}
	}

	if err := afero.WriteFile(a.fs, t.LoosePath, files[0].Data, 0o644); err != nil {
		return fmt.Errorf("media: writing %s: %w", t.LoosePath, err)
	}

	a.logger.Debug("loose save written", "title", t.HexID(), "path", t.LoosePath, "bytes", len(files[0].Data))

	return nil
}
