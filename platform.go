package main

import (
	"log/slog"

	"github.com/spf13/afero"

	"github.com/pepasjc/savesync/internal/titles"
)

// dirLister enumerates installed titles from the directory layout desktop
// builds use: one subtree per title under <root>/<kind>/, named by hex
// title ID. Console builds substitute the platform title registry behind
// the same interface.
type dirLister struct {
	fs afero.Fs
}

func newDirLister(fs afero.Fs, dir string) *dirLister {
	return &dirLister{fs: afero.NewBasePathFs(fs, dir)}
}

func (l *dirLister) ListTitleIDs(kind titles.Kind) ([]uint64, error) {
	entries, err := afero.ReadDir(l.fs, kind.String())
	if err != nil {
		// No directory for this media source means no titles on it.
		return nil, nil
	}

	var ids []uint64

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		id, err := titles.ParseID(entry.Name())
		if err != nil {
			slog.Debug("skipping non-title directory", "name", entry.Name())
			continue
		}

		ids = append(ids, id)
	}

	return ids, nil
}

// ProductCode is unknown for directory-backed archives; without a code no
// server name is looked up and the display name is the hex ID.
func (l *dirLister) ProductCode(uint64, titles.Kind) string { return "" }

func (l *dirLister) HasSaveArchive(id uint64, kind titles.Kind) bool {
	entries, err := afero.ReadDir(l.fs, kind.String()+"/"+titles.FormatID(id))
	if err != nil {
		return false
	}

	return len(entries) > 0
}
