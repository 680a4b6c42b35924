// Package media adapts the console's save storage variants — tree-structured
// savedata archives, loose save files on removable storage, and raw SPI
// cartridge chips — to one read/write interface over bundle file lists. The
// sync executor dispatches on a title's media kind and treats every save as
// an opaque list of files from there on.
package media

import (
	"context"
	"fmt"

	"github.com/pepasjc/savesync/internal/bundle"
	"github.com/pepasjc/savesync/internal/titles"
)

// Adapter reads and writes one media variant's save data as bundle files.
//
// ReadSave returns every regular file of the save in the media's iteration
// order; the order must be stable for unchanged media because it defines
// the save hash. WriteSave replaces the save's contents wholesale.
type Adapter interface {
	ReadSave(ctx context.Context, t *titles.Title) ([]bundle.File, error)
	WriteSave(ctx context.Context, t *titles.Title, files []bundle.File) error
}

// Adapters bundles one adapter per media family for kind dispatch.
type Adapters struct {
	Archive *ArchiveAdapter // SystemStorage, CartridgeTree
	Loose   *LooseFileAdapter
	Cart    *CartAdapter
}

// ForKind selects the adapter serving a media kind.
func (a *Adapters) ForKind(kind titles.Kind) (Adapter, error) {
	switch kind {
	case titles.SystemStorage, titles.CartridgeTree:
		if a.Archive == nil {
			return nil, fmt.Errorf("media: no archive adapter configured")
		}

		return a.Archive, nil
	case titles.LooseFile:
		if a.Loose == nil {
			return nil, fmt.Errorf("media: no loose-file adapter configured")
		}

		return a.Loose, nil
	case titles.CartridgeSPI:
		if a.Cart == nil {
			return nil, fmt.Errorf("media: no cartridge adapter configured")
		}

		return a.Cart, nil
	default:
		return nil, fmt.Errorf("media: unknown media kind %d", kind)
	}
}
