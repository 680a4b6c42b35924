package media

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pepasjc/savesync/internal/bundle"
	"github.com/pepasjc/savesync/internal/spi"
	"github.com/pepasjc/savesync/internal/titles"
)

// CartAdapter serves raw-SPI cartridge titles: the save is the chip's whole
// image, carried as a single save.dat entry. Chip detection runs once per
// operation; it is idempotent.
type CartAdapter struct {
	dev    *spi.Device
	logger *slog.Logger
}

// NewCartAdapter creates an adapter over an SPI device.
func NewCartAdapter(dev *spi.Device, logger *slog.Logger) *CartAdapter {
	if logger == nil {
		logger = slog.Default()
	}

	return &CartAdapter{dev: dev, logger: logger}
}

// ReadSave detects the chip and reads its full image.
func (a *CartAdapter) ReadSave(_ context.Context, t *titles.Title) ([]bundle.File, error) {
	typ, err := a.dev.Detect()
	if err != nil {
		return nil, fmt.Errorf("media: detecting cartridge save chip: %w", err)
	}

	img, err := a.dev.ReadImage(typ)
	if err != nil {
		return nil, fmt.Errorf("media: reading cartridge save: %w", err)
	}

	a.logger.Debug("cartridge save read", "title", t.HexID(), "chip", typ.String(), "bytes", len(img))

	return []bundle.File{{Path: SaveFileName, Data: img}}, nil
}

// WriteSave detects the chip and writes the first file's bytes over the
// whole image. A shorter image is padded with 0xFF to the chip size; a
// longer one is truncated to fit.
func (a *CartAdapter) WriteSave(_ context.Context, t *titles.Title, files []bundle.File) error {
	if len(files) == 0 {
		return fmt.Errorf("media: empty bundle for %s", t.HexID())
	}

	typ, err := a.dev.Detect()
	if err != nil {
		return fmt.Errorf("media: detecting cartridge save chip: %w", err)
	}

	img := files[0].Data

	size := typ.Size()
	switch {
	case len(img) < size:
		padded := make([]byte, size)
		copy(padded, img)
		for i := len(img); i < size; i++ {
			padded[i] = 0xFF
		}
		img = padded
	case len(img) > size:
		a.logger.Warn("cartridge save larger than chip, truncating",
			"title", t.HexID(), "chip", typ.String(), "save_bytes", len(img))
		img = img[:size]
	}

	if err := a.dev.WriteImage(typ, img); err != nil {
		return fmt.Errorf("media: writing cartridge save: %w", err)
	}

	a.logger.Debug("cartridge save written", "title", t.HexID(), "chip", typ.String(), "bytes", len(img))

	return nil
}
