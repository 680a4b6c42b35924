package spi

import (
	"fmt"
	"time"
)

// ReadImage reads the chip's whole save image, in transactions of at most
// chunkSize bytes. Any transaction error fails the read; no partial image
// is returned.
func (d *Device) ReadImage(t SaveType) ([]byte, error) {
	if err := d.ensure(); err != nil {
		return nil, err
	}

	size := t.Size()
	if size == 0 {
		return nil, fmt.Errorf("spi: cannot read chip type %s", t)
	}

	img := make([]byte, size)

	for off := 0; off < size; off += chunkSize {
		end := off + chunkSize
		if end > size {
			end = size
		}

		if err := d.readAt(t, off, img[off:end]); err != nil {
			return nil, err
		}
	}

	d.logger.Debug("spi read image", "type", t.String(), "bytes", size)

	return img, nil
}

// WriteImage writes img over the chip's whole address range. img must not
// exceed the chip size; a shorter image leaves trailing bytes untouched
// (EEPROM/FRAM). On FLASH the rest of the last sector the image reaches is
// erased, and sectors past it are untouched.
//
// FLASH is erased sector-by-sector first, then programmed page-by-page.
// EEPROM writes are split on page boundaries. FRAM takes the image in a
// single burst with no completion wait. A failure mid-write leaves the chip
// in an indeterminate state.
func (d *Device) WriteImage(t SaveType, img []byte) error {
	if err := d.ensure(); err != nil {
		return err
	}

	size := t.Size()
	if size == 0 {
		return fmt.Errorf("spi: cannot write chip type %s", t)
	}

	if len(img) > size {
		return fmt.Errorf("spi: image of %d bytes exceeds %s capacity", len(img), t)
	}

	if len(img) == 0 {
		return nil
	}

	switch {
	case t.isFlash():
		return d.writeFlash(t, img)
	case t == FRAM32K:
		return d.writeFRAM(img)
	default:
		return d.writeEEPROM(t, img)
	}
}

// writeFlash erases every sector the image covers, then programs it in
// pages. Each erase and each page program is preceded by write-enable and
// followed by a WIP wait.
func (d *Device) writeFlash(t SaveType, img []byte) error {
	for addr := 0; addr < len(img); addr += flashSectorSize {
		if err := d.writeEnable(); err != nil {
			return err
		}

		if err := d.tr.Exchange(header(t, cmdSectorErase, addr), nil, nil); err != nil {
			return fmt.Errorf("spi: sector erase at %#x: %w", addr, err)
		}

		if err := d.waitWIP(eraseWaitTimeout); err != nil {
			return err
		}
	}

	for addr := 0; addr < len(img); addr += flashPageSize {
		end := addr + flashPageSize
		if end > len(img) {
			end = len(img)
		}

		if err := d.programChunk(t, addr, img[addr:end], writeWaitTimeout); err != nil {
			return err
		}
	}

	d.logger.Debug("spi wrote flash image", "type", t.String(), "bytes", len(img))

	return nil
}

// writeEEPROM splits the image on the chip's page boundaries: each chunk is
// page_size − (address mod page_size) bytes at most, so no write crosses a
// page.
func (d *Device) writeEEPROM(t SaveType, img []byte) error {
	page := t.pageSize()

	for off := 0; off < len(img); {
		chunk := page - off%page
		if chunk > len(img)-off {
			chunk = len(img) - off
		}

		if err := d.programChunk(t, off, img[off:off+chunk], writeWaitTimeout); err != nil {
			return err
		}

		off += chunk
	}

	d.logger.Debug("spi wrote eeprom image", "type", t.String(), "bytes", len(img))

	return nil
}

// writeFRAM writes the whole image in one burst. FRAM cells commit
// instantly, so there is no page split and no WIP wait.
func (d *Device) writeFRAM(img []byte) error {
	if err := d.writeEnable(); err != nil {
		return err
	}

	if err := d.tr.Exchange(header(FRAM32K, cmdWrite, 0), img, nil); err != nil {
		return fmt.Errorf("spi: fram write: %w", err)
	}

	d.logger.Debug("spi wrote fram image", "bytes", len(img))

	return nil
}

// programChunk performs one write-enable + program + WIP-wait cycle.
func (d *Device) programChunk(t SaveType, addr int, data []byte, timeout time.Duration) error {
	if err := d.writeEnable(); err != nil {
		return err
	}

	if err := d.tr.Exchange(header(t, cmdWrite, addr), data, nil); err != nil {
		return fmt.Errorf("spi: program %d bytes at %#x: %w", len(data), addr, err)
	}

	return d.waitWIP(timeout)
}
