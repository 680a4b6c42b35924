// Package spi drives the 4-wire SPI save chip on a physical game cartridge
// through a host-provided transaction primitive. It detects the chip type
// (EEPROM, FRAM, or FLASH in several capacities), and reads and writes
// whole save images with the per-chip addressing, page, and erase rules.
package spi

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SPI command bytes.
const (
	cmdReadStatus  = 0x05 // RDSR
	cmdRead        = 0x03 // read data
	cmdWriteEnable = 0x06 // WREN
	cmdWriteDisbl  = 0x04 // WRDI
	cmdWrite       = 0x02 // page program / write
	cmdSectorErase = 0xD8 // FLASH 64 KiB sector erase
	cmdJEDECID     = 0x9F // JEDEC ID (manufacturer, type, capacity)
)

// Status register bits.
const (
	srWIP = 0x01 // write in progress
	srWEL = 0x02 // write enable latch
)

const (
	// chunkSize caps the data bytes per SPI transaction; the host driver
	// rejects larger transfers.
	chunkSize = 256

	flashPageSize   = 256
	flashSectorSize = 64 * 1024

	// WIP poll deadlines.
	writeWaitTimeout = 50 * time.Millisecond
	eraseWaitTimeout = 3 * time.Second
	wipPollInterval  = time.Millisecond
)

var (
	// ErrNoChip means detection concluded no save chip is present (the
	// write-enable latch never set and no known FLASH answered).
	ErrNoChip = errors.New("spi: no save chip detected")

	// ErrTimeout means the chip's write-in-progress bit did not clear
	// within the per-chunk deadline.
	ErrTimeout = errors.New("spi: write-in-progress timeout")

	// ErrClosed means the device was used after Close.
	ErrClosed = errors.New("spi: device closed")
)

// Transactor is the host's SPI transaction primitive: clock out the header
// bytes, then the out buffer, then clock the in buffer full. Either buffer
// may be nil. Implemented by the platform bus driver; tests provide chip
// simulators.
type Transactor interface {
	Exchange(header, out, in []byte) error
	Close() error
}

// Opener brings up the SPI bus and returns a Transactor. Called lazily on
// the first cartridge operation so consoles without an inserted cart never
// touch the bus.
type Opener func() (Transactor, error)

// Device is a handle to the cartridge save chip. It owns the bus for the
// duration of any operation; callers must not interleave operations.
type Device struct {
	open   Opener
	tr     Transactor
	closed bool
	logger *slog.Logger

	// sleep is the WIP-poll delay. Tests override it to run instantly.
	sleep func(time.Duration)
}

// NewDevice creates a Device that opens the bus via open on first use.
func NewDevice(open Opener, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}

	return &Device{
		open:   open,
		logger: logger,
		sleep:  time.Sleep,
	}
}

// ensure opens the bus if it is not open yet.
func (d *Device) ensure() error {
	if d.closed {
		return ErrClosed
	}

	if d.tr != nil {
		return nil
	}

	tr, err := d.open()
	if err != nil {
		return fmt.Errorf("spi: opening bus: %w", err)
	}

	d.tr = tr
	d.logger.Debug("spi bus opened")

	return nil
}

// Close releases the bus. Idempotent; the device cannot be reused after.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}

	d.closed = true

	if d.tr == nil {
		return nil
	}

	err := d.tr.Close()
	d.tr = nil

	return err
}

// --- low-level operations ---

func (d *Device) readStatus() (byte, error) {
	var sr [1]byte
	if err := d.tr.Exchange([]byte{cmdReadStatus}, nil, sr[:]); err != nil {
		return 0, fmt.Errorf("spi: read status: %w", err)
	}

	return sr[0], nil
}

func (d *Device) writeEnable() error {
	if err := d.tr.Exchange([]byte{cmdWriteEnable}, nil, nil); err != nil {
		return fmt.Errorf("spi: write enable: %w", err)
	}

	return nil
}

func (d *Device) writeDisable() error {
	if err := d.tr.Exchange([]byte{cmdWriteDisbl}, nil, nil); err != nil {
		return fmt.Errorf("spi: write disable: %w", err)
	}

	return nil
}

func (d *Device) readJEDEC() ([3]byte, error) {
	var id [3]byte
	if err := d.tr.Exchange([]byte{cmdJEDECID}, nil, id[:]); err != nil {
		return id, fmt.Errorf("spi: read JEDEC id: %w", err)
	}

	return id, nil
}

// waitWIP polls the status register until the write-in-progress bit clears.
func (d *Device) waitWIP(timeout time.Duration) error {
	deadline := int(timeout / wipPollInterval)
	for i := 0; i <= deadline; i++ {
		sr, err := d.readStatus()
		if err != nil {
			return err
		}

		if sr&srWIP == 0 {
			return nil
		}

		d.sleep(wipPollInterval)
	}

	return ErrTimeout
}

// --- addressed command headers ---

// header builds the read or write command header for a chip type and
// address. EEPROM512B encodes address bit 8, and EEPROM128K address bit 16,
// as bit 3 of the command byte.
func header(t SaveType, cmd byte, addr int) []byte {
	switch t {
	case EEPROM512B:
		return []byte{cmd | byte((addr>>8)&1)<<3, byte(addr)}
	case EEPROM128K:
		return []byte{cmd | byte((addr>>16)&1)<<3, byte(addr >> 8), byte(addr)}
	case EEPROM8K, EEPROM64K, FRAM32K:
		return []byte{cmd, byte(addr >> 8), byte(addr)}
	default: // FLASH, 24-bit address
		return []byte{cmd, byte(addr >> 16), byte(addr >> 8), byte(addr)}
	}
}

// readAt fills buf from the chip starting at addr, in one transaction.
func (d *Device) readAt(t SaveType, addr int, buf []byte) error {
	if err := d.tr.Exchange(header(t, cmdRead, addr), nil, buf); err != nil {
		return fmt.Errorf("spi: read %d bytes at %#x: %w", len(buf), addr, err)
	}

	return nil
}
