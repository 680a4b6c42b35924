package spi

import "bytes"

// Known FLASH manufacturer IDs: ST/Numonyx, Macronix, Sanyo, EON, SST.
var flashVendors = map[byte]bool{
	0x20: true,
	0xC2: true,
	0x62: true,
	0x1C: true,
	0xBF: true,
}

// flashCapacity maps the JEDEC capacity byte to a FLASH variant. Unknown
// capacities fall back to 256K, the most common cart chip.
func flashCapacity(capacity byte) SaveType {
	switch capacity {
	case 0x10, 0x12:
		return Flash256K
	case 0x13:
		return Flash512K
	case 0x14:
		return Flash1M
	case 0x17:
		return Flash8M
	default:
		return Flash256K
	}
}

// probeWindow is the number of bytes compared at each wrap-probe address.
const probeWindow = 32

// Detect classifies the save chip on the inserted cartridge:
//
//  1. A JEDEC ID from a known FLASH vendor decides a FLASH variant by its
//     capacity byte.
//  2. Otherwise the write-enable latch is probed; a chip that never latches
//     WEL is treated as absent.
//  3. EEPROM/FRAM sizes are told apart by address wrap-around: a 32-byte
//     window at 0 is compared against reads at 0x2000 (8K) and 0x8000
//     (FRAM 32K), then against a 17-bit-addressed read at 0x10000 (128K).
//
// When the reference window is uniform (all bytes identical) wrap detection
// has no signal and the result defaults to EEPROM64K; an unprogrammed chip
// of a different size will be misidentified.
func (d *Device) Detect() (SaveType, error) {
	if err := d.ensure(); err != nil {
		return TypeUnknown, err
	}

	// Step 1: FLASH via JEDEC ID.
	if id, err := d.readJEDEC(); err == nil && flashVendors[id[0]] {
		t := flashCapacity(id[2])
		d.logger.Debug("spi detect: flash",
			"manufacturer", id[0], "capacity_byte", id[2], "type", t.String())

		return t, nil
	}

	// Step 2: does anything latch WEL?
	if err := d.writeEnable(); err != nil {
		return TypeUnknown, err
	}

	sr, err := d.readStatus()
	if err != nil {
		return TypeUnknown, err
	}

	if err := d.writeDisable(); err != nil {
		return TypeUnknown, err
	}

	if sr&srWEL == 0 {
		return TypeUnknown, ErrNoChip
	}

	// Step 3: wrap-around probes with 2-byte addressing.
	var ref [probeWindow]byte
	if err := d.readAt(EEPROM64K, 0, ref[:]); err != nil {
		return TypeUnknown, err
	}

	if uniform(ref[:]) {
		d.logger.Debug("spi detect: uniform reference window, defaulting", "type", EEPROM64K.String())
		return EEPROM64K, nil
	}

	var probe [probeWindow]byte

	if err := d.readAt(EEPROM64K, 0x2000, probe[:]); err == nil && bytes.Equal(ref[:], probe[:]) {
		return EEPROM8K, nil
	}

	if err := d.readAt(EEPROM64K, 0x8000, probe[:]); err == nil && bytes.Equal(ref[:], probe[:]) {
		return FRAM32K, nil
	}

	// Step 4: 64K vs 128K via the 17-bit command form. A distinct upper
	// page means the extra address bit is honored.
	if err := d.readAt(EEPROM128K, 0x10000, probe[:]); err == nil && !bytes.Equal(ref[:], probe[:]) {
		return EEPROM128K, nil
	}

	return EEPROM64K, nil
}

func uniform(b []byte) bool {
	for _, v := range b[1:] {
		if v != b[0] {
			return false
		}
	}

	return true
}
