package titles

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeriveLooseID(t *testing.T) {
	id, err := DeriveLooseID("A2DE")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0004800041324445), id)
	assert.Equal(t, "0004800041324445", FormatID(id))
}

func TestDeriveLooseIDRejectsBadCodes(t *testing.T) {
	for _, code := range []string{"", "ABC", "ABCDE", "AB\x00D", "AB\xFFD"} {
		_, err := DeriveLooseID(code)
		assert.Error(t, err, "code %q", code)
	}
}

func TestParseID(t *testing.T) {
	id, err := ParseID("0004000000055D00")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0004000000055D00), id)

	_, err = ParseID("55D00")
	assert.Error(t, err)

	_, err = ParseID("000400000005XDZZ")
	assert.Error(t, err)
}

func TestFallbackName(t *testing.T) {
	withCode := &Title{ID: 1, ProductCode: "AREE"}
	assert.Equal(t, "AREE", withCode.FallbackName())

	noCode := &Title{ID: 0x0004000000055D00}
	assert.Equal(t, "0004000000055D00", noCode.FallbackName())
}

// --- fakes ---

type fakeSystem struct {
	storage  []uint64
	cart     []uint64
	codes    map[uint64]string
	saveless map[uint64]bool
	listErr  error
}

func (f *fakeSystem) ListTitleIDs(kind Kind) ([]uint64, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}

	if kind == CartridgeTree {
		return f.cart, nil
	}

	return f.storage, nil
}

func (f *fakeSystem) ProductCode(id uint64, _ Kind) string { return f.codes[id] }

func (f *fakeSystem) HasSaveArchive(id uint64, _ Kind) bool { return !f.saveless[id] }

type fakeProber struct {
	code string
	ok   bool
}

func (f *fakeProber) InsertedCart() (string, bool) { return f.code, f.ok }

type fakeResolver struct {
	names map[string]string
	err   error
	calls int
}

func (f *fakeResolver) PostTitleNames(_ context.Context, _ []string) (map[string]string, error) {
	f.calls++
	return f.names, f.err
}

// writeROM creates a minimal ROM file with the product code at the header
// offset.
func writeROM(t *testing.T, fs afero.Fs, path, code string) {
	t.Helper()

	header := make([]byte, 0x40)
	copy(header[productCodeOffset:], code)
	require.NoError(t, afero.WriteFile(fs, path, header, 0o644))
}

func TestEnumerateSystemFiltersAndSorts(t *testing.T) {
	sys := &fakeSystem{
		storage: []uint64{
			0x0004000000055D00, // app, has save
			0x0004001000021000, // system title: filtered by high word
			0x0004000000099900, // app without save archive: filtered
		},
		cart: []uint64{0x0004000200031000}, // demo on cart
		codes: map[uint64]string{
			0x0004000000055D00: "AREE",
			0x0004000200031000: "AQDE",
		},
		saveless: map[uint64]bool{0x0004000000099900: true},
	}

	resolver := &fakeResolver{names: map[string]string{
		"AREE": "Zeta Chronicle",
		"AQDE": "Alpha Trainer",
	}}

	e := NewEnumerator(sys, nil, nil, resolver, discardLogger())

	got, err := e.Enumerate(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 2)
	// Sorted case-insensitively by display name.
	assert.Equal(t, "Alpha Trainer", got[0].DisplayName)
	assert.Equal(t, "Zeta Chronicle", got[1].DisplayName)
	assert.Equal(t, CartridgeTree, got[0].Kind)
	assert.Equal(t, SystemStorage, got[1].Kind)
}

func TestEnumerateROMDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeROM(t, fs, "roms/alpha.nds", "A2DE")
	writeROM(t, fs, "roms/beta.NDS", "B3FE") // extension match is case-insensitive
	writeROM(t, fs, "roms/broken.nds", "\x01\x02\x03\x04")
	require.NoError(t, afero.WriteFile(fs, "roms/readme.txt", []byte("not a rom"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "roms/alpha.sav", []byte("savedata"), 0o644))

	scanner := NewROMScanner(fs, "roms", discardLogger())
	e := NewEnumerator(nil, scanner, nil, &fakeResolver{}, discardLogger())

	got, err := e.Enumerate(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 2)

	byCode := map[string]*Title{}
	for _, title := range got {
		byCode[title.ProductCode] = title
	}

	alpha := byCode["A2DE"]
	require.NotNil(t, alpha)
	assert.True(t, alpha.HasSave)
	assert.Equal(t, "roms/alpha.sav", alpha.LoosePath)
	assert.NotZero(t, alpha.ModTime)

	beta := byCode["B3FE"]
	require.NotNil(t, beta)
	assert.False(t, beta.HasSave)
	assert.Equal(t, "roms/beta.sav", beta.LoosePath)
}

func TestROMScanFindsSaveInSavesSubdir(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeROM(t, fs, "roms/game.nds", "C4GE")
	require.NoError(t, afero.WriteFile(fs, "roms/saves/game.sav", []byte("x"), 0o644))

	scanner := NewROMScanner(fs, "roms", discardLogger())

	got, err := scanner.Scan()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "roms/saves/game.sav", got[0].LoosePath)
	assert.True(t, got[0].HasSave)
}

func TestROMScanDefaultsToSavesSubdirWhenPresent(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeROM(t, fs, "roms/new.nds", "D5HE")
	require.NoError(t, fs.MkdirAll("roms/saves", 0o755))

	scanner := NewROMScanner(fs, "roms", discardLogger())

	got, err := scanner.Scan()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].HasSave)
	assert.Equal(t, "roms/saves/new.sav", got[0].LoosePath)
}

func TestEnumerateDedupesAcrossSources(t *testing.T) {
	sys := &fakeSystem{
		storage: []uint64{0x0004000000055D00},
		codes:   map[uint64]string{0x0004000000055D00: "AREE"},
	}

	fs := afero.NewMemMapFs()
	writeROM(t, fs, "roms/dupe.nds", "AREE")

	scanner := NewROMScanner(fs, "roms", discardLogger())
	e := NewEnumerator(sys, scanner, nil, &fakeResolver{}, discardLogger())

	got, err := e.Enumerate(context.Background())
	require.NoError(t, err)

	// The system-storage title came first; the ROM duplicate is dropped.
	require.Len(t, got, 1)
	assert.Equal(t, SystemStorage, got[0].Kind)
}

func TestEnumerateInsertedCartridge(t *testing.T) {
	prober := &fakeProber{code: "A2DE", ok: true}
	e := NewEnumerator(nil, nil, prober, &fakeResolver{}, discardLogger())

	got, err := e.Enumerate(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, CartridgeSPI, got[0].Kind)
	assert.Equal(t, uint64(0x0004800041324445), got[0].ID)
	assert.True(t, got[0].HasSave)
}

func TestEnumerateNameFallbackOnResolverError(t *testing.T) {
	sys := &fakeSystem{
		storage: []uint64{0x0004000000055D00},
		codes:   map[uint64]string{0x0004000000055D00: "AREE"},
	}

	e := NewEnumerator(sys, nil, nil, &fakeResolver{err: errors.New("offline")}, discardLogger())

	got, err := e.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "AREE", got[0].DisplayName)
}

func TestEnumerateIdempotent(t *testing.T) {
	sys := &fakeSystem{
		storage: []uint64{0x0004000000055D00, 0x0004000000066600},
		codes: map[uint64]string{
			0x0004000000055D00: "AREE",
			0x0004000000066600: "BXYZ",
		},
	}

	fs := afero.NewMemMapFs()
	writeROM(t, fs, "roms/game.nds", "C4GE")

	resolver := &fakeResolver{names: map[string]string{"AREE": "Same Name", "BXYZ": "Same Name"}}
	e := NewEnumerator(sys, NewROMScanner(fs, "roms", discardLogger()), nil, resolver, discardLogger())

	first, err := e.Enumerate(context.Background())
	require.NoError(t, err)

	second, err := e.Enumerate(context.Background())
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Kind, second[i].Kind)
		assert.Equal(t, first[i].DisplayName, second[i].DisplayName)
	}
}
