package titles

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/afero"
)

const (
	// ROMExtension marks foreign-family ROM files in the save directory.
	ROMExtension = ".nds"

	// productCodeOffset is where the 4-byte product code sits in a ROM
	// header.
	productCodeOffset = 0x0C

	// SaveExtension is the loose save file extension paired with a ROM.
	SaveExtension = ".sav"

	// savesSubdir is the optional sibling directory holding save files.
	savesSubdir = "saves"
)

// ROMScanner discovers loose-file titles: ROM images in a configured
// directory, each paired with a save file beside it or in a saves/
// subdirectory.
type ROMScanner struct {
	fs     afero.Fs
	dir    string
	logger *slog.Logger
}

// NewROMScanner scans dir on fs.
func NewROMScanner(fs afero.Fs, dir string, logger *slog.Logger) *ROMScanner {
	if logger == nil {
		logger = slog.Default()
	}

	return &ROMScanner{fs: fs, dir: dir, logger: logger}
}

// Scan walks the ROM directory (not recursing) and returns a title per ROM
// with a readable product code. Titles keep their save path even when no
// save exists yet, so a download knows where to land.
func (s *ROMScanner) Scan() ([]*Title, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		// A missing ROM directory just means no loose-file titles.
		s.logger.Debug("rom directory unreadable, skipping", "dir", s.dir, "error", err)
		return nil, nil
	}

	var found []*Title

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.EqualFold(pathExt(name), ROMExtension) {
			continue
		}

		romPath := s.dir + "/" + name

		code, err := s.readProductCode(romPath)
		if err != nil {
			s.logger.Warn("skipping rom with unreadable header", "rom", name, "error", err)
			continue
		}

		id, err := DeriveLooseID(code)
		if err != nil {
			s.logger.Warn("skipping rom with invalid product code", "rom", name, "code", code)
			continue
		}

		stem := strings.TrimSuffix(name, pathExt(name))
		savePath, hasSave := s.locateSave(stem)

		t := &Title{
			ID:          id,
			Kind:        LooseFile,
			ProductCode: code,
			HasSave:     hasSave,
			LoosePath:   savePath,
			DisplayName: stem,
		}

		if hasSave {
			if info, err := s.fs.Stat(savePath); err == nil {
				t.ModTime = info.ModTime().Unix()
			}
		}

		found = append(found, t)
	}

	s.logger.Debug("rom scan complete", "dir", s.dir, "titles", len(found))

	return found, nil
}

// readProductCode pulls the 4-byte code from the ROM header and validates
// it is printable ASCII.
func (s *ROMScanner) readProductCode(romPath string) (string, error) {
	f, err := s.fs.Open(romPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf [4]byte
	if _, err := f.ReadAt(buf[:], productCodeOffset); err != nil {
		return "", fmt.Errorf("titles: reading rom header: %w", err)
	}

	code := string(buf[:])
	if err := ValidateProductCode(code); err != nil {
		return "", err
	}

	return code, nil
}

// locateSave finds the save file for a ROM stem: first beside the ROM,
// then in the saves/ subdirectory. When neither exists it returns the
// default path a download should create, preferring saves/ when that
// directory is present.
func (s *ROMScanner) locateSave(stem string) (string, bool) {
	beside := s.dir + "/" + stem + SaveExtension
	if exists, _ := afero.Exists(s.fs, beside); exists {
		return beside, true
	}

	inSubdir := s.dir + "/" + savesSubdir + "/" + stem + SaveExtension
	if exists, _ := afero.Exists(s.fs, inSubdir); exists {
		return inSubdir, true
	}

	if isDir, _ := afero.IsDir(s.fs, s.dir+"/"+savesSubdir); isDir {
		return inSubdir, false
	}

	return beside, false
}

// pathExt returns the extension of a base filename including the dot, or
// "" when there is none.
func pathExt(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}

	return ""
}
