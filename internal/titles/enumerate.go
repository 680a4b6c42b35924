package titles

import (
	"context"
	"log/slog"
	"sort"
)

// Title-ID high words eligible for sync: retail applications and demos.
// System titles, applets, and firmware share the storage but never sync.
var syncableHighWords = map[uint32]bool{
	0x00040000: true, // application
	0x00040002: true, // demo
}

// SystemLister is the platform API for installed-title enumeration.
type SystemLister interface {
	// ListTitleIDs returns the installed title IDs on a media source
	// (SystemStorage or CartridgeTree).
	ListTitleIDs(kind Kind) ([]uint64, error)

	// ProductCode returns a title's product code, or "" when unavailable.
	ProductCode(id uint64, kind Kind) string

	// HasSaveArchive reports whether the title owns a non-empty savedata
	// archive.
	HasSaveArchive(id uint64, kind Kind) bool
}

// CartProber reports a foreign-family cartridge in the slot, identified by
// the product code from its ROM header.
type CartProber interface {
	InsertedCart() (productCode string, ok bool)
}

// NameResolver resolves product codes to display names; unknown codes are
// absent from the result. Satisfied by the API client.
type NameResolver interface {
	PostTitleNames(ctx context.Context, codes []string) (map[string]string, error)
}

// Enumerator discovers syncable titles across every configured media
// source. Two consecutive scans with unchanged media produce equal lists.
type Enumerator struct {
	sys     SystemLister
	roms    *ROMScanner // nil when no save_dir is configured
	prober  CartProber  // nil when the console has no foreign cart slot
	names   NameResolver
	logger  *slog.Logger
}

// NewEnumerator assembles an enumerator. Any source may be nil and is then
// skipped.
func NewEnumerator(sys SystemLister, roms *ROMScanner, prober CartProber, names NameResolver, logger *slog.Logger) *Enumerator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Enumerator{sys: sys, roms: roms, prober: prober, names: names, logger: logger}
}

// Enumerate scans all sources, deduplicates by product code (first source
// wins), resolves display names, and returns the titles sorted
// case-insensitively by name.
func (e *Enumerator) Enumerate(ctx context.Context) ([]*Title, error) {
	var all []*Title

	if e.sys != nil {
		for _, kind := range []Kind{SystemStorage, CartridgeTree} {
			found, err := e.scanSystem(kind)
			if err != nil {
				return nil, err
			}

			all = append(all, found...)
		}
	}

	if e.roms != nil {
		found, err := e.roms.Scan()
		if err != nil {
			return nil, err
		}

		all = append(all, found...)
	}

	if e.prober != nil {
		if code, ok := e.prober.InsertedCart(); ok {
			if id, err := DeriveLooseID(code); err == nil {
				all = append(all, &Title{
					ID:          id,
					Kind:        CartridgeSPI,
					ProductCode: code,
					HasSave:     true,
				})
			} else {
				e.logger.Warn("inserted cartridge has unusable product code", "code", code)
			}
		}
	}

	all = dedupeByProductCode(all, e.logger)

	e.resolveNames(ctx, all)

	sort.SliceStable(all, func(i, j int) bool { return all[i].SortKey() < all[j].SortKey() })

	e.logger.Info("title scan complete", "titles", len(all))

	return all, nil
}

// scanSystem lists one platform media source, keeping only syncable titles
// that own savedata.
func (e *Enumerator) scanSystem(kind Kind) ([]*Title, error) {
	ids, err := e.sys.ListTitleIDs(kind)
	if err != nil {
		return nil, err
	}

	var found []*Title

	for _, id := range ids {
		if !syncableHighWords[uint32(id>>32)] {
			continue
		}

		if !e.sys.HasSaveArchive(id, kind) {
			continue
		}

		found = append(found, &Title{
			ID:          id,
			Kind:        kind,
			ProductCode: e.sys.ProductCode(id, kind),
			HasSave:     true,
		})
	}

	e.logger.Debug("scanned media source", "kind", kind.String(), "titles", len(found))

	return found, nil
}

// dedupeByProductCode drops later titles whose product code was already
// seen. Titles without a code are never considered duplicates.
func dedupeByProductCode(ts []*Title, logger *slog.Logger) []*Title {
	seen := make(map[string]bool, len(ts))
	out := ts[:0]

	for _, t := range ts {
		if t.ProductCode != "" {
			if seen[t.ProductCode] {
				logger.Debug("skipping duplicate product code",
					"code", t.ProductCode, "title", t.HexID())
				continue
			}

			seen[t.ProductCode] = true
		}

		out = append(out, t)
	}

	return out
}

// resolveNames fills display names from the server, falling back to the
// product code or hex ID. A resolver failure is cosmetic and only logged.
func (e *Enumerator) resolveNames(ctx context.Context, ts []*Title) {
	var codes []string

	for _, t := range ts {
		if t.ProductCode != "" {
			codes = append(codes, t.ProductCode)
		}
	}

	var resolved map[string]string

	if e.names != nil && len(codes) > 0 {
		var err error

		resolved, err = e.names.PostTitleNames(ctx, codes)
		if err != nil {
			e.logger.Warn("name resolution failed, using fallbacks", "error", err)
		}
	}

	for _, t := range ts {
		if name, ok := resolved[t.ProductCode]; ok && name != "" {
			t.DisplayName = truncateName(name)
			continue
		}

		t.DisplayName = t.FallbackName()
	}
}

// maxNameLen bounds display names as the UI renders into fixed buffers.
const maxNameLen = 63

func truncateName(name string) string {
	if len(name) <= maxNameLen {
		return name
	}

	return name[:maxNameLen]
}
