package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pepasjc/savesync/internal/api"
	"github.com/pepasjc/savesync/internal/bundle"
	"github.com/pepasjc/savesync/internal/journal"
	"github.com/pepasjc/savesync/internal/media"
	"github.com/pepasjc/savesync/internal/state"
	"github.com/pepasjc/savesync/internal/titles"
)

// Server is the slice of the API surface the executor consumes. Defined
// here, at the consumer, so tests can stand in for the HTTP client.
type Server interface {
	GetSave(ctx context.Context, titleIDHex string) ([]byte, error)
	PutSave(ctx context.Context, titleIDHex string, bundleBytes []byte) error
	GetSaveMeta(ctx context.Context, titleIDHex string) (*api.SaveMeta, error)
	PostSync(ctx context.Context, req *api.SyncRequest) (*api.SyncPlan, error)
}

// ProgressFunc receives short status messages at operation checkpoints
// ("hashing 3/12", "uploading 1/2"). It is called synchronously and must
// not block.
type ProgressFunc func(msg string)

// maxConflictDisplay caps how many conflicting title IDs a Summary carries
// for the UI.
const maxConflictDisplay = 8

// Summary tallies one batch run.
type Summary struct {
	Uploaded   int
	Downloaded int
	UpToDate   int
	Conflicts  int
	Failed     int
	Skipped    int

	// ConflictTitles holds up to maxConflictDisplay hex IDs left in
	// conflict, for display.
	ConflictTitles []string
}

// Executor orchestrates sync operations over the media adapters, the state
// store, and the server. It owns no title list; callers pass the current
// enumeration into each batch.
type Executor struct {
	server    Server
	adapters  *media.Adapters
	store     *state.Store
	journal   *journal.Journal // optional; nil disables history recording
	consoleID string
	progress  ProgressFunc
	logger    *slog.Logger

	// now is the timestamp source; tests pin it.
	now func() time.Time
}

// NewExecutor assembles an executor. progress and jnl may be nil.
func NewExecutor(server Server, adapters *media.Adapters, store *state.Store,
	jnl *journal.Journal, consoleID string, progress ProgressFunc, logger *slog.Logger,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	if progress == nil {
		progress = func(string) {}
	}

	return &Executor{
		server:    server,
		adapters:  adapters,
		store:     store,
		journal:   jnl,
		consoleID: consoleID,
		progress:  progress,
		logger:    logger,
		now:       time.Now,
	}
}

// readSave loads a title's save through its media adapter.
func (e *Executor) readSave(ctx context.Context, t *titles.Title) ([]bundle.File, error) {
	adapter, err := e.adapters.ForKind(t.Kind)
	if err != nil {
		return nil, err
	}

	return adapter.ReadSave(ctx, t)
}

// PushTitle uploads a title's local save unconditionally; the server
// arbitrates staleness. Used when the user explicitly pushes one title —
// the UI is expected to warn first, since a push can overwrite newer server
// data.
func (e *Executor) PushTitle(ctx context.Context, t *titles.Title) error {
	return e.uploadTitle(ctx, t, "")
}

// uploadTitle reads, bundles, and POSTs a title's save. cachedHash, when
// non-empty, skips rehashing (the batch path hashed everything already).
// The last-synced hash is persisted only after the server accepted the
// upload.
func (e *Executor) uploadTitle(ctx context.Context, t *titles.Title, cachedHash string) error {
	e.progress(fmt.Sprintf("Reading save: %s", t.HexID()))

	files, err := e.readSave(ctx, t)
	if err != nil {
		return fmt.Errorf("sync: reading save for %s: %w", t.HexID(), err)
	}

	if len(files) == 0 {
		return fmt.Errorf("sync: title %s has no local save to upload", t.HexID())
	}

	hash := cachedHash
	if hash == "" {
		hash = bundle.SaveHashHex(files)
	}

	e.progress(fmt.Sprintf("Uploading: %s (%d files)", t.HexID(), len(files)))

	timestamp := t.ModTime
	if timestamp == 0 {
		timestamp = e.now().Unix()
	}

	data, err := bundle.Encode(t.ID, uint32(timestamp), files)
	if err != nil {
		return fmt.Errorf("sync: bundling save for %s: %w", t.HexID(), err)
	}

	if err := e.server.PutSave(ctx, t.HexID(), data); err != nil {
		return fmt.Errorf("sync: uploading %s: %w", t.HexID(), err)
	}

	if err := e.store.Save(t.ID, hash); err != nil {
		return fmt.Errorf("sync: recording synced state for %s: %w", t.HexID(), err)
	}

	e.recordTransfer(ctx, t, journal.ActionUpload, hash, files)
	e.logger.Info("uploaded save", "title", t.HexID(), "files", len(files), "bundle_bytes", len(data))

	return nil
}

// PullTitle downloads a title's server save and writes it to local media,
// replacing whatever is there. The last-synced hash is persisted only after
// the write fully succeeded.
func (e *Executor) PullTitle(ctx context.Context, t *titles.Title) error {
	e.progress(fmt.Sprintf("Downloading: %s", t.HexID()))

	data, err := e.server.GetSave(ctx, t.HexID())
	if err != nil {
		return fmt.Errorf("sync: downloading %s: %w", t.HexID(), err)
	}

	b, err := bundle.Decode(data)
	if err != nil {
		return fmt.Errorf("sync: parsing bundle for %s: %w", t.HexID(), err)
	}

	// Hash before writing, while the decoded data is authoritative.
	hash := bundle.SaveHashHex(b.Files)

	e.progress(fmt.Sprintf("Writing save: %s (%d files)", t.HexID(), len(b.Files)))

	adapter, err := e.adapters.ForKind(t.Kind)
	if err != nil {
		return err
	}

	if err := adapter.WriteSave(ctx, t, b.Files); err != nil {
		return fmt.Errorf("sync: writing save for %s: %w", t.HexID(), err)
	}

	if err := e.store.Save(t.ID, hash); err != nil {
		return fmt.Errorf("sync: recording synced state for %s: %w", t.HexID(), err)
	}

	e.recordTransfer(ctx, t, journal.ActionDownload, hash, b.Files)
	e.logger.Info("downloaded save", "title", t.HexID(), "files", len(b.Files))

	return nil
}

// localScan is the cached result of the batch hashing pass.
type localScan struct {
	hash string // ZeroHash when no local save
	size int64
}

// SyncAll runs the batch protocol: hash every title, POST the metadata to
// the server, and execute the returned plan — uploads first, then downloads
// (including server-only titles that exist locally). Raw-SPI cartridge
// titles are excluded; the user pushes and pulls those explicitly. The
// batch continues past per-title failures and tallies them in the summary.
func (e *Executor) SyncAll(ctx context.Context, list []*titles.Title) (*Summary, error) {
	summary := &Summary{}

	byHex := make(map[string]*titles.Title, len(list))
	scans := make(map[string]*localScan, len(list))

	var batch []*titles.Title

	for _, t := range list {
		if t.Kind == titles.CartridgeSPI {
			summary.Skipped++
			e.logger.Debug("excluding raw-cartridge title from batch", "title", t.HexID())
			continue
		}

		batch = append(batch, t)
		byHex[t.HexID()] = t
	}

	// Step 1: hash every local save once; the hashes feed both the
	// metadata document and any later uploads.
	req := &api.SyncRequest{ConsoleID: e.consoleID}

	for i, t := range batch {
		e.progress(fmt.Sprintf("Hashing save %d/%d: %s", i+1, len(batch), t.HexID()))

		scan := e.scanLocal(ctx, t)
		scans[t.HexID()] = scan

		meta := api.TitleMeta{
			TitleID:  t.HexID(),
			SaveHash: scan.hash,
			Size:     scan.size,
		}

		meta.Timestamp = t.ModTime
		if meta.Timestamp == 0 {
			meta.Timestamp = e.now().Unix()
		}

		if last, ok := e.store.Load(t.ID); ok {
			meta.LastSyncedHash = last
		}

		req.Titles = append(req.Titles, meta)
	}

	// Step 2: negotiate the plan.
	e.progress("Sending sync request...")

	plan, err := e.server.PostSync(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sync: requesting plan: %w", err)
	}

	// Step 3: local auto-resolution — a conflict with no local save at all
	// has nothing to lose; download it.
	var conflicts []string

	for _, hex := range plan.Conflict {
		if scan, ok := scans[hex]; ok && scan.hash == ZeroHash {
			e.logger.Info("auto-resolving conflict with no local save", "title", hex)
			plan.Download = append(plan.Download, hex)
			continue
		}

		conflicts = append(conflicts, hex)
	}

	summary.Conflicts = len(conflicts)
	for i, hex := range conflicts {
		if i == maxConflictDisplay {
			break
		}

		summary.ConflictTitles = append(summary.ConflictTitles, hex)
	}

	summary.UpToDate = len(plan.UpToDate)

	// Step 4: uploads complete before any download starts, so a failed
	// upload cannot shadow a download of the same title already inbound
	// from another console.
	for i, hex := range plan.Upload {
		t, ok := byHex[hex]
		if !ok {
			e.logger.Warn("plan lists unknown title for upload", "title", hex)
			continue
		}

		e.progress(fmt.Sprintf("Uploading %d/%d: %s", i+1, len(plan.Upload), hex))

		if err := e.uploadTitle(ctx, t, scans[hex].hash); err != nil {
			e.logger.Error("upload failed", "title", hex, "error", err)
			summary.Failed++

			continue
		}

		summary.Uploaded++
	}

	// Step 5: downloads, including server-only titles with a local install
	// to receive them.
	downloads := append([]string{}, plan.Download...)

	for _, hex := range plan.ServerOnly {
		if _, ok := byHex[hex]; ok {
			downloads = append(downloads, hex)
		}
	}

	for i, hex := range downloads {
		t, ok := byHex[hex]
		if !ok {
			e.logger.Warn("plan lists unknown title for download", "title", hex)
			continue
		}

		e.progress(fmt.Sprintf("Downloading %d/%d: %s", i+1, len(downloads), hex))

		if err := e.PullTitle(ctx, t); err != nil {
			e.logger.Error("download failed", "title", hex, "error", err)
			summary.Failed++

			continue
		}

		summary.Downloaded++
	}

	e.logger.Info("batch sync complete",
		"uploaded", summary.Uploaded,
		"downloaded", summary.Downloaded,
		"up_to_date", summary.UpToDate,
		"conflicts", summary.Conflicts,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)

	return summary, nil
}

// scanLocal reads and hashes one title's local save. Read failures count as
// "no local save": the server plan will offer a download, which is the
// recovery path for unreadable local data anyway.
func (e *Executor) scanLocal(ctx context.Context, t *titles.Title) *localScan {
	scan := &localScan{hash: ZeroHash}

	if !t.HasSave {
		return scan
	}

	files, err := e.readSave(ctx, t)
	if err != nil {
		e.logger.Warn("local save unreadable, treating as absent", "title", t.HexID(), "error", err)
		return scan
	}

	if len(files) == 0 {
		return scan
	}

	scan.hash = bundle.SaveHashHex(files)
	for _, f := range files {
		scan.size += int64(len(f.Data))
	}

	return scan
}

// recordTransfer appends to the journal, best-effort.
func (e *Executor) recordTransfer(ctx context.Context, t *titles.Title, action, hash string, files []bundle.File) {
	if e.journal == nil {
		return
	}

	var size int64
	for _, f := range files {
		size += int64(len(f.Data))
	}

	err := e.journal.Record(ctx, journal.Entry{
		TitleID:   t.HexID(),
		Action:    action,
		SaveHash:  hash,
		Size:      size,
		FileCount: len(files),
		At:        e.now(),
	})
	if err != nil {
		e.logger.Warn("journal write failed", "title", t.HexID(), "error", err)
	}
}
