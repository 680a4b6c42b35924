package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pepasjc/savesync/internal/api"
	"github.com/pepasjc/savesync/internal/bundle"
	"github.com/pepasjc/savesync/internal/titles"
)

// SaveDetails is a diagnostic snapshot of one title's sync state on both
// sides, backing the status display and the pre-push confirm dialog.
type SaveDetails struct {
	HasLocal   bool
	LocalFiles int
	LocalSize  int64
	LocalHash  string

	HasServer       bool
	ServerFiles     int
	ServerSize      int64
	ServerHash      string
	ServerLastSync  string // timestamp string as the server reports it
	ServerConsoleID string // console that produced the server copy

	HasLastSynced  bool
	LastSyncedHash string

	// IsSynced is true when local and server hashes match.
	IsSynced bool
}

// Details gathers a title's SaveDetails. A missing server copy is not an
// error; other server failures are.
func (e *Executor) Details(ctx context.Context, t *titles.Title) (*SaveDetails, error) {
	d := &SaveDetails{}

	if t.HasSave {
		files, err := e.readSave(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("sync: reading local save for %s: %w", t.HexID(), err)
		}

		if len(files) > 0 {
			d.HasLocal = true
			d.LocalFiles = len(files)
			d.LocalHash = bundle.SaveHashHex(files)

			for _, f := range files {
				d.LocalSize += int64(len(f.Data))
			}
		}
	}

	meta, err := e.server.GetSaveMeta(ctx, t.HexID())

	switch {
	case err == nil:
		d.HasServer = true
		d.ServerFiles = meta.FileCount
		d.ServerSize = meta.SaveSize
		d.ServerHash = strings.ToLower(meta.SaveHash)
		d.ServerLastSync = meta.LastSync
		d.ServerConsoleID = meta.ConsoleID
	case errors.Is(err, api.ErrNotFound):
		// No server copy yet.
	default:
		return nil, fmt.Errorf("sync: fetching server metadata for %s: %w", t.HexID(), err)
	}

	d.LastSyncedHash, d.HasLastSynced = e.store.Load(t.ID)

	d.IsSynced = d.HasLocal && d.HasServer && d.LocalHash == d.ServerHash

	return d, nil
}

// DecideTitle computes the client-side three-way decision for one title
// from its details, without contacting /sync. Used by the status display
// and by the pre-push warning.
func (e *Executor) DecideTitle(ctx context.Context, t *titles.Title) (*Decision, error) {
	d, err := e.Details(ctx, t)
	if err != nil {
		return nil, err
	}

	dec := &Decision{
		LocalHash:       d.LocalHash,
		ServerHash:      d.ServerHash,
		ServerSize:      d.ServerSize,
		ServerTimestamp: parseServerTime(d.ServerLastSync),
		HasLastSynced:   d.HasLastSynced,
		LastSyncedHash:  d.LastSyncedHash,
		LocalMtime:      t.ModTime,
	}

	localHash := ""
	if d.HasLocal {
		localHash = d.LocalHash
	}

	serverHash := ""
	if d.HasServer {
		serverHash = d.ServerHash
	}

	lastSynced := ""
	if d.HasLastSynced {
		lastSynced = d.LastSyncedHash
	}

	dec.Action = Decide(localHash, serverHash, lastSynced, dec.LocalMtime, dec.ServerTimestamp)

	return dec, nil
}

// parseServerTime accepts the server's last-sync representation: RFC 3339
// or raw Unix seconds. Anything else reads as unknown (0).
func parseServerTime(s string) int64 {
	if s == "" {
		return 0
	}

	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.Unix()
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}

	return 0
}
