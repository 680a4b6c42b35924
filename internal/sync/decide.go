// Package sync implements the save synchronization engine: a pure
// three-way decision over (local, server, last-synced) save hashes, and the
// executor that scans titles, negotiates a batch plan with the server, and
// performs the resulting uploads and downloads.
package sync

import "strings"

// Action is the per-title outcome of reconciliation.
type Action uint8

const (
	ActionUpToDate Action = iota
	ActionUpload
	ActionDownload
	ActionConflict
)

func (a Action) String() string {
	switch a {
	case ActionUpToDate:
		return "up-to-date"
	case ActionUpload:
		return "upload"
	case ActionDownload:
		return "download"
	case ActionConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// ZeroHash is the sentinel save hash sent in batch metadata for titles
// without a local save.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Decision is the reconciliation outcome for one title together with the
// inputs that produced it, for display in confirm dialogs.
type Decision struct {
	Action Action

	LocalHash       string
	ServerHash      string
	ServerTimestamp int64
	ServerSize      int64
	HasLastSynced   bool
	LastSyncedHash  string
	LocalMtime      int64
}

// Decide computes the sync action from the three hashes. Empty strings mean
// "absent". Hash comparison is case-insensitive; state files and servers
// have historically mixed cases.
//
// The last-synced hash isolates who changed since the last agreement:
// matching the server means only local changed (upload); matching local
// means only the server changed (download). With no sync history the
// modification times break the tie, and a genuine three-way divergence is a
// conflict for the user.
func Decide(localHash, serverHash, lastSynced string, localMtime, serverMtime int64) Action {
	local := strings.ToLower(localHash)
	server := strings.ToLower(serverHash)
	base := strings.ToLower(lastSynced)

	hasLocal := local != ""
	hasServer := server != ""

	switch {
	case !hasLocal && !hasServer:
		return ActionUpToDate
	case hasLocal && !hasServer:
		return ActionUpload
	case !hasLocal:
		return ActionDownload
	}

	if local == server {
		return ActionUpToDate
	}

	if base != "" {
		switch base {
		case server:
			return ActionUpload // only local changed
		case local:
			return ActionDownload // only the server changed
		default:
			return ActionConflict // all three differ
		}
	}

	// No sync history; fall back to modification times when both sides
	// have one.
	if localMtime > 0 && serverMtime > 0 {
		switch {
		case localMtime > serverMtime:
			return ActionUpload
		case localMtime < serverMtime:
			return ActionDownload
		}
	}

	return ActionConflict
}
