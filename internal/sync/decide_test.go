package sync

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	hashL = "1111111111111111111111111111111111111111111111111111111111111111"
	hashS = "2222222222222222222222222222222222222222222222222222222222222222"
	hashZ = "3333333333333333333333333333333333333333333333333333333333333333"
)

func TestDecideMatrix(t *testing.T) {
	tests := []struct {
		name                   string
		local, server, base    string
		localMtime, serverMtime int64
		want                   Action
	}{
		{name: "nothing anywhere", want: ActionUpToDate},
		{name: "local only", local: hashL, want: ActionUpload},
		{name: "server only", server: hashS, want: ActionDownload},
		{name: "local only with stale base", local: hashL, base: hashZ, want: ActionUpload},
		{name: "server only with stale base", server: hashS, base: hashZ, want: ActionDownload},

		{name: "hashes equal", local: hashL, server: hashL, want: ActionUpToDate},
		{name: "hashes equal, base differs", local: hashL, server: hashL, base: hashZ, want: ActionUpToDate},

		// Three-way with history.
		{name: "only local changed", local: hashL, server: hashS, base: hashS, want: ActionUpload},
		{name: "only server changed", local: hashL, server: hashS, base: hashL, want: ActionDownload},
		{name: "all three differ", local: hashL, server: hashS, base: hashZ, want: ActionConflict},

		// No history: mtimes break the tie.
		{name: "no history, local newer", local: hashL, server: hashS, localMtime: 200, serverMtime: 100, want: ActionUpload},
		{name: "no history, server newer", local: hashL, server: hashS, localMtime: 100, serverMtime: 200, want: ActionDownload},
		{name: "no history, mtimes tie", local: hashL, server: hashS, localMtime: 100, serverMtime: 100, want: ActionConflict},
		{name: "no history, local mtime unknown", local: hashL, server: hashS, serverMtime: 200, want: ActionConflict},
		{name: "no history, server mtime unknown", local: hashL, server: hashS, localMtime: 200, want: ActionConflict},
		{name: "no history, no mtimes", local: hashL, server: hashS, want: ActionConflict},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Decide(tc.local, tc.server, tc.base, tc.localMtime, tc.serverMtime)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecideCaseInsensitive(t *testing.T) {
	upper := strings.ToUpper(hashS)

	// Base recorded in a different case still matches the server hash.
	assert.Equal(t, ActionUpload, Decide(hashL, hashS, upper, 0, 0))
	assert.Equal(t, ActionUpToDate, Decide(strings.ToUpper(hashL), hashL, "", 0, 0))
}

func TestDecidePure(t *testing.T) {
	// Same inputs, same answer, every time.
	for i := 0; i < 10; i++ {
		assert.Equal(t, ActionConflict, Decide(hashL, hashS, hashZ, 0, 0))
	}
}

func TestDecideUploadDownloadSymmetry(t *testing.T) {
	// If the local side would upload, the mirrored console (whose local is
	// our server) must download, under the swapped last-synced alignment.
	if Decide(hashL, hashS, hashS, 0, 0) == ActionUpload {
		assert.Equal(t, ActionDownload, Decide(hashS, hashL, hashS, 0, 0))
	}

	// And with mtimes as the deciding factor.
	if Decide(hashL, hashS, "", 200, 100) == ActionUpload {
		assert.Equal(t, ActionDownload, Decide(hashS, hashL, "", 100, 200))
	}
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "upload", ActionUpload.String())
	assert.Equal(t, "download", ActionDownload.String())
	assert.Equal(t, "conflict", ActionConflict.String())
	assert.Equal(t, "up-to-date", ActionUpToDate.String())
}
