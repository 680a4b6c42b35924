package bundle

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTitleID = 0x0004000000055D00

func sampleFiles() []File {
	return []File{
		{Path: "save.dat", Data: []byte("ABC")},
		{Path: "sub/dir/extra.bin", Data: bytes.Repeat([]byte{0x5A}, 1024)},
		{Path: "empty.bin", Data: nil},
	}
}

func TestEncodeDecodeRoundTripV2(t *testing.T) {
	files := sampleFiles()

	data, err := Encode(testTitleID, 1700000000, files)
	require.NoError(t, err)

	b, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, uint64(testTitleID), b.TitleID)
	assert.Equal(t, uint32(1700000000), b.Timestamp)
	require.Len(t, b.Files, len(files))

	for i, f := range files {
		assert.Equal(t, f.Path, b.Files[i].Path)
		assert.Equal(t, append([]byte{}, f.Data...), append([]byte{}, b.Files[i].Data...))
	}
}

func TestEncodeDecodeRoundTripV1(t *testing.T) {
	files := sampleFiles()

	data, err := EncodeV1(testTitleID, 42, files)
	require.NoError(t, err)

	// v1 header declares the raw data total, not the payload length.
	assert.Equal(t, uint32(VersionUncompressed), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, uint32(3+1024), binary.LittleEndian.Uint32(data[24:28]))

	b, err := Decode(data)
	require.NoError(t, err)

	require.Len(t, b.Files, len(files))
	for i, f := range files {
		assert.Equal(t, f.Path, b.Files[i].Path)
		assert.Equal(t, []byte(f.Data), append([]byte{}, b.Files[i].Data...))
	}
}

func TestHeaderByteOrder(t *testing.T) {
	data, err := Encode(testTitleID, 7, []File{{Path: "save.dat", Data: []byte("x")}})
	require.NoError(t, err)

	assert.Equal(t, []byte(Magic), data[0:4])

	// title_id is the single big-endian field in the header.
	assert.Equal(t, uint64(testTitleID), binary.BigEndian.Uint64(data[8:16]))
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(data[16:20]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(data[20:24]))
}

// buildV2 constructs a version-2 bundle by hand, independent of Encode.
func buildV2(t *testing.T, titleID uint64, ts uint32, files []File) []byte {
	t.Helper()

	var payload []byte
	for _, f := range files {
		payload = binary.LittleEndian.AppendUint16(payload, uint16(len(f.Path)))
		payload = append(payload, f.Path...)
		payload = binary.LittleEndian.AppendUint32(payload, uint32(len(f.Data)))
		sum := sha256.Sum256(f.Data)
		payload = append(payload, sum[:]...)
	}
	for _, f := range files {
		payload = append(payload, f.Data...)
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	out := []byte(Magic)
	out = binary.LittleEndian.AppendUint32(out, VersionCompressed)
	out = binary.BigEndian.AppendUint64(out, titleID)
	out = binary.LittleEndian.AppendUint32(out, ts)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(files)))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(payload)))

	return append(out, compressed.Bytes()...)
}

func TestDecodeHandBuiltV2(t *testing.T) {
	data := buildV2(t, testTitleID, 1234, []File{{Path: "save.dat", Data: []byte("ABC")}})

	b, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, uint64(testTitleID), b.TitleID)
	assert.Equal(t, uint32(1234), b.Timestamp)
	require.Len(t, b.Files, 1)
	assert.Equal(t, "save.dat", b.Files[0].Path)
	assert.Equal(t, []byte("ABC"), b.Files[0].Data)

	want := sha256.Sum256([]byte("ABC"))
	assert.Equal(t, hex.EncodeToString(want[:]), SaveHashHex(b.Files))
}

func TestDecodeMalformed(t *testing.T) {
	good, err := Encode(testTitleID, 1, []File{{Path: "save.dat", Data: []byte("ABC")}})
	require.NoError(t, err)

	corrupt := func(mutate func(b []byte) []byte) []byte {
		c := append([]byte{}, good...)
		return mutate(c)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated header", good[:20]},
		{"bad magic", corrupt(func(b []byte) []byte { b[0] = 'X'; return b })},
		{"unsupported version", corrupt(func(b []byte) []byte { b[4] = 9; return b })},
		{"truncated payload", good[:len(good)-4]},
		{"garbage compressed stream", corrupt(func(b []byte) []byte {
			for i := headerSize; i < len(b); i++ {
				b[i] = 0xFF
			}
			return b
		})},
		{"file count beyond payload", corrupt(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[20:24], 1<<30)
			return b
		})},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.data)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeRejectsDeclaredSizePastPayload(t *testing.T) {
	// A v1 bundle whose table declares more data than the payload holds.
	files := []File{{Path: "save.dat", Data: []byte("ABC")}}
	data, err := EncodeV1(testTitleID, 1, files)
	require.NoError(t, err)

	// The file_size field sits right after path_len + path in the table.
	off := headerSize + 2 + len("save.dat")
	binary.LittleEndian.PutUint32(data[off:], 4096)

	_, err = Decode(data)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRejectsOversizedPathLength(t *testing.T) {
	files := []File{{Path: "save.dat", Data: []byte("ABC")}}
	data, err := EncodeV1(testTitleID, 1, files)
	require.NoError(t, err)

	binary.LittleEndian.PutUint16(data[headerSize:], MaxPathLen+1)

	_, err = Decode(data)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRejectsShortDecompressedPayload(t *testing.T) {
	data := buildV2(t, testTitleID, 1, []File{{Path: "save.dat", Data: []byte("ABC")}})

	// Inflate to declared-length+1 must fail; bump the declared size.
	declared := binary.LittleEndian.Uint32(data[24:28])
	binary.LittleEndian.PutUint32(data[24:28], declared+1)

	_, err := Decode(data)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEncodeRejectsBadPaths(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"leading slash", "/save.dat"},
		{"dotdot segment", "a/../b.dat"},
		{"backslash", `a\b.dat`},
		{"too long", string(bytes.Repeat([]byte{'a'}, MaxPathLen+1))},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Encode(testTitleID, 1, []File{{Path: tc.path, Data: []byte("x")}})
			assert.Error(t, err)
		})
	}
}

func TestSaveHashConcatenation(t *testing.T) {
	files := []File{
		{Path: "a.bin", Data: []byte("hello ")},
		{Path: "b.bin", Data: []byte("world")},
	}

	want := sha256.Sum256([]byte("hello world"))
	assert.Equal(t, want, SaveHash(files))
	assert.Equal(t, hex.EncodeToString(want[:]), SaveHashHex(files))

	// Order matters: swapping files changes the identity.
	swapped := []File{files[1], files[0]}
	assert.NotEqual(t, SaveHashHex(files), SaveHashHex(swapped))
}

func TestIsHexHash(t *testing.T) {
	assert.True(t, IsHexHash(SaveHashHex(nil)))
	assert.False(t, IsHexHash("short"))
	assert.False(t, IsHexHash(string(bytes.Repeat([]byte{'g'}, HashHexLen))))
}
