// Package bundle implements the versioned binary container that carries one
// title's save data on the wire and on the server: a fixed header, a file
// table, and the concatenated file payloads, zlib-compressed in version 2.
//
// The save hash — SHA-256 over the concatenated file payloads in table
// order — is the identity of a save everywhere in the sync protocol and is
// computed here as well (hash.go).
package bundle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// Magic is the four-byte signature at the start of every bundle.
const Magic = "3DSS"

// Container format versions.
const (
	VersionUncompressed = 1 // payload stored raw
	VersionCompressed   = 2 // payload zlib-compressed; the default for new writes
)

const (
	headerSize = 28 // magic + version + title_id + timestamp + file_count + size_field

	// MaxPathLen is the longest file path a bundle may carry, in bytes.
	MaxPathLen = 255

	// minTableEntry is the smallest possible file-table entry:
	// path_len (2) + empty path + file_size (4) + sha256 (32).
	minTableEntry = 2 + 4 + 32

	compressionLevel = 6
)

// ErrMalformed is returned by Decode for any structural violation: bad magic,
// unsupported version, truncated input, oversized path, file data extending
// past the payload, or a decompression failure. Callers should not try to
// distinguish these; a malformed bundle is discarded whole.
var ErrMalformed = errors.New("bundle: malformed")

// File is one logical file within a save. Path is forward-slash separated
// with no leading slash. Data length is the file size.
type File struct {
	Path string
	Data []byte
}

// Bundle is a decoded container. Files' Data slices alias either the input
// buffer (v1) or the decompressed payload owned by this Bundle (v2); they
// stay valid as long as the Bundle is reachable.
type Bundle struct {
	TitleID   uint64
	Timestamp uint32
	Files     []File

	// payload keeps the decompressed buffer reachable for v2 bundles so the
	// aliased Data slices cannot outlive it.
	payload []byte
}

// ValidatePath reports whether p is acceptable inside a bundle: non-empty,
// at most MaxPathLen bytes, forward-slash separated with no leading slash
// and no ".." segments.
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("bundle: empty path")
	}
	if len(p) > MaxPathLen {
		return fmt.Errorf("bundle: path %q exceeds %d bytes", p, MaxPathLen)
	}
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("bundle: path %q has a leading slash", p)
	}
	if strings.Contains(p, "\\") {
		return fmt.Errorf("bundle: path %q contains a backslash", p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return fmt.Errorf("bundle: path %q contains a .. segment", p)
		}
	}

	return nil
}

// Encode serializes files into a version-2 (compressed) bundle.
func Encode(titleID uint64, timestamp uint32, files []File) ([]byte, error) {
	payload, err := buildPayload(files)
	if err != nil {
		return nil, err
	}

	var compressed bytes.Buffer

	zw, err := zlib.NewWriterLevel(&compressed, compressionLevel)
	if err != nil {
		return nil, fmt.Errorf("bundle: init compressor: %w", err)
	}

	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("bundle: compress payload: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("bundle: compress payload: %w", err)
	}

	out := make([]byte, 0, headerSize+compressed.Len())
	out = appendHeader(out, VersionCompressed, titleID, timestamp,
		uint32(len(files)), uint32(len(payload)))

	return append(out, compressed.Bytes()...), nil
}

// EncodeV1 serializes files into a version-1 (uncompressed) bundle. New
// writes use Encode; this exists for interoperability with old readers and
// for tests.
func EncodeV1(titleID uint64, timestamp uint32, files []File) ([]byte, error) {
	payload, err := buildPayload(files)
	if err != nil {
		return nil, err
	}

	var total uint32
	for _, f := range files {
		total += uint32(len(f.Data))
	}

	out := make([]byte, 0, headerSize+len(payload))
	out = appendHeader(out, VersionUncompressed, titleID, timestamp,
		uint32(len(files)), total)

	return append(out, payload...), nil
}

// appendHeader writes the 28-byte bundle header. All fields are
// little-endian except title_id, which is big-endian: title IDs are
// conventionally printed as big-endian hex and the format preserves that.
func appendHeader(out []byte, version uint32, titleID uint64, timestamp, fileCount, sizeField uint32) []byte {
	out = append(out, Magic...)
	out = binary.LittleEndian.AppendUint32(out, version)
	out = binary.BigEndian.AppendUint64(out, titleID)
	out = binary.LittleEndian.AppendUint32(out, timestamp)
	out = binary.LittleEndian.AppendUint32(out, fileCount)
	out = binary.LittleEndian.AppendUint32(out, sizeField)

	return out
}

// buildPayload serializes the file table followed by the file data.
// Table entry per file: u16 path_len, path, u32 file_size, 32-byte SHA-256
// of the file's data. The per-file hash is advisory: the server verifies it,
// readers skip it.
func buildPayload(files []File) ([]byte, error) {
	size := 0
	for _, f := range files {
		if err := ValidatePath(f.Path); err != nil {
			return nil, err
		}

		size += minTableEntry + len(f.Path) + len(f.Data)
	}

	payload := make([]byte, 0, size)

	for _, f := range files {
		payload = binary.LittleEndian.AppendUint16(payload, uint16(len(f.Path)))
		payload = append(payload, f.Path...)
		payload = binary.LittleEndian.AppendUint32(payload, uint32(len(f.Data)))

		sum := fileSum(f.Data)
		payload = append(payload, sum[:]...)
	}

	for _, f := range files {
		payload = append(payload, f.Data...)
	}

	return payload, nil
}

// Decode parses a bundle of either version. Any structural violation yields
// ErrMalformed (wrapped with detail); no partially-decoded result is
// returned.
func Decode(data []byte) (*Bundle, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: truncated header (%d bytes)", ErrMalformed, len(data))
	}

	if string(data[0:4]) != Magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrMalformed, data[0:4])
	}

	version := binary.LittleEndian.Uint32(data[4:8])
	if version != VersionUncompressed && version != VersionCompressed {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, version)
	}

	b := &Bundle{
		TitleID:   binary.BigEndian.Uint64(data[8:16]),
		Timestamp: binary.LittleEndian.Uint32(data[16:20]),
	}

	fileCount := binary.LittleEndian.Uint32(data[20:24])
	sizeField := binary.LittleEndian.Uint32(data[24:28])

	payload := data[headerSize:]

	if version == VersionCompressed {
		decompressed, err := inflate(payload, sizeField)
		if err != nil {
			return nil, err
		}

		b.payload = decompressed
		payload = decompressed
	}

	files, err := parsePayload(payload, fileCount)
	if err != nil {
		return nil, err
	}

	b.Files = files

	return b, nil
}

// inflate decompresses a v2 payload and verifies it has exactly the declared
// length.
func inflate(compressed []byte, declared uint32) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer zr.Close()

	out := make([]byte, declared)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, fmt.Errorf("%w: short decompressed payload: %v", ErrMalformed, err)
	}

	// Exactly the declared length, no more, and a stream that ends cleanly
	// (a truncated stream fails here on its missing checksum).
	var extra [1]byte
	n, err := zr.Read(extra[:])
	if n != 0 {
		return nil, fmt.Errorf("%w: decompressed payload exceeds declared length %d", ErrMalformed, declared)
	}

	if err != io.EOF {
		return nil, fmt.Errorf("%w: corrupt compressed stream: %v", ErrMalformed, err)
	}

	return out, nil
}

// parsePayload walks the file table, then points each File's Data into the
// payload buffer. No copies are made.
func parsePayload(payload []byte, fileCount uint32) ([]File, error) {
	// A table entry is at least minTableEntry bytes, so an impossible count
	// is rejected before allocating.
	if uint64(fileCount)*minTableEntry > uint64(len(payload)) {
		return nil, fmt.Errorf("%w: file count %d impossible for %d-byte payload",
			ErrMalformed, fileCount, len(payload))
	}

	files := make([]File, fileCount)
	offset := uint32(0)

	need := func(n uint32) error {
		if uint64(offset)+uint64(n) > uint64(len(payload)) {
			return fmt.Errorf("%w: truncated payload at offset %d", ErrMalformed, offset)
		}

		return nil
	}

	sizes := make([]uint32, fileCount)

	for i := range files {
		if err := need(2); err != nil {
			return nil, err
		}

		pathLen := uint32(binary.LittleEndian.Uint16(payload[offset:]))
		offset += 2

		if pathLen > MaxPathLen {
			return nil, fmt.Errorf("%w: path length %d exceeds %d", ErrMalformed, pathLen, MaxPathLen)
		}

		if err := need(pathLen); err != nil {
			return nil, err
		}

		files[i].Path = string(payload[offset : offset+pathLen])
		offset += pathLen

		if err := need(4); err != nil {
			return nil, err
		}

		sizes[i] = binary.LittleEndian.Uint32(payload[offset:])
		offset += 4

		// Per-file hash is advisory; skip it.
		if err := need(32); err != nil {
			return nil, err
		}

		offset += 32
	}

	for i := range files {
		if err := need(sizes[i]); err != nil {
			return nil, err
		}

		files[i].Data = payload[offset : offset+sizes[i] : offset+sizes[i]]
		offset += sizes[i]
	}

	return files, nil
}
