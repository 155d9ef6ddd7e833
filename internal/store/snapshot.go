// snapshot.go - Compressed, checksummed replica snapshots on disk.
//
// File layout: magic (4) | version (4, BE) | blake3 of the body (32) | body.
// The body is the zstd-compressed JSON form of ledger.Snapshot.

package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"repledger/internal/ledger"
)

var (
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")
	ErrBadSnapshot      = errors.New("bad snapshot file")
)

var snapshotMagic = [4]byte{'R', 'L', 'S', 'N'}

const (
	snapshotVersion = 1
	headerLen       = 4 + 4 + 32
)

// EncodeSnapshot returns the framed file contents of s.
func EncodeSnapshot(s *ledger.Snapshot) ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	body := enc.EncodeAll(raw, nil)
	enc.Close()

	sum := blake3.Sum256(body)
	out := make([]byte, headerLen, headerLen+len(body))
	copy(out, snapshotMagic[:])
	binary.BigEndian.PutUint32(out[4:8], snapshotVersion)
	copy(out[8:headerLen], sum[:])
	return append(out, body...), nil
}

// DecodeSnapshot parses framed file contents.
func DecodeSnapshot(data []byte) (*ledger.Snapshot, error) {
	if len(data) < headerLen || !bytes.Equal(data[:4], snapshotMagic[:]) {
		return nil, fmt.Errorf("%w: missing header", ErrBadSnapshot)
	}
	if v := binary.BigEndian.Uint32(data[4:8]); v != snapshotVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadSnapshot, v)
	}
	body := data[headerLen:]
	sum := blake3.Sum256(body)
	if !bytes.Equal(sum[:], data[8:headerLen]) {
		return nil, ErrChecksumMismatch
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}

	var s ledger.Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	return &s, nil
}

// SaveSnapshot writes s to path through a temporary file and a rename.
func SaveSnapshot(path string, s *ledger.Snapshot) error {
	data, err := EncodeSnapshot(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by SaveSnapshot. A missing file yields
// an error matching os.ErrNotExist.
func LoadSnapshot(path string) (*ledger.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(data)
}
