package persistence

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/hupe1980/vqgo"
	"github.com/hupe1980/vqgo/codec"
)

// maxPayloadSize bounds the payload a reader will allocate for.
const maxPayloadSize = 1 << 30

// Save writes s to w as a snapshot with the given compression.
func Save(w io.Writer, s *vqgo.State, c Compression) error {
	if s == nil {
		return errors.New("persistence: nil state")
	}

	raw, err := codec.Default.Marshal(s)
	if err != nil {
		return fmt.Errorf("persistence: encode state: %w", err)
	}
	payload, used, err := compress(raw, c)
	if err != nil {
		return fmt.Errorf("persistence: compress: %w", err)
	}

	h := Header{
		Magic:       MagicNumber,
		Version:     Version,
		Compression: used,
		FeatureSize: uint32(s.FeatureSize),
		NumCodes:    uint32(s.NumCodes),
		RawSize:     uint32(len(raw)),
		PayloadSize: uint32(len(payload)),
		Checksum:    crc32.ChecksumIEEE(payload),
	}
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// Load reads a snapshot written by Save.
func Load(r io.Reader) (*vqgo.State, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if h.PayloadSize > maxPayloadSize || h.RawSize > maxPayloadSize {
		return nil, fmt.Errorf("%w: payload of %d bytes (%d raw) exceeds limit", ErrCorrupt, h.PayloadSize, h.RawSize)
	}

	payload := make([]byte, h.PayloadSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if sum := crc32.ChecksumIEEE(payload); sum != h.Checksum {
		return nil, fmt.Errorf("%w: got %08x, want %08x", ErrChecksumMismatch, sum, h.Checksum)
	}

	raw, err := decompress(payload, h.Compression, int(h.RawSize))
	if err != nil {
		return nil, err
	}

	var s vqgo.State
	if err := codec.Default.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: decode state: %w", ErrCorrupt, err)
	}
	if s.FeatureSize != int(h.FeatureSize) || s.NumCodes != int(h.NumCodes) {
		return nil, fmt.Errorf("%w: header sizes %dx%d disagree with payload %dx%d",
			ErrCorrupt, h.NumCodes, h.FeatureSize, s.NumCodes, s.FeatureSize)
	}
	return &s, nil
}

// ReadHeader reads and validates a snapshot header.
func ReadHeader(r io.Reader) (*Header, error) {
	var h Header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if h.Magic != MagicNumber {
		return nil, fmt.Errorf("%w: %08x", ErrInvalidMagic, h.Magic)
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, h.Version)
	}
	return &h, nil
}

// SaveFile atomically writes a snapshot of s to path. A cancelled ctx aborts
// a rate-limited write and leaves any existing file untouched.
func SaveFile(ctx context.Context, path string, s *vqgo.State, c Compression, optFns ...FileOption) (err error) {
	var opts fileOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	dir := filepath.Dir(path)

	// A temp file in the target directory keeps the rename atomic.
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	buf := bufio.NewWriter(newThrottledWriter(ctx, tmp, opts.bytesPerSec))
	if err = Save(buf, s, c); err != nil {
		return err
	}
	if err = buf.Flush(); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// LoadFile reads a snapshot from path.
func LoadFile(path string) (*vqgo.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(bytes.NewReader(data))
}
