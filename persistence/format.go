package persistence

import "errors"

const (
	// MagicNumber identifies vqgo snapshot files (ASCII: "VQS0").
	MagicNumber = 0x56515330
	// Version is the current snapshot format version.
	Version = 1

	headerSize = 32
)

var (
	ErrInvalidMagic     = errors.New("invalid magic number")
	ErrInvalidVersion   = errors.New("unsupported version")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrCorrupt          = errors.New("corrupt snapshot")
)

// Header is the fixed-size header at the start of every snapshot.
type Header struct {
	Magic       uint32
	Version     uint32
	Compression Compression
	Padding     [3]byte
	FeatureSize uint32
	NumCodes    uint32
	RawSize     uint32
	PayloadSize uint32
	Checksum    uint32
}
