// Package persistence saves and restores quantizer state.
//
// A snapshot is a fixed 32-byte little-endian header followed by the
// JSON-encoded vqgo.State, optionally compressed with LZ4 or zstd:
//
//	Magic       uint32 // "VQS0"
//	Version     uint32
//	Compression uint8
//	Padding     [3]byte
//	FeatureSize uint32
//	NumCodes    uint32
//	RawSize     uint32 // encoded payload size before compression
//	PayloadSize uint32 // bytes following the header
//	Checksum    uint32 // CRC32 (IEEE) of the stored payload
//
// SaveFile writes through a temporary file and renames it into place, so a
// crash never leaves a truncated snapshot behind.
package persistence
