package codec

import (
	"hash/crc32"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// checksum computes the CRC-32C of data, matching spec.md §1's treatment of
// the CRC function as an external collaborator (the stdlib table is the
// hardware-accelerated reference implementation for this polynomial).
func checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoliTable)
}

// compressLZ4 compresses src as a single LZ4 block.
func compressLZ4(src []byte) ([]byte, error) {
	var c lz4.Compressor
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := c.CompressBlock(src, dst, nil)
	if err != nil {
		return nil, errors.Wrap(err, "codec: compressLZ4")
	}
	if n == 0 {
		// Incompressible input: lz4 reports n==0 rather than growing the
		// block. Report that to the caller, which then stores the body
		// uncompressed, without an LZ4 wrapper chunk.
		return nil, errIncompressible
	}
	return dst[:n], nil
}

var errIncompressible = errors.New("codec: input not compressible")

// decompressLZ4 decompresses an LZ4 block of known uncompressed size.
func decompressLZ4(src []byte, uncompressedSize int) ([]byte, error) {
	dst := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, errors.Wrap(err, "codec: decompressLZ4")
	}
	return dst[:n], nil
}
