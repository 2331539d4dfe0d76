package codec

import (
	"bytes"

	"github.com/multiformats/go-varint"
	"github.com/pkg/errors"
)

var errUnexpectedEOF = errors.New("codec: unexpected EOF")

// writer is an append-only byte builder with the same push-primitive shape
// as the original implementation's encode module (push_u32/push_u64/push_str).
type writer struct {
	buf []byte
}

func newWriter() *writer { return &writer{} }

func (w *writer) bytes() []byte { return w.buf }

func (w *writer) putBytes(b []byte) { w.buf = append(w.buf, b...) }

// putVarUint appends v as an unsigned LEB128 varint.
func (w *writer) putVarUint(v uint64) {
	var tmp [binaryMaxVarintLen64]byte
	n := varint.PutUvarint(tmp[:], v)
	w.buf = append(w.buf, tmp[:n]...)
}

// putVarInt appends v as a zigzag-encoded signed varint.
func (w *writer) putVarInt(v int64) {
	w.putVarUint(zigzagEncode(v))
}

// putLenPrefixed writes len(data) as a length-prefix varint, followed by
// data itself.
func (w *writer) putLenPrefixed(data []byte) {
	w.putVarUint(uint64(len(data)))
	w.putBytes(data)
}

const binaryMaxVarintLen64 = 10

func zigzagEncode(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func zigzagDecode(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}

// reader walks a byte slice with the same primitive shape as writer.
type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader { return &reader{data: data} }

func (r *reader) remaining() []byte { return r.data[r.pos:] }

func (r *reader) readVarUint() (uint64, error) {
	br := bytes.NewReader(r.data[r.pos:])
	v, err := varint.ReadUvarint(br)
	if err != nil {
		return 0, err
	}
	r.pos += len(r.data[r.pos:]) - br.Len()
	return v, nil
}

func (r *reader) readVarInt() (int64, error) {
	v, err := r.readVarUint()
	if err != nil {
		return 0, err
	}
	return zigzagDecode(v), nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, errUnexpectedEOF
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) readLenPrefixed() ([]byte, error) {
	n, err := r.readVarUint()
	if err != nil {
		return nil, err
	}
	return r.readBytes(int(n))
}

func (r *reader) atEnd() bool { return r.pos >= len(r.data) }
