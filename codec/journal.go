package codec

import (
	"os"

	"github.com/pkg/errors"
)

var journalMagic = [8]byte{'D', 'M', 'N', 'D', 'T', '_', 'C', 'G'}

const (
	journalVersion       = 0
	defaultBlitSize      = 256
	journalHeaderLength  = len(journalMagic) + 4 + 4 // magic + version + blitSize, all fixed-width LE u32
)

// Journal is an append-only, crash-safe chunk log backed by a file: new
// chunks land in a small in-memory blit first, which is durably written to
// one of two alternating fixed-size slots near the head of the file before
// ever touching the (much larger) append-only data region. This bounds the
// amount of fsync'd I/O per edit to the blit size rather than the whole
// document, at the cost of a bounded replay window on open (spec.md §4.5,
// grounded on the two-blit-slot design in
// original_source/src/causalgraph/storage.rs).
type Journal struct {
	file *os.File

	blitSize int64

	// nextWriteLocation is the offset within the data region (i.e. relative
	// to the end of the header+blits) where the next committed chunk goes.
	nextWriteLocation int64
	// nextCounter increments each time a blit is rewritten without the data
	// region growing (a "soft update"); resets to 0 whenever pending bytes
	// are actually flushed to the data region.
	nextCounter int
	// nextBlit selects which of the two alternating blit slots receives the
	// next write.
	nextBlit bool

	pending []byte
	dirty   bool
}

// OpenJournal opens (creating if necessary) the journal file at path and
// returns it along with every previously durable chunk, in original order:
// chunks already committed to the data region, followed by whatever was
// sitting in the most recent valid blit when the journal was last closed.
func OpenJournal(path string) (*Journal, []chunkEntry, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, errors.Wrap(err, "codec: OpenJournal")
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, errors.Wrap(err, "codec: OpenJournal: stat")
	}

	blitSize := int64(defaultBlitSize)
	if info.Size() == 0 {
		if err := writeJournalHeader(f, blitSize); err != nil {
			f.Close()
			return nil, nil, err
		}
	} else {
		readBlitSize, err := readJournalHeader(f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		blitSize = readBlitSize
	}

	j := &Journal{file: f, blitSize: blitSize}

	if info.Size() < j.dataStart() {
		if err := f.Truncate(j.dataStart()); err != nil {
			f.Close()
			return nil, nil, errors.Wrap(err, "codec: OpenJournal: preallocating blit region")
		}
	}

	active, err := j.readActiveBlit()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	j.nextBlit = !active.slot
	j.nextCounter = active.counter + 1
	j.nextWriteLocation = active.filesize

	committed := make([]byte, active.filesize)
	if _, err := f.ReadAt(committed, j.dataStart()); err != nil {
		f.Close()
		return nil, nil, errors.Wrap(err, "codec: OpenJournal: reading committed data")
	}

	chunks, err := readChunks(newReader(committed))
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if len(active.data) > 0 {
		pendingChunks, err := readChunks(newReader(active.data))
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		chunks = append(chunks, pendingChunks...)
	}

	return j, chunks, nil
}

func (j *Journal) dataStart() int64 {
	return int64(journalHeaderLength) + 2*j.blitSize
}

func (j *Journal) blitLocation(slot bool) int64 {
	if slot {
		return int64(journalHeaderLength) + j.blitSize
	}
	return int64(journalHeaderLength)
}

// le4 writes v as 4 fixed-width little-endian bytes, keeping the header a
// constant journalHeaderLength regardless of value (unlike the varint
// encoding used for everything past the header).
func le4(v uint32) [4]byte {
	return [4]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func writeJournalHeader(f *os.File, blitSize int64) error {
	buf := make([]byte, 0, journalHeaderLength)
	buf = append(buf, journalMagic[:]...)
	versionBytes := le4(journalVersion)
	blitSizeBytes := le4(uint32(blitSize))
	buf = append(buf, versionBytes[:]...)
	buf = append(buf, blitSizeBytes[:]...)
	if _, err := f.WriteAt(buf, 0); err != nil {
		return errors.Wrap(err, "codec: writeJournalHeader")
	}
	return f.Sync()
}

func readJournalHeader(f *os.File) (int64, error) {
	buf := make([]byte, journalHeaderLength)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return 0, newDecodeError(UnexpectedEOF, 0, 0, err)
	}
	if [8]byte(buf[:8]) != journalMagic {
		return 0, newDecodeError(InvalidMagic, 0, 0, nil)
	}
	version := uint32(buf[8]) | uint32(buf[9])<<8 | uint32(buf[10])<<16 | uint32(buf[11])<<24
	if version != journalVersion {
		return 0, newDecodeError(UnsupportedProtocolVersion, 0, 8, nil)
	}
	blitSize := uint32(buf[12]) | uint32(buf[13])<<8 | uint32(buf[14])<<16 | uint32(buf[15])<<24
	return int64(blitSize), nil
}

type blit struct {
	filesize int64
	counter  int
	data     []byte
	slot     bool // which physical slot this blit was read from
	valid    bool
}

func (b blit) newerThan(other blit) bool {
	if b.filesize != other.filesize {
		return b.filesize > other.filesize
	}
	return b.counter > other.counter
}

func (j *Journal) readActiveBlit() (blit, error) {
	b0 := j.readBlitAt(false)
	b1 := j.readBlitAt(true)

	switch {
	case b0.valid && b1.valid:
		if b1.newerThan(b0) {
			return b1, nil
		}
		return b0, nil
	case b0.valid:
		return b0, nil
	case b1.valid:
		return b1, nil
	default:
		return blit{slot: false, valid: true}, nil
	}
}

func (j *Journal) readBlitAt(slot bool) blit {
	buf := make([]byte, j.blitSize)
	if _, err := j.file.ReadAt(buf, j.blitLocation(slot)); err != nil {
		return blit{slot: slot}
	}
	if len(buf) < 4 {
		return blit{slot: slot}
	}
	wantSum := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	r := newReader(buf[4:])
	length, err := r.readVarUint()
	if err != nil || int(length) > len(r.remaining()) {
		return blit{slot: slot}
	}
	body, err := r.readBytes(int(length))
	if err != nil {
		return blit{slot: slot}
	}
	if checksum(body) != wantSum {
		return blit{slot: slot}
	}
	br := newReader(body)
	filesize, err := br.readVarUint()
	if err != nil {
		return blit{slot: slot}
	}
	counter, err := br.readVarUint()
	if err != nil {
		return blit{slot: slot}
	}
	return blit{filesize: int64(filesize), counter: int(counter), data: br.remaining(), slot: slot, valid: true}
}

// writeBlitBody serializes filesize/counter/data into a checksummed blit
// record; returns an error if it would not fit in one blit slot.
func (j *Journal) writeBlitBody(filesize int64, counter int, data []byte) ([]byte, error) {
	body := newWriter()
	body.putVarUint(uint64(filesize))
	body.putVarUint(uint64(counter))
	body.putBytes(data)

	sum := checksum(body.bytes())
	out := newWriter()
	out.putBytes([]byte{byte(sum), byte(sum >> 8), byte(sum >> 16), byte(sum >> 24)})
	out.putLenPrefixed(body.bytes())

	if int64(len(out.bytes())) > j.blitSize {
		return nil, errBlitTooLarge
	}
	return out.bytes(), nil
}

var errBlitTooLarge = errors.New("codec: journal: pending data exceeds blit size")

func (j *Journal) writeBlit(filesize int64, counter int, data []byte) error {
	encoded, err := j.writeBlitBody(filesize, counter, data)
	if err != nil {
		return err
	}
	if _, err := j.file.WriteAt(encoded, j.blitLocation(j.nextBlit)); err != nil {
		return errors.Wrap(err, "codec: journal: writeBlit")
	}
	if err := j.file.Sync(); err != nil {
		return errors.Wrap(err, "codec: journal: fsync blit")
	}
	j.nextBlit = !j.nextBlit
	return nil
}

// Append stages one tagged chunk for durability. It is written into the
// pending blit immediately (so a crash loses at most the last Append); once
// the pending bytes plus the new chunk no longer fit in a single blit slot,
// the previously pending bytes are spilled into the append-only data region
// and the blit is rewritten to record the grown filesize with just the new
// chunk pending (a chunk too large for a blit on its own goes to the data
// region as well, leaving the blit empty). Chunks are framed with pushChunk so the data
// region and any replayed blit remain a valid input to readChunks.
func (j *Journal) Append(tag chunkTag, data []byte) error {
	w := newWriter()
	pushChunk(w, tag, data)
	chunk := w.bytes()

	candidate := append(append([]byte{}, j.pending...), chunk...)
	if err := j.writeBlit(j.nextWriteLocation, j.nextCounter, candidate); err == nil {
		j.pending = candidate
		j.nextCounter++
		j.dirty = true
		return nil
	} else if !errors.Is(err, errBlitTooLarge) {
		return err
	}

	// Doesn't fit: spill the previously-pending bytes (not including the new
	// chunk) to the data region, then retry with just the new chunk pending.
	if err := j.spillPending(); err != nil {
		return err
	}
	if err := j.writeBlit(j.nextWriteLocation, j.nextCounter, chunk); err != nil {
		if errors.Is(err, errBlitTooLarge) {
			// A single chunk alone still doesn't fit in one blit: spill it
			// directly to the data region too and leave the blit empty.
			if err := j.writeData(chunk); err != nil {
				return err
			}
			return j.writeBlit(j.nextWriteLocation, j.nextCounter, nil)
		}
		return err
	}
	j.pending = append([]byte{}, chunk...)
	j.nextCounter++
	j.dirty = true
	return nil
}

func (j *Journal) spillPending() error {
	if len(j.pending) == 0 {
		return nil
	}
	if err := j.writeData(j.pending); err != nil {
		return err
	}
	j.pending = nil
	return nil
}

func (j *Journal) writeData(data []byte) error {
	if _, err := j.file.WriteAt(data, j.dataStart()+j.nextWriteLocation); err != nil {
		return errors.Wrap(err, "codec: journal: writeData")
	}
	if err := j.file.Sync(); err != nil {
		return errors.Wrap(err, "codec: journal: fsync data")
	}
	j.nextWriteLocation += int64(len(data))
	j.nextCounter = 0
	return nil
}

// Flush durably records any pending bytes without necessarily spilling them
// to the data region (a soft update: filesize is unchanged, only the
// counter advances).
func (j *Journal) Flush() error {
	if !j.dirty {
		return nil
	}
	if err := j.writeBlit(j.nextWriteLocation, j.nextCounter, j.pending); err != nil {
		return err
	}
	j.nextCounter++
	j.dirty = false
	return nil
}

// Close flushes any pending bytes and closes the underlying file.
func (j *Journal) Close() error {
	if err := j.Flush(); err != nil {
		j.file.Close()
		return err
	}
	return j.file.Close()
}
