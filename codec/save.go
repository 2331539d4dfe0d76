package codec

import (
	"github.com/dmndtyps/dt/causalgraph"
	"github.com/dmndtyps/dt/oplog"
)

var magicBytes = [8]byte{'D', 'M', 'N', 'D', 'T', 'Y', 'P', 'S'}

const protocolVersion = 0

// EncodeOptions controls what an Encode call includes in the output
// (spec.md §6).
type EncodeOptions struct {
	StoreDeletedContent  bool
	StoreInsertedContent bool
	CompressContent      bool
}

// DecodeOptions controls how a Decode call validates its input (spec.md
// §6).
type DecodeOptions struct {
	VerifyCRCOnLoad bool
}

// Encode serializes ol's full history into the save-file binary format.
func Encode(ol *oplog.OpLog, opts EncodeOptions) ([]byte, error) {
	body := newWriter()
	pushChunk(body, chunkAgentNames, encodeAgentNames(ol.CG))
	pushChunk(body, chunkCGParents, encodeCGEntries(ol.CG))
	pushChunk(body, chunkPatches, encodePatches(ol))
	if opts.StoreInsertedContent {
		pushChunk(body, chunkPatchContent, encodeContentStore(&ol.InsContent))
	}
	if opts.StoreDeletedContent {
		pushChunk(body, chunkDelPatchContent, encodeContentStore(&ol.DelContent))
	}
	payload := body.bytes()

	out := newWriter()
	out.putBytes(magicBytes[:])
	out.putVarUint(protocolVersion)

	if opts.CompressContent {
		compressed, err := compressLZ4(payload)
		if err == nil {
			wrapper := newWriter()
			wrapper.putVarUint(uint64(len(payload)))
			wrapper.putLenPrefixed(compressed)
			pushChunk(out, chunkCompressedFieldsLZ4, wrapper.bytes())
		} else {
			// Incompressible body: fall back to storing it uncompressed
			// rather than failing the whole encode.
			out.putBytes(payload)
		}
	} else {
		out.putBytes(payload)
	}

	sum := checksum(out.bytes())
	crcWriter := newWriter()
	crcWriter.putVarUint(uint64(sum))
	pushChunk(out, chunkCrc, crcWriter.bytes())

	return out.bytes(), nil
}

// Decode parses data produced by Encode back into a fresh OpLog.
func Decode(data []byte, opts DecodeOptions) (*oplog.OpLog, error) {
	if len(data) < 8 || [8]byte(data[:8]) != magicBytes {
		return nil, newDecodeError(InvalidMagic, 0, 0, nil)
	}
	r := newReader(data[8:])
	version, err := r.readVarUint()
	if err != nil {
		return nil, newDecodeError(UnsupportedProtocolVersion, 0, 8, err)
	}
	if version != protocolVersion {
		return nil, newDecodeError(UnsupportedProtocolVersion, 0, 8, nil)
	}

	rest := r.remaining()

	if opts.VerifyCRCOnLoad {
		if err := verifyTrailingCRC(data[:len(data)-len(rest)], rest); err != nil {
			return nil, err
		}
	}

	payload, err := stripTrailingCRCAndDecompress(rest)
	if err != nil {
		return nil, err
	}

	chunks, err := readChunks(newReader(payload))
	if err != nil {
		return nil, err
	}
	return buildOpLogFromChunks(chunks)
}

// OpenJournalOpLog opens (creating if necessary) a journal-backed save file
// at path and replays it into a fresh OpLog, returning the OpLog alongside
// the Journal so a caller (egwalker.Walker) can keep calling WriteSnapshot
// as new operations arrive.
func OpenJournalOpLog(path string) (*oplog.OpLog, *Journal, error) {
	j, chunks, err := OpenJournal(path)
	if err != nil {
		return nil, nil, err
	}
	if len(chunks) == 0 {
		return oplog.New(), j, nil
	}
	ol, err := buildOpLogFromChunks(chunks)
	if err != nil {
		j.Close()
		return nil, nil, err
	}
	return ol, j, nil
}

// WriteSnapshot re-encodes the entirety of ol as a fresh group of tagged
// chunks and appends them to j. A journal's chunk list is a sequence of
// these snapshots in write order; findChunk always resolves to the most
// recent one, so this is simpler than tracking and merging incremental
// deltas at the cost of rewriting the whole history on every flush — an
// acceptable trade for a single-document journal, which is never expected
// to grow past a modest edit session before being compacted into a Decode
// / Encode round trip through a full save file.
func WriteSnapshot(j *Journal, ol *oplog.OpLog, opts EncodeOptions) error {
	if err := j.Append(chunkAgentNames, encodeAgentNames(ol.CG)); err != nil {
		return err
	}
	if err := j.Append(chunkCGParents, encodeCGEntries(ol.CG)); err != nil {
		return err
	}
	if err := j.Append(chunkPatches, encodePatches(ol)); err != nil {
		return err
	}
	if opts.StoreInsertedContent {
		if err := j.Append(chunkPatchContent, encodeContentStore(&ol.InsContent)); err != nil {
			return err
		}
	}
	if opts.StoreDeletedContent {
		if err := j.Append(chunkDelPatchContent, encodeContentStore(&ol.DelContent)); err != nil {
			return err
		}
	}
	return j.Flush()
}

// buildOpLogFromChunks reconstructs an OpLog from a flat chunk list,
// shared by Decode (a full save file) and OpenJournalOpLog (chunks
// recovered from a Journal, which carries no header of its own).
func buildOpLogFromChunks(chunks []chunkEntry) (*oplog.OpLog, error) {
	agentNamesData, ok := findChunk(chunks, chunkAgentNames)
	if !ok {
		return nil, newDecodeError(MissingChunk, uint64(chunkAgentNames), 0, nil)
	}
	agentNames, err := decodeAgentNames(agentNamesData)
	if err != nil {
		return nil, err
	}

	cgData, ok := findChunk(chunks, chunkCGParents)
	if !ok {
		return nil, newDecodeError(MissingChunk, uint64(chunkCGParents), 0, nil)
	}
	cg, err := decodeCGEntries(cgData, agentNames)
	if err != nil {
		return nil, err
	}

	patchesData, ok := findChunk(chunks, chunkPatches)
	if !ok {
		return nil, newDecodeError(MissingChunk, uint64(chunkPatches), 0, nil)
	}
	entries, err := decodePatches(patchesData, agentNames)
	if err != nil {
		return nil, err
	}

	ol := &oplog.OpLog{CG: cg, Entries: entries}

	if insData, ok := findChunk(chunks, chunkPatchContent); ok {
		if err := decodeContentStore(insData, &ol.InsContent); err != nil {
			return nil, err
		}
	}
	if delData, ok := findChunk(chunks, chunkDelPatchContent); ok {
		if err := decodeContentStore(delData, &ol.DelContent); err != nil {
			return nil, err
		}
	}

	return ol, nil
}

// verifyTrailingCRC checks body's Crc chunk against the CRC-32C of header
// (magic and protocol version) followed by body up to the Crc chunk, the
// same bytes Encode checksums. A Crc value that cannot be read counts as a
// checksum failure.
func verifyTrailingCRC(header, body []byte) error {
	chunks, err := readChunks(newReader(body))
	if err != nil {
		return err
	}
	crcData, ok := findChunk(chunks, chunkCrc)
	if !ok {
		return newDecodeError(MissingChunk, uint64(chunkCrc), 0, nil)
	}
	want, err := newReader(crcData).readVarUint()
	if err != nil {
		return newDecodeError(ChecksumFailed, uint64(chunkCrc), 0, err)
	}

	covered := append(append([]byte(nil), header...), trimCRCChunk(body)...)
	if checksum(covered) != uint32(want) {
		return newDecodeError(ChecksumFailed, uint64(chunkCrc), 0, nil)
	}
	return nil
}

// trimCRCChunk returns body with its trailing Crc chunk removed, mirroring
// how Encode appended it last.
func trimCRCChunk(body []byte) []byte {
	r := newReader(body)
	var lastCRCStart = len(body)
	for !r.atEnd() {
		start := r.pos
		tagV, err := r.readVarUint()
		if err != nil {
			break
		}
		if chunkTag(tagV) == chunkCrc {
			lastCRCStart = start
			break
		}
		if _, err := r.readLenPrefixed(); err != nil {
			break
		}
	}
	return body[:lastCRCStart]
}

func stripTrailingCRCAndDecompress(body []byte) ([]byte, error) {
	withoutCRC := trimCRCChunk(body)
	chunks, err := readChunks(newReader(withoutCRC))
	if err != nil {
		return nil, err
	}
	if compData, ok := findChunk(chunks, chunkCompressedFieldsLZ4); ok {
		inner := newReader(compData)
		uncompressedSize, err := inner.readVarUint()
		if err != nil {
			return nil, newDecodeError(InvalidChunkHeader, uint64(chunkCompressedFieldsLZ4), 0, err)
		}
		block, err := inner.readLenPrefixed()
		if err != nil {
			return nil, newDecodeError(CompressedDataMissing, uint64(chunkCompressedFieldsLZ4), 0, err)
		}
		payload, err := decompressLZ4(block, int(uncompressedSize))
		if err != nil {
			return nil, newDecodeError(DecompressionError, uint64(chunkCompressedFieldsLZ4), 0, err)
		}
		return payload, nil
	}
	// Not compressed: every remaining chunk IS the payload, so just hand
	// back withoutCRC verbatim for readChunks to walk again.
	return withoutCRC, nil
}

func encodeAgentNames(cg *causalgraph.CausalGraph) []byte {
	w := newWriter()
	names := cg.Agents.Names()
	w.putVarUint(uint64(len(names)))
	for _, n := range names {
		w.putLenPrefixed([]byte(n))
	}
	return w.bytes()
}

func decodeAgentNames(data []byte) ([]causalgraph.AgentID, error) {
	r := newReader(data)
	n, err := r.readVarUint()
	if err != nil {
		return nil, newDecodeError(InvalidVarInt, uint64(chunkAgentNames), 0, err)
	}
	names := make([]causalgraph.AgentID, n)
	for i := range names {
		b, err := r.readLenPrefixed()
		if err != nil {
			return nil, newDecodeError(UnexpectedEOF, uint64(chunkAgentNames), 0, err)
		}
		names[i] = causalgraph.AgentID(b)
	}
	return names, nil
}

func encodeCGEntries(cg *causalgraph.CausalGraph) []byte {
	w := newWriter()
	w.putVarUint(uint64(len(cg.Entries)))
	for _, e := range cg.Entries {
		w.putVarUint(uint64(cg.Agents.IDFor(e.Agent)))
		w.putVarUint(uint64(e.Seq))
		w.putVarUint(uint64(e.Len()))
		w.putVarUint(uint64(len(e.Parents)))
		for _, p := range e.Parents {
			raw, _ := causalgraph.LVToRaw(cg, p)
			w.putVarUint(uint64(cg.Agents.IDFor(raw.Agent)))
			w.putVarUint(uint64(raw.Seq))
		}
	}
	return w.bytes()
}

func decodeCGEntries(data []byte, agentNames []causalgraph.AgentID) (*causalgraph.CausalGraph, error) {
	r := newReader(data)
	count, err := r.readVarUint()
	if err != nil {
		return nil, newDecodeError(InvalidVarInt, uint64(chunkCGParents), 0, err)
	}
	cg := causalgraph.New()
	for i := uint64(0); i < count; i++ {
		agentIdx, err := r.readVarUint()
		if err != nil {
			return nil, newDecodeError(UnexpectedEOF, uint64(chunkCGParents), 0, err)
		}
		seq, err := r.readVarUint()
		if err != nil {
			return nil, newDecodeError(UnexpectedEOF, uint64(chunkCGParents), 0, err)
		}
		length, err := r.readVarUint()
		if err != nil {
			return nil, newDecodeError(UnexpectedEOF, uint64(chunkCGParents), 0, err)
		}
		numParents, err := r.readVarUint()
		if err != nil {
			return nil, newDecodeError(UnexpectedEOF, uint64(chunkCGParents), 0, err)
		}
		rawParents := make([]causalgraph.RawVersion, numParents)
		for j := range rawParents {
			pAgentIdx, err := r.readVarUint()
			if err != nil {
				return nil, newDecodeError(UnexpectedEOF, uint64(chunkCGParents), 0, err)
			}
			pSeq, err := r.readVarUint()
			if err != nil {
				return nil, newDecodeError(UnexpectedEOF, uint64(chunkCGParents), 0, err)
			}
			if int(pAgentIdx) >= len(agentNames) {
				return nil, newDecodeError(InvalidContent, uint64(chunkCGParents), 0, nil)
			}
			rawParents[j] = causalgraph.RawVersion{Agent: agentNames[pAgentIdx], Seq: int(pSeq)}
		}
		if int(agentIdx) >= len(agentNames) {
			return nil, newDecodeError(InvalidContent, uint64(chunkCGParents), 0, nil)
		}
		if _, err := causalgraph.AddRaw(cg, causalgraph.RawVersion{Agent: agentNames[agentIdx], Seq: int(seq)}, int(length), rawParents); err != nil {
			return nil, newDecodeError(InvalidContent, uint64(chunkCGParents), 0, err)
		}
	}
	return cg, nil
}

func encodePatches(ol *oplog.OpLog) []byte {
	w := newWriter()
	w.putVarUint(uint64(len(ol.Entries)))
	for _, e := range ol.Entries {
		w.putVarUint(uint64(e.Op.Kind))
		w.putVarUint(uint64(ol.CG.Agents.IDFor(e.Agent)))
		if e.Op.Fwd {
			w.putVarUint(1)
		} else {
			w.putVarUint(0)
		}
		w.putVarUint(uint64(e.Op.Span.Start))
		w.putVarUint(uint64(e.Op.Span.End))
	}
	return w.bytes()
}

func decodePatches(data []byte, agentNames []causalgraph.AgentID) ([]oplog.Entry, error) {
	r := newReader(data)
	count, err := r.readVarUint()
	if err != nil {
		return nil, newDecodeError(InvalidVarInt, uint64(chunkPatches), 0, err)
	}
	entries := make([]oplog.Entry, count)
	var cursor causalgraph.LV
	for i := range entries {
		kind, err := r.readVarUint()
		if err != nil {
			return nil, newDecodeError(UnexpectedEOF, uint64(chunkPatches), 0, err)
		}
		agentIdx, err := r.readVarUint()
		if err != nil {
			return nil, newDecodeError(UnexpectedEOF, uint64(chunkPatches), 0, err)
		}
		fwdV, err := r.readVarUint()
		if err != nil {
			return nil, newDecodeError(UnexpectedEOF, uint64(chunkPatches), 0, err)
		}
		start, err := r.readVarUint()
		if err != nil {
			return nil, newDecodeError(UnexpectedEOF, uint64(chunkPatches), 0, err)
		}
		end, err := r.readVarUint()
		if err != nil {
			return nil, newDecodeError(UnexpectedEOF, uint64(chunkPatches), 0, err)
		}
		if int(agentIdx) >= len(agentNames) {
			return nil, newDecodeError(InvalidContent, uint64(chunkPatches), 0, nil)
		}
		entries[i] = oplog.Entry{
			LV:    cursor,
			Agent: agentNames[agentIdx],
			Op: oplog.Operation{
				Kind: oplog.OpKind(kind),
				Span: oplog.DTRange{Start: int(start), End: int(end)},
				Fwd:  fwdV == 1,
			},
		}
		cursor += causalgraph.LV(entries[i].Len())
	}
	return entries, nil
}

func encodeContentStore(store *oplog.ContentStore) []byte {
	w := newWriter()
	runs := store.AllRuns()
	w.putVarUint(uint64(len(runs)))
	for _, run := range runs {
		if run.Known {
			w.putVarUint(1)
		} else {
			w.putVarUint(0)
		}
		w.putVarUint(uint64(run.LV.Start))
		w.putVarUint(uint64(run.LV.End))
		if run.Known {
			content, _ := store.Slice(run.LV)
			w.putLenPrefixed(content)
		}
	}
	return w.bytes()
}

func decodeContentStore(data []byte, store *oplog.ContentStore) error {
	r := newReader(data)
	count, err := r.readVarUint()
	if err != nil {
		return newDecodeError(InvalidVarInt, uint64(chunkPatchContent), 0, err)
	}
	for i := uint64(0); i < count; i++ {
		knownV, err := r.readVarUint()
		if err != nil {
			return newDecodeError(UnexpectedEOF, uint64(chunkPatchContent), 0, err)
		}
		start, err := r.readVarUint()
		if err != nil {
			return newDecodeError(UnexpectedEOF, uint64(chunkPatchContent), 0, err)
		}
		end, err := r.readVarUint()
		if err != nil {
			return newDecodeError(UnexpectedEOF, uint64(chunkPatchContent), 0, err)
		}
		lvRange := causalgraph.LVRange{Start: causalgraph.LV(start), End: causalgraph.LV(end)}
		if knownV == 1 {
			content, err := r.readLenPrefixed()
			if err != nil {
				return newDecodeError(DataMissing, uint64(chunkPatchContent), 0, err)
			}
			store.Append(lvRange, content)
		} else {
			store.AppendUnknown(lvRange)
		}
	}
	return nil
}
