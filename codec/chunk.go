package codec

// chunkTag names one section of the save/journal format. The values are
// this package's own, smaller enumeration (see DESIGN.md), not a copy of
// the original implementation's ChunkType enum: the causal-graph and patch
// sections use tag numbers and layouts of their own.
type chunkTag uint64

const (
	chunkFileInfo   chunkTag = 1
	chunkDocID      chunkTag = 2
	chunkAgentNames chunkTag = 3
	chunkUserData   chunkTag = 4

	chunkCompressedFieldsLZ4 chunkTag = 5

	chunkStartBranchVersion chunkTag = 10
	chunkStartBranchContent chunkTag = 13

	chunkCGParents chunkTag = 20
	chunkCGAgentSeq chunkTag = 21

	chunkPatches          chunkTag = 22
	chunkPatchContent     chunkTag = 24
	chunkContentIsKnown   chunkTag = 25
	chunkDelPatchContent  chunkTag = 26
	chunkDelContentKnown  chunkTag = 27

	chunkCrc chunkTag = 100
)

// pushChunk appends a tagged, length-prefixed chunk to w.
func pushChunk(w *writer, tag chunkTag, data []byte) {
	w.putVarUint(uint64(tag))
	w.putLenPrefixed(data)
}

// chunkEntry is one decoded (tag, payload) pair.
type chunkEntry struct {
	Tag  chunkTag
	Data []byte
}

// readChunks decodes every chunk in r until the input is exhausted.
func readChunks(r *reader) ([]chunkEntry, error) {
	var out []chunkEntry
	for !r.atEnd() {
		tagV, err := r.readVarUint()
		if err != nil {
			return nil, newDecodeError(InvalidChunkHeader, 0, int64(r.pos), err)
		}
		data, err := r.readLenPrefixed()
		if err != nil {
			return nil, newDecodeError(InvalidChunkHeader, tagV, int64(r.pos), err)
		}
		out = append(out, chunkEntry{Tag: chunkTag(tagV), Data: data})
	}
	return out, nil
}

// findChunk returns the last chunk matching tag: a save file only ever
// carries one of each, but a journal's chunk list is a sequence of
// successive full snapshots, and the most recent one wins.
func findChunk(chunks []chunkEntry, tag chunkTag) ([]byte, bool) {
	var data []byte
	var ok bool
	for _, c := range chunks {
		if c.Tag == tag {
			data, ok = c.Data, true
		}
	}
	return data, ok
}
