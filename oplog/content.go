package oplog

import (
	"github.com/dmndtyps/dt/causalgraph"
	"github.com/dmndtyps/dt/internal/rle"
)

// byteRun maps one contiguous LV range onto a byte range in a ContentStore's
// buffer, or marks that range's content as missing.
type byteRun struct {
	LV    causalgraph.LVRange
	Bytes DTRange
	Known bool
}

func (r byteRun) Len() int { return r.LV.Len() }

func (r byteRun) CanAppend(other byteRun) bool {
	if r.Known != other.Known || r.LV.End != other.LV.Start {
		return false
	}
	if r.Known && r.Bytes.End != other.Bytes.Start {
		return false
	}
	return true
}

func (r byteRun) Append(other byteRun) byteRun {
	r.LV.End = other.LV.End
	if r.Known {
		r.Bytes.End = other.Bytes.End
	}
	return r
}

func (r byteRun) Truncate(n int) byteRun {
	r.LV.End = r.LV.Start + causalgraph.LV(n)
	if r.Known {
		r.Bytes.End = r.Bytes.Start + n
	}
	return r
}

var _ rle.Run[byteRun] = byteRun{}

// ContentStore is an append-only byte buffer paired with an RLE table
// mapping LV ranges onto byte ranges, with a known/missing bit per run
// (spec.md §3: "content is stored separately... and may be entirely
// missing for a given range").
type ContentStore struct {
	Buf  []byte
	runs rle.List[byteRun]
}

// Append records known content for lvRange and returns the byte offset it
// was written at.
func (c *ContentStore) Append(lvRange causalgraph.LVRange, content []byte) int {
	start := len(c.Buf)
	c.Buf = append(c.Buf, content...)
	c.runs.Push(byteRun{LV: lvRange, Bytes: DTRange{Start: start, End: start + len(content)}, Known: true})
	return start
}

// AppendUnknown records lvRange as present in the log but with its content
// not retained (spec.md §3's known? bit, set to false).
func (c *ContentStore) AppendUnknown(lvRange causalgraph.LVRange) {
	c.runs.Push(byteRun{LV: lvRange, Known: false})
}

// Slice returns the bytes for lvRange, or ok=false if that range's content
// is missing or only partially covered by a single stored run.
func (c *ContentStore) Slice(lvRange causalgraph.LVRange) (content []byte, ok bool) {
	for _, r := range c.runs.Runs {
		if r.LV.Start <= lvRange.Start && lvRange.End <= r.LV.End {
			if !r.Known {
				return nil, false
			}
			offset := int(lvRange.Start - r.LV.Start)
			length := lvRange.Len()
			return c.Buf[r.Bytes.Start+offset : r.Bytes.Start+offset+length], true
		}
	}
	return nil, false
}

// ContentRun names one contiguous LV range's known/missing status, for
// callers (the codec) that need to walk every run rather than just the
// known ones.
type ContentRun struct {
	LV    causalgraph.LVRange
	Known bool
}

// AllRuns returns every run in LV order, known and missing alike.
func (c *ContentStore) AllRuns() []ContentRun {
	out := make([]ContentRun, len(c.runs.Runs))
	for i, r := range c.runs.Runs {
		out[i] = ContentRun{LV: r.LV, Known: r.Known}
	}
	return out
}

// KnownRanges returns the LV ranges for which content is retained.
func (c *ContentStore) KnownRanges() []causalgraph.LVRange {
	var out []causalgraph.LVRange
	for _, r := range c.runs.Runs {
		if r.Known {
			out = append(out, r.LV)
		}
	}
	return out
}
