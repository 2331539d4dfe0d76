package oplog

import (
	"github.com/pkg/errors"

	"github.com/dmndtyps/dt/causalgraph"
)

// MergeFrom copies every operation in src that dst does not yet know about
// into dst, bridging agents by name (spec.md §4.2, merge_operations_from):
// for each source CGEntry run, the portion already known locally (by
// agent+seq) is skipped, the remainder's parent frontier is rewritten from
// src's LV space into dst's via the (agent,seq) bridge, and the
// corresponding operations and content are re-pushed at dst's newly
// assigned LVs.
func (dst *OpLog) MergeFrom(src *OpLog) error {
	for _, entry := range src.CG.Entries {
		knownSeq := causalgraph.NextSeqForAgent(dst.CG, entry.Agent)
		if entry.Seq+entry.Len() <= knownSeq {
			continue // fully known locally already
		}
		missingSeqStart := entry.Seq
		offset := 0
		if knownSeq > entry.Seq {
			offset = knownSeq - entry.Seq
			missingSeqStart = knownSeq
		}
		length := entry.Len() - offset
		srcStart := entry.Version + causalgraph.LV(offset)

		var rawParents []causalgraph.RawVersion
		var err error
		if offset == 0 {
			rawParents, err = causalgraph.LVToRawList(src.CG, entry.Parents)
			if rawParents == nil {
				// A root entry: non-nil and empty, since AddRaw reads nil as
				// "parent on dst's current heads".
				rawParents = []causalgraph.RawVersion{}
			}
		} else {
			rawParents = []causalgraph.RawVersion{{Agent: entry.Agent, Seq: missingSeqStart - 1}}
		}
		if err != nil {
			return errors.Wrap(err, "oplog: MergeFrom: translating parents")
		}

		newCGEntry, err := causalgraph.AddRaw(dst.CG, causalgraph.RawVersion{Agent: entry.Agent, Seq: missingSeqStart}, length, rawParents)
		if err != nil {
			return errors.Wrap(err, "oplog: MergeFrom: extending causal graph")
		}
		if newCGEntry == nil {
			continue // a concurrent caller already merged this span
		}

		err = src.IterRange(causalgraph.LVRange{Start: srcStart, End: srcStart + causalgraph.LV(length)},
			func(srcLV causalgraph.LV, op Operation, content []byte) bool {
				newLV := newCGEntry.Version + (srcLV - srcStart)
				dst.pushEntry(Entry{LV: newLV, Agent: entry.Agent, Op: op})
				lvRange := causalgraph.LVRange{Start: newLV, End: newLV + 1}
				if op.Kind == OpInsert {
					if content != nil {
						dst.InsContent.Append(lvRange, content)
					} else {
						dst.InsContent.AppendUnknown(lvRange)
					}
				} else {
					if content != nil {
						dst.DelContent.Append(lvRange, content)
					} else {
						dst.DelContent.AppendUnknown(lvRange)
					}
				}
				return true
			})
		if err != nil {
			return errors.Wrap(err, "oplog: MergeFrom: copying operations")
		}
	}
	return nil
}
