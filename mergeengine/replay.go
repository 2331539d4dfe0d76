package mergeengine

import (
	"github.com/pkg/errors"

	"github.com/dmndtyps/dt/oplog"
	"github.com/dmndtyps/dt/rope"
)

// ErrContentMissing is returned by Replay when an insert's content was not
// retained by the OpLog (the content store's "known?" bit is false for that
// LV). Every insert produces at least one byte, so a nil Content on an
// OpInsert TransformedOp unambiguously means the bytes were never stored,
// never that the insert was legitimately empty. Replay refuses rather than
// silently producing a shorter document or fabricating placeholder bytes.
var ErrContentMissing = errors.New("mergeengine: Replay: insert content not retained")

// Replay applies a sequence of TransformedOps to r in order, skipping
// deletes whose AlreadyHappened flag reports the target was already
// removed by a concurrently-observed delete.
func Replay(r *rope.Rope, ops []TransformedOp) error {
	for _, op := range ops {
		switch op.Kind {
		case oplog.OpInsert:
			if op.Content == nil {
				return errors.Wrapf(ErrContentMissing, "LV %d", op.LV)
			}
			if err := r.Insert(op.Pos, op.Content); err != nil {
				return errors.Wrapf(err, "mergeengine: Replay: insert at LV %d", op.LV)
			}
		case oplog.OpDelete:
			if op.AlreadyHappened {
				continue
			}
			if err := r.Delete(op.Pos, 1); err != nil {
				return errors.Wrapf(err, "mergeengine: Replay: delete at LV %d", op.LV)
			}
		}
	}
	return nil
}
