package mergeengine

import (
	"github.com/pkg/errors"

	"github.com/dmndtyps/dt/causalgraph"
	"github.com/dmndtyps/dt/oplog"
)

// Merge walks the plan needed to advance tr from from to the to frontier,
// applying every intervening insert/delete op to tr's tree and returning
// the transformed ops in application order. BeginOutput/Clear plan steps
// are bookkeeping markers only in this tracker (see DESIGN.md) — the
// output accumulates directly as ops are applied, so both are no-ops
// here.
func (tr *Tracker) Merge(cg *causalgraph.CausalGraph, ol *oplog.OpLog, from, to causalgraph.Frontier) ([]TransformedOp, error) {
	plan, err := GeneratePlan(cg, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "mergeengine: Merge")
	}

	var out []TransformedOp
	for _, action := range plan {
		switch action.Kind {
		case ActionBeginOutput, ActionClear:
			continue
		case ActionFF, ActionApply:
			var iterErr error
			err := ol.IterRange(action.Span, func(lv causalgraph.LV, op oplog.Operation, _ []byte) bool {
				var t TransformedOp
				switch op.Kind {
				case oplog.OpInsert:
					t, iterErr = tr.ApplyInsert(cg, ol, lv)
				case oplog.OpDelete:
					t, iterErr = tr.ApplyDelete(cg, ol, lv)
				default:
					iterErr = errors.Errorf("mergeengine: Merge: unknown op kind at LV %d", lv)
				}
				if iterErr != nil {
					return false
				}
				out = append(out, t)
				return true
			})
			if err != nil {
				return nil, errors.Wrap(err, "mergeengine: Merge: iterating plan range")
			}
			if iterErr != nil {
				return nil, iterErr
			}
		}
	}
	return out, nil
}
