package egwalker

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dmndtyps/dt/causalgraph"
	"github.com/dmndtyps/dt/codec"
	"github.com/dmndtyps/dt/internal/telemetry"
	"github.com/dmndtyps/dt/mergeengine"
	"github.com/dmndtyps/dt/rope"
)

// Encode serializes the OpLog into a standalone save file. Inserted and
// deleted content is stored only where opts asks for it; a content store
// left out is omitted from the file entirely, so the decoded OpLog has no
// content runs for it (spec.md §4.5).
func (o *OpLog) Encode(opts codec.EncodeOptions) ([]byte, error) {
	data, err := codec.Encode(o.inner, opts)
	if err != nil {
		return nil, errors.Wrap(err, "egwalker: Encode")
	}
	return data, nil
}

// Decode reconstructs an OpLog from a save file produced by Encode.
func Decode(data []byte, opts codec.DecodeOptions) (*OpLog, error) {
	inner, err := codec.Decode(data, opts)
	if err != nil {
		return nil, errors.Wrap(err, "egwalker: Decode")
	}
	return &OpLog{inner: inner}, nil
}

// MergeInto replays into r every operation o has recorded between from and
// to (from may be nil for "the very start"), returning to unchanged on
// success so callers can thread it straight into their next from.
func (o *OpLog) MergeInto(r *rope.Rope, from, to Frontier) (Frontier, error) {
	tr := mergeengine.NewTracker()
	ops, err := tr.Merge(o.inner.CG, o.inner, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "egwalker: MergeInto")
	}
	if err := mergeengine.Replay(r, ops); err != nil {
		return nil, errors.Wrap(err, "egwalker: MergeInto: replay")
	}
	return to, nil
}

// MergeFrom incorporates every operation of src that w doesn't already
// have, bringing w's document up to the union of both histories' heads.
//
// Unlike the merge engine's Tracker (which can replay an arbitrary from→to
// span incrementally), MergeFrom rebuilds w's rope from scratch: a fresh
// rope.New() merged from nil all the way to the combined heads. This trades
// the cost of a full re-render for never having to reconcile two trackers'
// internal range-tree state against each other, which the teacher's own
// merge() never attempted either (it always diffed against a single
// CurVersion). Recorded as a deliberate simplification in DESIGN.md.
func (w *Walker) MergeFrom(src *OpLog) error {
	if err := w.log.inner.MergeFrom(src.inner); err != nil {
		return errors.Wrap(err, "egwalker: MergeFrom")
	}

	fresh := rope.New()
	if _, err := w.log.MergeInto(fresh, nil, w.log.inner.CG.Heads); err != nil {
		return errors.Wrap(err, "egwalker: MergeFrom: rebuild")
	}
	w.doc = fresh

	if err := w.flush(); err != nil {
		return errors.Wrap(err, "egwalker: MergeFrom: flush")
	}
	return nil
}

// Options configures a newly opened Walker.
type Options struct {
	// Agent is used when the caller doesn't name one explicitly on a
	// LocalInsert/LocalDelete call (both still accept an override per
	// call, matching spec.md §6's signature). If empty, Open mints a
	// fresh UUID-backed agent identity via causalgraph.NewAgent.
	Agent AgentID
	// Logger receives structured diagnostics for conditions a caller
	// should be able to observe but that aren't themselves call failures
	// (replacing the teacher's bare fmt.Printf warnings). Defaults to a
	// no-op logger.
	Logger *zap.Logger
}

// Walker is a single editable document: an OpLog paired with the rope it
// has been replayed into, durable to a journal-backed file on disk.
//
// Walker is not internally synchronized — matching spec.md §5's
// "single-threaded and synchronous" concurrency model. Callers that need
// concurrent readers and writers must wrap their *Walker in their own
// sync.RWMutex; every exported method here assumes exclusive access for
// its duration.
type Walker struct {
	log     *OpLog
	doc     *rope.Rope
	agent   AgentID
	logger  *zap.Logger
	journal *codec.Journal
}

// Open opens (creating if necessary) the journal-backed document at path,
// replays its full history into a fresh rope, and returns a ready Walker.
func Open(path string, opts Options) (*Walker, error) {
	inner, j, err := codec.OpenJournalOpLog(path)
	if err != nil {
		return nil, errors.Wrap(err, "egwalker: Open")
	}

	logger := telemetry.OrNop(opts.Logger)

	agent := opts.Agent
	if agent == "" {
		agent = causalgraph.NewAgent()
	}

	log := &OpLog{inner: inner}
	doc := rope.New()
	if _, err := log.MergeInto(doc, nil, inner.CG.Heads); err != nil {
		j.Close()
		return nil, errors.Wrap(err, "egwalker: Open: replay")
	}

	w := &Walker{
		log:     log,
		doc:     doc,
		agent:   agent,
		logger:  logger,
		journal: j,
	}
	w.logger.Debug("opened document",
		zap.String("path", path),
		zap.String("agent", string(w.agent)),
		zap.Int("length", w.doc.Len()),
	)
	return w, nil
}

// Close durably flushes the journal and releases the underlying file.
func (w *Walker) Close() error {
	if err := w.flush(); err != nil {
		w.logger.Warn("closing walker with unflushed snapshot error", zap.Error(err))
		w.journal.Close()
		return err
	}
	return errors.Wrap(w.journal.Close(), "egwalker: Close")
}

// flush durably records the OpLog's current full state to the journal. It
// always retains content, since a Walker's journal is the document's only
// copy of its own history.
func (w *Walker) flush() error {
	opts := codec.EncodeOptions{StoreInsertedContent: true, StoreDeletedContent: true}
	return errors.Wrap(codec.WriteSnapshot(w.journal, w.log.inner, opts), "egwalker: flush")
}

// LocalInsert records agent inserting text at pos and applies it directly
// to the document (a local op is always a fast-forward onto the current
// heads, never requiring the merge engine's tracker). Bounds are checked
// against the live document before anything is recorded, so a rejected
// insert never touches the log or the causal graph — generalizing the
// teacher's rollback-on-error pattern in Integrate (truncate the just-
// appended op on failure) into validate-before-mutate, since this OpLog's
// RLE-coalesced entries can't always be safely truncated in place the way
// the teacher's flat, uncoalesced Ops slice could.
func (w *Walker) LocalInsert(agent AgentID, pos int, text string) (LV, error) {
	if agent == "" {
		agent = w.agent
	}
	if pos < 0 || pos > w.doc.Len() {
		return 0, errors.Errorf("egwalker: LocalInsert: position %d out of bounds (len %d)", pos, w.doc.Len())
	}
	lvRange, err := w.log.inner.PushInsert(agent, nil, pos, []byte(text))
	if err != nil {
		return 0, errors.Wrap(err, "egwalker: LocalInsert")
	}
	if err := w.doc.Insert(pos, []byte(text)); err != nil {
		return 0, errors.Wrap(err, "egwalker: LocalInsert: doc")
	}
	if err := w.flush(); err != nil {
		return 0, err
	}
	return lvRange.Start, nil
}

// LocalDelete records agent deleting rng and applies it directly to the
// document. fwd only matters for a single-byte delete, where it selects a
// forward-scan versus a backspace-style run (see oplog.PushDelete).
func (w *Walker) LocalDelete(agent AgentID, rng DTRange, fwd bool) (LV, error) {
	if agent == "" {
		agent = w.agent
	}
	pos, length := rng.Start, rng.Len()
	if pos < 0 || length <= 0 || pos+length > w.doc.Len() {
		return 0, errors.Errorf("egwalker: LocalDelete: range [%d, %d) out of bounds (len %d)", pos, pos+length, w.doc.Len())
	}
	deleted := w.doc.Bytes()[pos : pos+length]
	content := make([]byte, length)
	copy(content, deleted)

	lvRange, err := w.log.inner.PushDelete(agent, nil, pos, length, fwd, content)
	if err != nil {
		return 0, errors.Wrap(err, "egwalker: LocalDelete")
	}
	if err := w.doc.Delete(pos, length); err != nil {
		return 0, errors.Wrap(err, "egwalker: LocalDelete: doc")
	}
	if err := w.flush(); err != nil {
		return 0, err
	}
	return lvRange.Start, nil
}

// Heads returns the Walker's current version frontier.
func (w *Walker) Heads() Frontier { return w.log.inner.CG.Heads }

// Checkout returns the document's content as it stood at version (which
// must be a frontier reachable from an empty history), without disturbing
// the Walker's own live document.
func (w *Walker) Checkout(version Frontier) (string, error) {
	r := rope.New()
	if _, err := w.log.MergeInto(r, nil, version); err != nil {
		return "", errors.Wrap(err, "egwalker: Checkout")
	}
	return r.String(), nil
}

// String returns the Walker's current document content.
func (w *Walker) String() string { return w.doc.String() }

// OpLog returns the Walker's underlying OpLog, e.g. to Encode it for
// transmission to another peer.
func (w *Walker) OpLog() *OpLog { return w.log }
