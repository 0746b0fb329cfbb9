// Package rangesync implements range-based set reconciliation between two
// peers holding sets of timestamped ids. The peers exchange compact range
// fingerprints and recursively subdivide ranges that differ, so that after
// a few round-trips the initiator knows which ids each side is missing
// without either side transferring its whole set.
//
// A Reconciler is used in one of two roles. The initiator calls Initiate to
// produce the first frame and ReconcileWithIDs on every reply, accumulating
// the ids it has that the peer lacks ("have") and the ids the peer has that
// it lacks ("need"). The responder calls Reconcile on every received frame
// and sends back the returned frame. The session has converged once the
// initiator produces an empty frame in reply to an empty frame. When the
// responder has no frame size limit, the initiator's first empty frame
// already marks convergence; a responder with a limit can still have
// ranges queued at that point, which it sends in reply to that frame.
//
// Moving frames between the peers is up to the caller; a Reconciler never
// touches the network and is not safe for concurrent use.
package rangesync

import (
	"bytes"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/RanaUbaidullah/negentropy/types"
	"github.com/RanaUbaidullah/negentropy/wire"
)

const (
	// numBuckets is the fan-out of the range subdivision.
	numBuckets = 16
	// minFrameSizeLimit is the smallest allowed nonzero frame size cap.
	minFrameSizeLimit = 1024
)

var (
	// ErrSealed is returned when an item is added to or seal is called on
	// an already sealed Reconciler.
	ErrSealed = errors.New("already sealed")
	// ErrNotSealed is returned when Initiate or a reconcile call is made
	// before sealing.
	ErrNotSealed = errors.New("not sealed")
)

// boundOutput is one pending per-range message: a payload to be framed
// between the start and end bounds.
type boundOutput struct {
	start   types.Item
	end     types.Item
	payload []byte
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger used for protocol tracing.
// The default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Reconciler) {
		r.log = log
	}
}

// WithFrameSizeLimit caps the byte length of every produced frame.
// Zero (the default) means unbounded; nonzero values must be at least 1024.
// Records never split across frames: ranges that don't fit stay queued and
// go out on the next reconcile round.
func WithFrameSizeLimit(limit uint64) Option {
	return func(r *Reconciler) {
		r.frameSizeLimit = limit
	}
}

// Reconciler is one peer of a reconciliation session.
type Reconciler struct {
	store          itemStore
	isInitiator    bool
	frameSizeLimit uint64
	pending        []boundOutput
	log            *zap.Logger
}

// NewReconciler creates a Reconciler for items whose ids are idSize bytes
// long. Both peers of a session must use the same idSize.
func NewReconciler(idSize int, opts ...Option) (*Reconciler, error) {
	if idSize < types.MinIDSize || idSize > types.MaxIDSize {
		return nil, fmt.Errorf("idSize %d out of range [%d, %d]",
			idSize, types.MinIDSize, types.MaxIDSize)
	}
	r := &Reconciler{
		store: itemStore{idSize: idSize},
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.frameSizeLimit != 0 && r.frameSizeLimit < minFrameSizeLimit {
		return nil, fmt.Errorf("frame size limit %d below minimum %d",
			r.frameSizeLimit, minFrameSizeLimit)
	}
	return r, nil
}

// AddItem adds an item to the set. The id must be exactly idSize bytes.
// Items may be added in any order; duplicates are kept as distinct entries.
// AddItem fails after Seal.
func (r *Reconciler) AddItem(timestamp uint64, id types.KeyBytes) error {
	return r.store.add(timestamp, id)
}

// Seal sorts the item set and freezes it. It must be called exactly once,
// before Initiate or any reconcile call.
func (r *Reconciler) Seal() error {
	return r.store.seal()
}

// Initiate marks this Reconciler as the session initiator and produces the
// first frame, covering the whole item domain.
func (r *Reconciler) Initiate() ([]byte, error) {
	if !r.store.sealed {
		return nil, ErrNotSealed
	}
	r.isInitiator = true
	lo, err := types.NewBound(0, nil)
	if err != nil {
		return nil, err
	}
	hi, err := types.NewBound(types.MaxTimestamp, nil)
	if err != nil {
		return nil, err
	}
	r.log.Debug("initiate", zap.Int("numItems", len(r.store.items)),
		zap.Uint64("frameSizeLimit", r.frameSizeLimit))
	r.splitRange(0, len(r.store.items), lo, hi, &r.pending)
	return r.buildOutput(), nil
}

// Reconcile processes one frame at the responder and returns the reply
// frame. It fails on the initiator, which must use ReconcileWithIDs.
func (r *Reconciler) Reconcile(frame []byte) ([]byte, error) {
	if r.isInitiator {
		return nil, errors.New("initiator must ask for have/need ids")
	}
	var have, need []types.KeyBytes
	if err := r.reconcileAux(frame, &have, &need); err != nil {
		return nil, err
	}
	return r.buildOutput(), nil
}

// ReconcileWithIDs processes one frame at the initiator. It returns the
// reply frame along with the ids newly discovered to exist only locally
// (have) and only at the peer (need). An empty reply frame means the
// session has converged, unless the responder has a frame size limit and
// still has ranges queued (see the package documentation). It fails on a
// responder, which must use Reconcile.
func (r *Reconciler) ReconcileWithIDs(frame []byte) (out []byte, have, need []types.KeyBytes, err error) {
	if !r.isInitiator {
		return nil, nil, nil, errors.New("non-initiator asking for have/need ids")
	}
	if err := r.reconcileAux(frame, &have, &need); err != nil {
		return nil, nil, nil, err
	}
	return r.buildOutput(), have, need, nil
}

// reconcileAux walks the records of one inbound frame, produces follow-up
// range messages and prepends them to the pending output queue.
func (r *Reconciler) reconcileAux(frame []byte, have, need *[]types.KeyBytes) error {
	if !r.store.sealed {
		return ErrNotSealed
	}

	rd := wire.NewReader(frame)
	prevBound, err := types.NewBound(0, nil)
	if err != nil {
		return err
	}
	prevIndex := 0
	var outputs []boundOutput

	for !rd.Empty() {
		currBound, err := rd.Bound()
		if err != nil {
			return err
		}
		mode, err := rd.Mode()
		if err != nil {
			return err
		}

		lower := prevIndex
		upper := r.store.upperBound(prevIndex, &currBound)
		r.log.Debug("process record",
			zap.Stringer("mode", mode),
			zap.Object("bound", &currBound),
			zap.Int("lower", lower),
			zap.Int("upper", upper))

		switch mode {
		case wire.ModeSkip:
			// Nothing to do.

		case wire.ModeFingerprint:
			if err := r.handleFingerprint(rd, lower, upper, &prevBound, &currBound, &outputs); err != nil {
				return err
			}

		case wire.ModeIDList:
			if err := r.handleIDList(rd, lower, upper, &prevBound, &currBound, have, need, &outputs); err != nil {
				return err
			}

		case wire.ModeIDListResponse:
			if err := r.handleIDListResponse(rd, lower, upper, have, need); err != nil {
				return err
			}

		default:
			return fmt.Errorf("unexpected message mode %d", uint64(mode))
		}

		prevIndex = upper
		prevBound = currBound
	}

	// Newly produced ranges go to the front of the queue so that the next
	// frame resumes exactly where the previous record's bound ended.
	r.pending = append(outputs, r.pending...)
	return nil
}

func (r *Reconciler) handleFingerprint(
	rd *wire.Reader,
	lower, upper int,
	prevBound, currBound *types.Item,
	outputs *[]boundOutput,
) error {
	theirFP, err := rd.Bytes(r.store.idSize)
	if err != nil {
		return err
	}
	var fp types.Fingerprint
	for i := lower; i < upper; i++ {
		fp.Update(&r.store.items[i])
	}
	if bytes.Equal(theirFP, fp.Truncate(r.store.idSize)) {
		// Range is in sync.
		return nil
	}
	r.log.Debug("fingerprint mismatch, splitting",
		zap.Int("numItems", upper-lower),
		HexField("theirFP", theirFP),
		HexField("ourFP", fp.Truncate(r.store.idSize)))
	r.splitRange(lower, upper, *prevBound, *currBound, outputs)
	return nil
}

// theirElem tracks one id from a peer's IdList: its offset in the peer's
// enumeration and whether we also hold it.
type theirElem struct {
	offset      uint64
	onBothSides bool
}

func (r *Reconciler) handleIDList(
	rd *wire.Reader,
	lower, upper int,
	prevBound, currBound *types.Item,
	have, need *[]types.KeyBytes,
	outputs *[]boundOutput,
) error {
	numIDs, err := rd.VarInt()
	if err != nil {
		return err
	}
	theirElems := make(map[string]*theirElem, numIDs)
	for i := uint64(0); i < numIDs; i++ {
		id, err := rd.Bytes(r.store.idSize)
		if err != nil {
			return err
		}
		if _, ok := theirElems[string(id)]; !ok {
			theirElems[string(id)] = &theirElem{offset: i}
		}
	}

	var responseHave []types.KeyBytes
	var responseNeed []uint64

	for i := lower; i < upper; i++ {
		id := r.store.items[i].IDPrefix(r.store.idSize)
		if e, ok := theirElems[string(id)]; ok {
			e.onBothSides = true
		} else if r.isInitiator {
			*have = append(*have, id.Clone())
		} else {
			responseHave = append(responseHave, id)
		}
	}
	for id, e := range theirElems {
		if !e.onBothSides {
			if r.isInitiator {
				*need = append(*need, types.KeyBytes(id))
			} else {
				responseNeed = append(responseNeed, e.offset)
			}
		}
	}
	r.log.Debug("id list processed",
		zap.Uint64("numIDs", numIDs),
		zap.Int("numOurs", upper-lower))

	if r.isInitiator {
		return nil
	}
	var p wire.Writer
	p.VarInt(uint64(wire.ModeIDListResponse))
	p.VarInt(uint64(len(responseHave)))
	for _, id := range responseHave {
		p.Raw(id)
	}
	bf := wire.EncodeBitField(responseNeed)
	p.VarInt(uint64(len(bf)))
	p.Raw(bf)
	*outputs = append(*outputs, boundOutput{
		start:   *prevBound,
		end:     *currBound,
		payload: p.Bytes(),
	})
	return nil
}

func (r *Reconciler) handleIDListResponse(
	rd *wire.Reader,
	lower, upper int,
	have, need *[]types.KeyBytes,
) error {
	if !r.isInitiator {
		return errors.New("unexpected idListResponse")
	}
	numIDs, err := rd.VarInt()
	if err != nil {
		return err
	}
	for i := uint64(0); i < numIDs; i++ {
		id, err := rd.Bytes(r.store.idSize)
		if err != nil {
			return err
		}
		*need = append(*need, types.KeyBytes(id).Clone())
	}
	bfSize, err := rd.VarInt()
	if err != nil {
		return err
	}
	bf, err := rd.Bytes(int(bfSize))
	if err != nil {
		return err
	}
	for i := lower; i < upper; i++ {
		if wire.BitFieldLookup(bf, i-lower) {
			*have = append(*have, r.store.items[i].IDPrefix(r.store.idSize).Clone())
		}
	}
	return nil
}

// splitRange turns the item sub-range items[lower:upper], delimited by
// (lowerBound, upperBound), into pending range messages. Small ranges
// become a single id list; larger ones are cut into numBuckets contiguous
// buckets, each reported by its XOR fingerprint, with minimal separating
// bounds between adjacent buckets.
func (r *Reconciler) splitRange(
	lower, upper int,
	lowerBound, upperBound types.Item,
	outputs *[]boundOutput,
) {
	numElems := upper - lower

	if numElems < numBuckets*2 {
		var p wire.Writer
		p.VarInt(uint64(wire.ModeIDList))
		p.VarInt(uint64(numElems))
		for i := lower; i < upper; i++ {
			p.Raw(r.store.items[i].IDPrefix(r.store.idSize))
		}
		*outputs = append(*outputs, boundOutput{
			start:   lowerBound,
			end:     upperBound,
			payload: p.Bytes(),
		})
		return
	}

	itemsPerBucket := numElems / numBuckets
	bucketsWithExtra := numElems % numBuckets
	curr := lower
	prevBound := lowerBound

	for i := 0; i < numBuckets; i++ {
		var fp types.Fingerprint
		bucketEnd := curr + itemsPerBucket
		if i < bucketsWithExtra {
			bucketEnd++
		}
		for ; curr < bucketEnd; curr++ {
			fp.Update(&r.store.items[curr])
		}

		var p wire.Writer
		p.VarInt(uint64(wire.ModeFingerprint))
		p.Raw(fp.Truncate(r.store.idSize))

		end := upperBound
		if i < numBuckets-1 {
			end = minimalBound(&r.store.items[curr-1], &r.store.items[curr], r.store.idSize)
		}
		*outputs = append(*outputs, boundOutput{
			start:   prevBound,
			end:     end,
			payload: p.Bytes(),
		})
		prevBound = end
	}
}

// buildOutput drains the pending output queue into one frame, inserting
// Skip fillers over gaps between consecutive ranges. With a frame size
// limit configured, draining stops before the frame would exceed it; the
// remaining queue entries go out on subsequent frames.
func (r *Reconciler) buildOutput() []byte {
	var w wire.Writer
	currBound, err := types.NewBound(0, nil)
	if err != nil {
		panic("BUG: zero bound construction failed")
	}

	for len(r.pending) > 0 {
		p := &r.pending[0]
		if p.start.Compare(&currBound) < 0 {
			// The queue is no longer monotonic with what has been
			// framed; everything from here on starts a new frame.
			break
		}

		o := w.Carry()
		if !currBound.Equal(&p.start) {
			o.Bound(&p.start, r.store.idSize)
			o.VarInt(uint64(wire.ModeSkip))
		}
		o.Bound(&p.end, r.store.idSize)
		o.Raw(p.payload)

		if r.frameSizeLimit != 0 && uint64(w.Len()+o.Len()) > r.frameSizeLimit {
			break
		}
		w.Commit(o)
		currBound = p.end
		r.pending = r.pending[1:]
	}

	r.log.Debug("built output frame",
		zap.Int("frameSize", w.Len()),
		zap.Int("pendingLeft", len(r.pending)))
	return w.Bytes()
}

// minimalBound computes the shortest bound B with prev < B <= curr for two
// adjacent items straddling a bucket boundary: just the timestamp when the
// timestamps differ, otherwise the shortest id prefix of curr that is not
// shared with prev.
func minimalBound(prev, curr *types.Item, idSize int) types.Item {
	if curr.Timestamp != prev.Timestamp {
		b, err := types.NewBound(curr.Timestamp, nil)
		if err != nil {
			panic("BUG: timestamp-only bound construction failed")
		}
		return b
	}
	shared := 0
	prevID := prev.IDPrefix(idSize)
	currID := curr.IDPrefix(idSize)
	for i := 0; i < idSize; i++ {
		if currID[i] != prevID[i] {
			break
		}
		shared++
	}
	b, err := types.NewBound(curr.Timestamp, curr.IDPrefix(shared+1))
	if err != nil {
		panic("BUG: prefix bound construction failed")
	}
	return b
}
