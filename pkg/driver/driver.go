// Copyright 2025 Certen Protocol
//
// Checkpoint Driver: consumes a sequential checkpoint stream, maintains
// the per-checkpoint logical clock, decodes events with bounded
// parallelism, and dispatches them against the projection store inside
// one transaction per checkpoint.

package driver

import (
	"context"
	"fmt"
	"log"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/certen/isafe-indexer/pkg/database"
	"github.com/certen/isafe-indexer/pkg/dispatcher"
	"github.com/certen/isafe-indexer/pkg/isafe"
	"github.com/certen/isafe-indexer/pkg/progress"
)

// CheckpointTransaction is one on-chain transaction's worth of events
// inside a checkpoint, in the chain's own commit order.
type CheckpointTransaction struct {
	Digest string
	Events []isafe.RawEvent
}

// Checkpoint is the unit the upstream reader hands the Driver: its
// sequence number, its timestamp (the logical clock's starting value),
// and the transactions it committed, in order.
type Checkpoint struct {
	Sequence     uint64
	TimestampMS  int64
	Transactions []CheckpointTransaction
}

// Source is satisfied by whatever durably streams checkpoints to the
// Driver; producing that stream (subscribing to a node, handling
// reconnects) is out of scope here and lives upstream of this package.
type Source interface {
	// Checkpoints returns a channel of checkpoints in strictly increasing
	// sequence order, and a channel that carries at most one terminal
	// error before both channels close.
	Checkpoints(ctx context.Context) (<-chan Checkpoint, <-chan error)
}

// Locator resolves the checkpoint sequence number the indexer should
// start from when the progress store has no recorded cursor — e.g. the
// sequence number at which the configured package was deployed, falling
// back to the chain's current head.
type Locator interface {
	InitialSequence(ctx context.Context) (uint64, error)
}

// Driver wires a Source, a Codec, and a Dispatcher together into a
// runnable checkpoint loop.
type Driver struct {
	source     Source
	locator    Locator
	codec      *isafe.Codec
	dispatcher *dispatcher.Dispatcher
	db         *database.Client
	progress   *progress.Store
	readerName string
	numWorkers int
	logger     *log.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger overrides the Driver's logger.
func WithLogger(logger *log.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithNumWorkers sets the bounded parallelism used to decode events within
// a single checkpoint. Checkpoints themselves are always applied in
// sequence: this bounds decode fan-out, not cross-checkpoint concurrency.
func WithNumWorkers(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.numWorkers = n
		}
	}
}

// New builds a Driver.
func New(source Source, locator Locator, codec *isafe.Codec, dsp *dispatcher.Dispatcher, db *database.Client, prog *progress.Store, readerName string, opts ...Option) *Driver {
	d := &Driver{
		source:     source,
		locator:    locator,
		codec:      codec,
		dispatcher: dsp,
		db:         db,
		progress:   prog,
		readerName: readerName,
		numWorkers: 4,
		logger:     log.New(os.Stderr, "[isafe-driver] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run drives the checkpoint stream until ctx is canceled or the source
// reports a terminal error.
func (d *Driver) Run(ctx context.Context) error {
	seq, haveCursor, err := d.progress.Cursor(d.readerName)
	if err != nil {
		return fmt.Errorf("driver: load cursor: %w", err)
	}
	if !haveCursor {
		seq, err = d.locator.InitialSequence(ctx)
		if err != nil {
			return fmt.Errorf("driver: resolve initial sequence: %w", err)
		}
		d.logger.Printf("no recorded cursor for %q, starting at sequence %d", d.readerName, seq)
	} else {
		d.logger.Printf("resuming %q from sequence %d", d.readerName, seq)
	}

	checkpoints, errs := d.source.Checkpoints(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err, ok := <-errs:
			if !ok {
				return nil
			}
			if err != nil {
				return fmt.Errorf("driver: checkpoint source: %w", err)
			}

		case cp, ok := <-checkpoints:
			if !ok {
				return nil
			}
			if haveCursor && cp.Sequence <= seq {
				// Already-processed checkpoint replayed by the upstream
				// reader after a reconnect; skip rather than re-apply.
				continue
			}
			if !haveCursor && cp.Sequence < seq {
				// Earlier than the starting sequence the Locator resolved.
				continue
			}
			if err := d.processCheckpoint(ctx, cp); err != nil {
				return fmt.Errorf("driver: checkpoint %d: %w", cp.Sequence, err)
			}
			seq = cp.Sequence
			haveCursor = true
		}
	}
}

// decodedEvent pairs a successfully (or unsuccessfully) decoded event with
// the transaction digest that produced it, preserving position so decode
// results can be reassembled in the transaction's original order despite
// concurrent decoding.
type decodedEvent struct {
	txDigest string
	event    isafe.Event
}

func (d *Driver) processCheckpoint(ctx context.Context, cp Checkpoint) error {
	decoded, err := d.decodeCheckpoint(ctx, cp)
	if err != nil {
		return err
	}

	logicalTS := cp.TimestampMS

	err = d.db.WithTx(ctx, func(store *database.Store) error {
		for _, de := range decoded {
			if de.event == nil {
				continue
			}
			if err := d.dispatcher.Dispatch(ctx, store, de.event, de.txDigest, logicalTS); err != nil {
				return fmt.Errorf("dispatch %s event %s: %w", de.txDigest, de.event.Type(), err)
			}
			logicalTS++
		}
		return nil
	})
	if err != nil {
		return err
	}

	return d.progress.Advance(d.readerName, cp.Sequence)
}

// decodeCheckpoint decodes every event in cp with bounded parallelism. The
// Codec is stateless and safe for concurrent use; each raw event is
// decoded independently of the others and stored at its own index, so
// fan-out here cannot perturb the causal order processCheckpoint imposes
// when it applies the results sequentially in index order. A panic inside
// a decode goroutine is recovered and returned as that goroutine's error,
// which cancels the group and fails the checkpoint.
func (d *Driver) decodeCheckpoint(ctx context.Context, cp Checkpoint) ([]decodedEvent, error) {
	type job struct {
		txDigest string
		raw      isafe.RawEvent
	}

	var jobs []job
	for _, tx := range cp.Transactions {
		for _, raw := range tx.Events {
			jobs = append(jobs, job{txDigest: tx.Digest, raw: raw})
		}
	}

	results := make([]decodedEvent, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.numWorkers)

	for i, j := range jobs {
		i, j := i, j
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("panic decoding event in tx %s: %v", j.txDigest, p)
				}
			}()
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			ev, err := d.codec.Decode(j.raw)
			if err != nil {
				// A malformed event is logged and dropped, not fatal: the
				// rest of the checkpoint (and the rest of this event's own
				// transaction) still gets processed.
				d.logger.Printf("dropping malformed event in tx %s: %v", j.txDigest, err)
				return nil
			}
			results[i] = decodedEvent{txDigest: j.txDigest, event: ev}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
