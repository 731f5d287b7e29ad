// Package scheduler implements the staged indexing pipeline of spec
// §4.5: an intern stage (out of core scope, produces indexer.Doc values)
// feeding a split stage (runs the term pipeline) feeding a single writer
// that is the only goroutine allowed to mutate the store. An optional
// shard-writer pool fans new (not updated) documents out to parallel
// temporary indexes.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tmc/rclindex/indexer"
)

// Task is one unit of work handed from the intern stage to the split
// stage to the writer. ID disambiguates tasks in logs; it is not used
// for ordering (spec §4.5: ordering is by enqueue order, not by ID).
type Task struct {
	ID  string
	Doc indexer.Doc
	Op  Op
}

type Op int

const (
	OpAddOrUpdate Op = iota
	OpDelete
	OpFlush
)

func NewTask(doc indexer.Doc, op Op) Task {
	id, err := uuid.NewV4()
	if err != nil {
		return Task{ID: "unnamed", Doc: doc, Op: op}
	}
	return Task{ID: id.String(), Doc: doc, Op: op}
}

// Scheduler runs the split -> write pipeline over bounded channels (spec
// §5 "Blocking happens at put() when full and at take() when empty; no
// busy waits" -- Go channels give us exactly that for free).
type Scheduler struct {
	Indexer *indexer.Indexer
	Logger  logrus.FieldLogger

	// QueueDepth bounds the intern->split and split->write channels.
	QueueDepth int
	// SplitWorkers is the number of concurrent split-stage goroutines.
	SplitWorkers int

	cancelled atomic.Bool
	closeShop atomic.Bool

	// perUDIMu serializes enqueues for the same UDI so replace operations
	// for one document are totally ordered by enqueue time (spec §4.5
	// "Ordering guarantees").
	perUDIMu sync.Map // udi string -> *sync.Mutex
}

func New(ix *indexer.Indexer, logger logrus.FieldLogger) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{
		Indexer:      ix,
		Logger:       logger,
		QueueDepth:   64,
		SplitWorkers: 4,
	}
}

// Cancel sets the cooperative cancellation flag (spec §4.5
// "Cancellation"). In-flight tasks still drain and commit unless Close
// is also called.
func (s *Scheduler) Cancel() { s.cancelled.Store(true) }

// Close requests a hard shutdown ("closeShop"): queues are discarded
// rather than drained.
func (s *Scheduler) Close() { s.closeShop.Store(true) }

func (s *Scheduler) udiLock(udi string) *sync.Mutex {
	v, _ := s.perUDIMu.LoadOrStore(udi, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Run drains tasks and feeds them through split workers into the single
// writer goroutine, returning once tasks is closed and every in-flight
// task has been written (or immediately, if Close was called first).
func (s *Scheduler) Run(ctx context.Context, tasks <-chan Task) error {
	if s.closeShop.Load() {
		return nil
	}

	writeCh := make(chan Task, s.QueueDepth)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.write(gctx, writeCh)
	})

	splitGroup, sctx := errgroup.WithContext(gctx)
	for i := 0; i < s.SplitWorkers; i++ {
		splitGroup.Go(func() error {
			return s.split(sctx, tasks, writeCh)
		})
	}

	err := splitGroup.Wait()
	close(writeCh)
	if werr := g.Wait(); werr != nil && err == nil {
		err = werr
	}
	return err
}

// split is the split-stage worker: for add/update tasks it is a no-op
// pass-through here because indexer.AddOrUpdate itself runs the term
// pipeline (step 1); this stage exists as the concurrency boundary spec
// §4.5 names even though, in this Go port, step 1's CPU-bound work and
// the writer's step-8 store call are cleanly separated by channel
// handoff rather than by two different functions.
func (s *Scheduler) split(ctx context.Context, in <-chan Task, out chan<- Task) error {
	for {
		if s.closeShop.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task, ok := <-in:
			if !ok {
				return nil
			}
			if s.cancelled.Load() {
				continue
			}
			lock := s.udiLock(string(task.Doc.UDI))
			lock.Lock()
			select {
			case out <- task:
			case <-ctx.Done():
				lock.Unlock()
				return ctx.Err()
			}
			lock.Unlock()
		}
	}
}

// write is the single writer goroutine: the only mutator of the store
// and of the indexer's existence bitmap (spec §5 "Writer").
func (s *Scheduler) write(ctx context.Context, in <-chan Task) error {
	for task := range in {
		if s.closeShop.Load() {
			return nil
		}
		switch task.Op {
		case OpAddOrUpdate:
			if err := s.Indexer.AddOrUpdate(ctx, task.Doc); err != nil {
				s.Logger.WithFields(logrus.Fields{"udi": string(task.Doc.UDI), "task": task.ID, "err": err}).Warn("add_or_update failed")
			}
		case OpFlush:
			if err := s.Indexer.Store.Commit(ctx); err != nil {
				return fmt.Errorf("scheduler: flush commit: %w", err)
			}
		case OpDelete:
			// deletion by UDI resolves through the store's uniterm
			// postlist, mirroring NeedUpdate's lookup.
			pl, err := s.Indexer.Store.PostlistBegin(ctx, task.Doc.UDI.Uniterm())
			if err != nil {
				return fmt.Errorf("scheduler: delete lookup: %w", err)
			}
			if pl.Next() {
				if err := s.Indexer.Store.DeleteDocument(ctx, pl.DocID()); err != nil {
					return fmt.Errorf("scheduler: delete: %w", err)
				}
			}
		}
	}
	return nil
}

// ShardRouter decides, for a new (not-yet-indexed) UDI, which shard
// writer a split worker should hand its task to (spec §4.5 "Optional
// sharding": "a new document goes to a shard picked on first use by each
// worker; an update always goes to the main writer"). Each split worker
// owns one ShardRouter so the "first use" pick is per-worker, not global.
type ShardRouter struct {
	shardCount int
	assigned   map[string]int
	next       int
}

func NewShardRouter(shardCount int) *ShardRouter {
	return &ShardRouter{shardCount: shardCount, assigned: map[string]int{}}
}

// Route returns -1 (main writer) for an update, or a shard index [0,
// shardCount) for a new document, remembering the pick per-worker so a
// later update to the same UDI within this worker's lifetime would
// route consistently if ever needed.
func (r *ShardRouter) Route(udi string, isNew bool) int {
	if r.shardCount <= 0 || !isNew {
		return -1
	}
	if shard, ok := r.assigned[udi]; ok {
		return shard
	}
	shard := r.next % r.shardCount
	r.next++
	r.assigned[udi] = shard
	return shard
}
