package foreman

import (
	"fmt"

	"github.com/TheBitDrifter/bark"
	"github.com/gookit/slog"
	"golang.org/x/sync/errgroup"
)

const (
	maxJobsPerWorker = 16
	jobRowThreshold  = 256
)

// job is one unit of work: a row range within a system's flattened matched
// rows. Jobs are owned by a worker during dispatch; a system keeps its job
// list across frames and re-plans it when the schedule is invalidated or the
// row count changes.
type job struct {
	offset int
	limit  int
}

type jobBatch struct {
	sys   *colSystem
	jobs  []job
	delta float32
}

// workerThread owns a stage and drains job batches. When a system is invoked
// by a worker, its rows view carries the workerThread as the world handle, so
// mutations transparently land in the worker's stage.
type workerThread struct {
	magic uint32
	world *World
	stage *stage
	index int
	work  chan jobBatch
}

// SetThreads resizes the worker pool. 0 tears it down and runs everything
// inline.
func (w *World) SetThreads(count int) {
	if count == len(w.workers) {
		return
	}
	w.stopWorkers()
	if count <= 0 {
		return
	}
	w.group = new(errgroup.Group)
	for i := 0; i < count; i++ {
		worker := &workerThread{
			magic: threadMagic,
			world: w,
			stage: newStage(w, false),
			index: i,
			work:  make(chan jobBatch),
		}
		w.workers = append(w.workers, worker)
		w.group.Go(worker.run)
	}
	w.invalidateSchedule()
	slog.Debugf("worker pool started with %d threads", count)
}

// ThreadCount returns the current worker pool size.
func (w *World) ThreadCount() int { return len(w.workers) }

// stopWorkers signals all workers to quit and joins them. Workers finish
// their current batch; there is no mid-job cancellation.
func (w *World) stopWorkers() {
	if len(w.workers) == 0 {
		return
	}
	for _, worker := range w.workers {
		close(worker.work)
	}
	if err := w.group.Wait(); err != nil {
		slog.Errorf("worker pool shutdown: %v", err)
	}
	w.workers = nil
	w.group = nil
}

func (worker *workerThread) run() error {
	if worker.magic != threadMagic {
		panic(bark.AddTrace(fmt.Errorf("corrupt worker handle %d", worker.index)))
	}
	for batch := range worker.work {
		for _, j := range batch.jobs {
			worker.world.executeJob(worker, batch.sys, j, batch.delta)
		}
		worker.world.jobWG.Done()
	}
	return nil
}

// runPhase executes a phase's systems in entity-id order. Systems inside a
// phase are strictly sequential even in parallel mode; only a single system's
// rows are ever processed concurrently.
func (w *World) runPhase(systems []*colSystem, delta float32) {
	for _, sys := range systems {
		if len(w.workers) == 0 {
			w.progressSystem(w, sys, delta)
			continue
		}
		w.progressSystemParallel(sys, delta)
	}
}

func (w *World) progressSystemParallel(sys *colSystem, delta float32) {
	if !sys.enabled {
		return
	}
	runDelta, ok := periodGate(sys, delta)
	if !ok {
		return
	}

	total := 0
	for i := range sys.matched {
		total += sys.matched[i].table.Count()
	}
	// below the batching threshold, dispatch would dominate callback cost
	if total < jobRowThreshold {
		w.runSystemTables(w, sys, runDelta)
		return
	}

	if !w.validSchedule || len(sys.jobs) == 0 || scheduledRows(sys.jobs) != total {
		sys.jobs = partitionRows(total, len(w.workers))
	}

	batches := make([][]job, len(w.workers))
	for i, j := range sys.jobs {
		worker := i % len(w.workers)
		batches[worker] = append(batches[worker], j)
	}
	for i, worker := range w.workers {
		if len(batches[i]) == 0 {
			continue
		}
		w.jobWG.Add(1)
		worker.work <- jobBatch{sys: sys, jobs: batches[i], delta: runDelta}
	}
	w.jobWG.Wait()
}

func scheduledRows(jobs []job) int {
	total := 0
	for _, j := range jobs {
		total += j.limit
	}
	return total
}

// partitionRows splits a system's flattened row count into evenly sized jobs,
// at most maxJobsPerWorker per worker.
func partitionRows(total, workers int) []job {
	jobCount := (total + jobRowThreshold - 1) / jobRowThreshold
	if jobCount > workers*maxJobsPerWorker {
		jobCount = workers * maxJobsPerWorker
	}
	if jobCount < 1 {
		jobCount = 1
	}
	jobs := make([]job, 0, jobCount)
	rowsPerJob := total / jobCount
	remainder := total % jobCount
	offset := 0
	for i := 0; i < jobCount; i++ {
		limit := rowsPerJob
		if i < remainder {
			limit++
		}
		jobs = append(jobs, job{offset: offset, limit: limit})
		offset += limit
	}
	return jobs
}

// executeJob walks a system's active matched tables and invokes the callback
// for the chunk of each table that falls inside the job's row range.
func (w *World) executeJob(h Handle, sys *colSystem, j job, delta float32) {
	pos := 0
	end := j.offset + j.limit
	for i := range sys.matched {
		mt := &sys.matched[i]
		count := mt.table.Count()
		if pos+count > j.offset && pos < end {
			chunkStart := max(0, j.offset-pos)
			chunkEnd := min(count, end-pos)
			w.invokeSystem(h, sys, mt, chunkStart, chunkEnd-chunkStart, delta)
		}
		pos += count
		if pos >= end {
			break
		}
	}
}

// --- worker handle implementation (worker stage routing) ---

var _ Handle = &workerThread{}

// AsWorld returns the world behind the handle. A worker handle is really a
// (world, stage) pair.
func (t *workerThread) AsWorld() *World { return t.world }

func (t *workerThread) NewEntity() (EntityID, error) {
	return t.stage.stageNew(nil)
}

func (t *workerThread) NewEntityWith(comps ...EntityID) (EntityID, error) {
	return t.stage.stageNew(comps)
}

func (t *workerThread) Add(e EntityID, comps ...EntityID) error {
	return t.stage.stageAdd(e, comps...)
}

func (t *workerThread) Remove(e EntityID, comps ...EntityID) error {
	return t.stage.stageRemove(e, comps...)
}

func (t *workerThread) Set(e EntityID, comp EntityID, value []byte) error {
	return t.stage.stageSet(e, comp, value)
}

func (t *workerThread) Get(e EntityID, comp EntityID) ([]byte, error) {
	return t.stage.lookupStaged(e, comp)
}

func (t *workerThread) Has(e EntityID, comp EntityID) bool {
	typ, ok := t.stage.stagedType(e)
	return ok && t.world.types.contains(typ, comp)
}

func (t *workerThread) Delete(e EntityID) error {
	return t.stage.stageDelete(e)
}
