// Package queue drives the enrichment pipeline: an in-memory FIFO of CNPJs
// backed by the durable job table, a bounded worker pool that claims, routes
// and commits each job, a refill task that pulls persisted queued rows back
// into memory, and a reaper that rescues jobs abandoned mid-processing.
package queue

import (
	"context"
	"sync"
	"time"

	"cnpjconsulta/cmd/internal/domain/entity"
	"cnpjconsulta/cmd/internal/domain/sqlite/repository"
	"cnpjconsulta/cmd/internal/service/router"
	"cnpjconsulta/cmd/internal/utils"

	"github.com/labstack/gommon/log"
)

// Store is the durable side of the queue, implemented by the query
// repository. Every call is its own transaction.
type Store interface {
	Enqueue(cnpj string) (repository.EnqueueAck, error)
	Claim(cnpj string) (bool, error)
	LatestByCNPJ(cnpj string) (*entity.CNPJQuery, error)
	MarkCompleted(cnpj string, company *entity.Company) error
	MarkError(cnpj, message string) error
	MarkRateLimited(cnpj, message string) error
	RequeueForRetry(cnpj string) (int, error)
	ResetStuck(threshold time.Duration) ([]string, error)
	LoadPending(limit int) ([]string, error)
}

type Router interface {
	Route(ctx context.Context, cnpj string) (*entity.Company, *router.Error)
}

type Config struct {
	MaxConcurrent int
	MaxRetries    int

	// MinInterval is the global pacing floor between route starts,
	// 60s / sum of provider limits.
	MinInterval time.Duration

	// TotalLimitPerMinute caps how full the in-memory queue is kept;
	// refill tops it up to twice this watermark.
	TotalLimitPerMinute int

	RefillInterval time.Duration
	ReaperInterval time.Duration
	StuckThreshold time.Duration

	// RetryBackoffBase scales the exponential re-enqueue backoff
	// (base * 2^retry, capped at 8 * base). Production leaves it at 1s.
	RetryBackoffBase time.Duration
}

type Queue struct {
	store Store
	rt    Router
	cfg   Config

	mu       sync.Mutex
	cond     *sync.Cond
	fifo     []string
	members  map[string]bool
	inFlight int
	stopped  bool

	paceMu    sync.Mutex
	nextStart time.Time

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New(store Store, rt Router, cfg Config) *Queue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = time.Second
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = 30 * time.Second
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = 60 * time.Second
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = 3 * time.Minute
	}

	q := &Queue{
		store:   store,
		rt:      rt,
		cfg:     cfg,
		members: make(map[string]bool),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the worker pool plus the refill and reaper tickers. It is
// idempotent; subsequent calls are no-ops.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		ctx, q.cancel = context.WithCancel(ctx)

		// Wake blocked workers when the context dies.
		go func() {
			<-ctx.Done()
			q.mu.Lock()
			q.stopped = true
			q.mu.Unlock()
			q.cond.Broadcast()
		}()

		for i := 0; i < q.cfg.MaxConcurrent; i++ {
			q.wg.Add(1)
			go q.worker(ctx, i)
		}

		q.wg.Add(1)
		go q.refillLoop(ctx)

		q.wg.Add(1)
		go q.reaperLoop(ctx)

		log.Infof("queue started: %d workers, min interval %s", q.cfg.MaxConcurrent, q.cfg.MinInterval)
	})
}

// Stop cancels all loops and waits for in-flight workers to reach a
// terminal status. Interrupted processing rows are healed by the reaper on
// the next boot.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.cond.Broadcast()
	q.wg.Wait()
	log.Info("queue stopped")
}

// Enqueue canonicalizes and durably records one CNPJ, admitting it to the
// in-memory queue only when the store accepted it as newly queued.
func (q *Queue) Enqueue(raw string) (repository.EnqueueAck, error) {
	cnpj, ok := utils.CanonicalizeCNPJ(raw)
	if !ok {
		return repository.AckInvalid, nil
	}

	ack, err := q.store.Enqueue(cnpj)
	if err != nil {
		return "", err
	}

	if ack == repository.AckQueued {
		q.admit(cnpj)
	}
	return ack, nil
}

// admit pushes a CNPJ to the FIFO unless it is already held in memory.
func (q *Queue) admit(cnpj string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.members[cnpj] {
		return
	}
	q.members[cnpj] = true
	q.fifo = append(q.fifo, cnpj)
	q.cond.Signal()
}

// readmit re-queues a CNPJ that is still a member (retry path).
func (q *Queue) readmit(cnpj string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.members[cnpj] = true
	q.fifo = append(q.fifo, cnpj)
	q.cond.Signal()
}

// release drops the CNPJ from the membership set once it reached a
// terminal status.
func (q *Queue) release(cnpj string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.members, cnpj)
}

// pop blocks until a CNPJ is available or the queue stops. Membership is
// kept while the job is in flight so duplicate admissions are ignored.
func (q *Queue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.fifo) == 0 && !q.stopped {
		q.cond.Wait()
	}
	if q.stopped {
		return "", false
	}

	cnpj := q.fifo[0]
	q.fifo = q.fifo[1:]
	q.inFlight++
	return cnpj, true
}

func (q *Queue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inFlight--
}

// Size reports the current in-memory backlog.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fifo)
}

func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// RefillNow loads persisted queued CNPJs into memory, deduplicated against
// the in-memory set. Returns how many were admitted. limit <= 0 loads all.
func (q *Queue) RefillNow(limit int) int {
	cnpjs, err := q.store.LoadPending(limit)
	if err != nil {
		log.Errorf("refill: failed to load pending jobs: %v", err)
		return 0
	}

	admitted := 0
	q.mu.Lock()
	for _, cnpj := range cnpjs {
		if q.members[cnpj] {
			continue
		}
		q.members[cnpj] = true
		q.fifo = append(q.fifo, cnpj)
		admitted++
	}
	if admitted > 0 {
		q.cond.Broadcast()
	}
	q.mu.Unlock()

	if admitted > 0 {
		log.Infof("refill: admitted %d pending jobs to memory", admitted)
	}
	return admitted
}

// ReapOnce rescues stuck processing rows and re-admits them. Returns how
// many rows were rescued.
func (q *Queue) ReapOnce() int {
	cnpjs, err := q.store.ResetStuck(q.cfg.StuckThreshold)
	if err != nil {
		log.Errorf("reaper: failed to reset stuck jobs: %v", err)
		return 0
	}

	for _, cnpj := range cnpjs {
		log.Warnf("reaper: job %s stuck in processing, re-queued", cnpj)
		q.admit(cnpj)
	}
	return len(cnpjs)
}

func (q *Queue) refillLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.RefillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			watermark := 2 * q.cfg.TotalLimitPerMinute
			if q.Size()+q.InFlight() < watermark {
				q.RefillNow(watermark)
			}
		}
	}
}

func (q *Queue) reaperLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.ReapOnce()
		}
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		cnpj, ok := q.pop()
		if !ok {
			return
		}
		q.process(ctx, cnpj)
		q.done()

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// pace enforces the global minimum interval between route starts by
// reserving the next start slot under a shared timestamp.
func (q *Queue) pace(ctx context.Context) bool {
	if q.cfg.MinInterval <= 0 {
		return true
	}

	q.paceMu.Lock()
	now := time.Now()
	if q.nextStart.Before(now) {
		q.nextStart = now
	}
	wait := q.nextStart.Sub(now)
	q.nextStart = q.nextStart.Add(q.cfg.MinInterval)
	q.paceMu.Unlock()

	if wait <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

func (q *Queue) process(ctx context.Context, cnpj string) {
	claimed, err := q.store.Claim(cnpj)
	if err != nil {
		log.Errorf("worker: failed to claim %s: %v", cnpj, err)
		q.readmit(cnpj)
		return
	}
	if !claimed {
		// Another worker owns it, or it already completed.
		q.release(cnpj)
		return
	}

	if !q.pace(ctx) {
		// Shutting down mid-claim; the reaper will re-queue this row.
		q.release(cnpj)
		return
	}

	company, rerr := q.rt.Route(ctx, cnpj)
	if rerr == nil {
		if err := q.store.MarkCompleted(cnpj, company); err != nil {
			log.Errorf("worker: failed to persist %s: %v", cnpj, err)
			q.readmit(cnpj)
			return
		}
		q.release(cnpj)
		return
	}

	switch rerr.Kind {
	case router.ErrNotFound, router.ErrInvalid:
		if err := q.store.MarkError(cnpj, rerr.Message); err != nil {
			log.Errorf("worker: failed to mark %s as error: %v", cnpj, err)
		}
		q.release(cnpj)

	case router.ErrNoProviderAvailable, router.ErrAllProvidersFailed:
		q.retryOrGiveUp(ctx, cnpj, rerr)
	}
}

// retryOrGiveUp re-queues a transiently failed job with exponential backoff
// while the retry budget lasts; past the budget, provider exhaustion ends
// as rate_limited and everything else as error.
func (q *Queue) retryOrGiveUp(ctx context.Context, cnpj string, rerr *router.Error) {
	latest, err := q.store.LatestByCNPJ(cnpj)
	if err != nil || latest == nil {
		log.Errorf("worker: failed to load job %s for retry decision: %v", cnpj, err)
		q.release(cnpj)
		return
	}

	if latest.RetryCount >= q.cfg.MaxRetries {
		if rerr.Kind == router.ErrNoProviderAvailable {
			_ = q.store.MarkRateLimited(cnpj, rerr.Message)
		} else {
			_ = q.store.MarkError(cnpj, rerr.Message)
		}
		log.Warnf("worker: job %s exhausted %d retries: %s", cnpj, latest.RetryCount, rerr.Message)
		q.release(cnpj)
		return
	}

	count, err := q.store.RequeueForRetry(cnpj)
	if err != nil {
		log.Errorf("worker: failed to re-queue %s: %v", cnpj, err)
		q.release(cnpj)
		return
	}

	backoff := q.backoff(count)
	log.Infof("worker: job %s re-queued for retry %d/%d in %s", cnpj, count, q.cfg.MaxRetries, backoff)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
			q.readmit(cnpj)
		}
	}()
}

func (q *Queue) backoff(retry int) time.Duration {
	backoff := q.cfg.RetryBackoffBase
	for i := 0; i < retry; i++ {
		backoff *= 2
	}
	if max := 8 * q.cfg.RetryBackoffBase; backoff > max {
		backoff = max
	}
	return backoff
}
