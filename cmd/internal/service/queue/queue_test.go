package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"cnpjconsulta/cmd/internal/domain/entity"
	"cnpjconsulta/cmd/internal/domain/sqlite/repository"
	"cnpjconsulta/cmd/internal/service/router"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	cnpjA = "11222333000181"
	cnpjB = "00000000000191"
)

func newTestRepo(t *testing.T) *repository.DefaultQueryRepository {
	repo, _ := newTestRepoDB(t)
	return repo
}

func newTestRepoDB(t *testing.T) (*repository.DefaultQueryRepository, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&entity.CNPJQuery{}, &entity.Company{}, &entity.CompanyPartner{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	return repository.NewQueryRepository(db), db
}

// stubRouter answers every Route call with a fixed outcome.
type stubRouter struct {
	mu      sync.Mutex
	company *entity.Company
	err     *router.Error
	calls   int
}

func (s *stubRouter) Route(ctx context.Context, cnpj string) (*entity.Company, *router.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	c := *s.company
	c.CNPJ = cnpj
	return &c, nil
}

func (s *stubRouter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testConfig() Config {
	return Config{
		MaxConcurrent:       2,
		MaxRetries:          2,
		MinInterval:         0,
		TotalLimitPerMinute: 11,
		RefillInterval:      time.Hour,
		ReaperInterval:      time.Hour,
		StuckThreshold:      3 * time.Minute,
		RetryBackoffBase:    5 * time.Millisecond,
	}
}

func waitForStatus(t *testing.T, repo *repository.DefaultQueryRepository, cnpj string, want entity.QueryStatus) *entity.CNPJQuery {
	t.Helper()

	var latest *entity.CNPJQuery
	require.Eventually(t, func() bool {
		row, err := repo.LatestByCNPJ(cnpj)
		if err != nil || row == nil {
			return false
		}
		latest = row
		return row.Status == want
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", cnpj, want)
	return latest
}

func TestEnqueueValidation(t *testing.T) {
	repo := newTestRepo(t)
	q := New(repo, &stubRouter{}, testConfig())

	ack, err := q.Enqueue("not a cnpj")
	require.NoError(t, err)
	assert.Equal(t, repository.AckInvalid, ack)
	assert.Equal(t, 0, q.Size())

	ack, err = q.Enqueue("11.222.333/0001-81")
	require.NoError(t, err)
	assert.Equal(t, repository.AckQueued, ack)
	assert.Equal(t, 1, q.Size())

	// Already held in memory: acknowledged but not pushed twice.
	ack, err = q.Enqueue(cnpjA)
	require.NoError(t, err)
	assert.Equal(t, repository.AckAlreadyPending, ack)
	assert.Equal(t, 1, q.Size())
}

func TestProcessesJobToCompletion(t *testing.T) {
	repo := newTestRepo(t)
	rt := &stubRouter{company: &entity.Company{LegalName: "ACME LTDA"}}
	q := New(repo, rt, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	_, err := q.Enqueue(cnpjA)
	require.NoError(t, err)
	_, err = q.Enqueue(cnpjB)
	require.NoError(t, err)

	waitForStatus(t, repo, cnpjA, entity.StatusCompleted)
	waitForStatus(t, repo, cnpjB, entity.StatusCompleted)
	assert.Equal(t, 2, rt.Calls())
	assert.Equal(t, 0, q.Size())
}

func TestNotFoundEndsAsError(t *testing.T) {
	repo := newTestRepo(t)
	rt := &stubRouter{err: &router.Error{Kind: router.ErrNotFound, Message: "CNPJ not found"}}
	q := New(repo, rt, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	_, err := q.Enqueue(cnpjA)
	require.NoError(t, err)

	latest := waitForStatus(t, repo, cnpjA, entity.StatusError)
	assert.Equal(t, "CNPJ not found", latest.ErrorMessage)
	assert.Equal(t, 0, latest.RetryCount)
	assert.Equal(t, 1, rt.Calls(), "definitive answers are not retried")
}

func TestRetriesThenGivesUpAsError(t *testing.T) {
	repo := newTestRepo(t)
	rt := &stubRouter{err: &router.Error{Kind: router.ErrAllProvidersFailed, Message: "all providers failed"}}
	q := New(repo, rt, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	_, err := q.Enqueue(cnpjA)
	require.NoError(t, err)

	latest := waitForStatus(t, repo, cnpjA, entity.StatusError)
	assert.Equal(t, 2, latest.RetryCount)
	assert.Equal(t, 3, rt.Calls(), "initial attempt plus two retries")
}

func TestProviderExhaustionEndsAsRateLimited(t *testing.T) {
	repo := newTestRepo(t)
	rt := &stubRouter{err: &router.Error{Kind: router.ErrNoProviderAvailable, Message: "no provider available"}}
	q := New(repo, rt, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	_, err := q.Enqueue(cnpjA)
	require.NoError(t, err)

	latest := waitForStatus(t, repo, cnpjA, entity.StatusRateLimited)
	assert.Equal(t, 2, latest.RetryCount)
}

func TestRefillNowDeduplicates(t *testing.T) {
	repo := newTestRepo(t)
	q := New(repo, &stubRouter{}, testConfig())

	_, err := q.Enqueue(cnpjA) // in memory and durable
	require.NoError(t, err)

	_, err = repo.Enqueue(cnpjB) // durable only, simulating a restart
	require.NoError(t, err)

	admitted := q.RefillNow(0)
	assert.Equal(t, 1, admitted, "only the row missing from memory is admitted")
	assert.Equal(t, 2, q.Size())
}

func TestReapOnceReadmitsStuckJobs(t *testing.T) {
	repo, db := newTestRepoDB(t)
	q := New(repo, &stubRouter{}, testConfig())

	_, err := repo.Enqueue(cnpjA)
	require.NoError(t, err)
	claimed, err := repo.Claim(cnpjA)
	require.NoError(t, err)
	require.True(t, claimed)

	// Backdate so the row crosses the stuck threshold.
	stale := time.Now().Add(-10 * time.Minute)
	require.NoError(t, db.Model(&entity.CNPJQuery{}).
		Where("cnpj = ?", cnpjA).
		UpdateColumn("updated_at", stale).Error)

	rescued := q.ReapOnce()
	assert.Equal(t, 1, rescued)
	assert.Equal(t, 1, q.Size())

	latest, err := repo.LatestByCNPJ(cnpjA)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusQueued, latest.Status)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	q := New(newTestRepo(t), &stubRouter{}, Config{RetryBackoffBase: time.Second})

	assert.Equal(t, time.Second, q.backoff(0))
	assert.Equal(t, 2*time.Second, q.backoff(1))
	assert.Equal(t, 4*time.Second, q.backoff(2))
	assert.Equal(t, 8*time.Second, q.backoff(3))
	assert.Equal(t, 8*time.Second, q.backoff(10))
}

func TestStopDrainsWorkers(t *testing.T) {
	repo := newTestRepo(t)
	rt := &stubRouter{company: &entity.Company{}}
	q := New(repo, rt, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	_, err := q.Enqueue(cnpjA)
	require.NoError(t, err)
	waitForStatus(t, repo, cnpjA, entity.StatusCompleted)

	done := make(chan struct{})
	go func() {
		q.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}
