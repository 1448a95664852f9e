package service

import (
	"context"
	"testing"
	"time"

	"cnpjconsulta/cmd/internal/contract"
	"cnpjconsulta/cmd/internal/domain/entity"
	"cnpjconsulta/cmd/internal/domain/sqlite/repository"
	"cnpjconsulta/cmd/internal/service/queue"
	"cnpjconsulta/cmd/internal/service/ratelimit"
	"cnpjconsulta/cmd/internal/service/router"
	"cnpjconsulta/cmd/internal/utils/validators"

	"github.com/glebarez/sqlite"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	cnpjA = "11222333000181"
	cnpjB = "00000000000191"
)

type noopRouter struct{}

func (noopRouter) Route(ctx context.Context, cnpj string) (*entity.Company, *router.Error) {
	return &entity.Company{CNPJ: cnpj}, nil
}

type supervisorFixture struct {
	sup         *Supervisor
	queryRepo   *repository.DefaultQueryRepository
	companyRepo *repository.DefaultCompanyRepository
}

func newFixture(t *testing.T) *supervisorFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&entity.CNPJQuery{}, &entity.Company{}, &entity.CompanyPartner{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	queryRepo := repository.NewQueryRepository(db)
	companyRepo := repository.NewCompanyRepository(db)

	q := queue.New(queryRepo, noopRouter{}, queue.Config{
		MaxConcurrent:  1,
		MaxRetries:     1,
		RefillInterval: time.Hour,
		ReaperInterval: time.Hour,
	})

	limiter := ratelimit.NewAdaptiveRateLimiter(ratelimit.Options{
		SafetyFactorLow:  0.7,
		SafetyFactorHigh: 0.8,
		SafetyThreshold:  3,
		CooldownBase:     time.Minute,
		CooldownMax:      5 * time.Minute,
	})
	limiter.Register("receitaws", 3)

	validate := validator.New()
	require.NoError(t, validate.RegisterValidation("cnpj", validators.CNPJ))

	return &supervisorFixture{
		sup:         NewSupervisor(q, queryRepo, companyRepo, limiter, validate, true),
		queryRepo:   queryRepo,
		companyRepo: companyRepo,
	}
}

func TestSubmitMixedBatch(t *testing.T) {
	f := newFixture(t)

	batch, apierr := f.sup.Submit(&contract.CNPJUploadRequest{
		CNPJs: []string{"11.222.333/0001-81", cnpjA, "garbage", cnpjB},
	})
	require.Nil(t, apierr)

	assert.NotEmpty(t, batch.BatchID)
	assert.Equal(t, 2, batch.Queued)
	assert.Equal(t, 1, batch.AlreadyPending, "same CNPJ twice in one batch")
	assert.Equal(t, 1, batch.Invalid)
	require.Len(t, batch.Results, 4)
	assert.Equal(t, "queued", batch.Results[0].Status)
	assert.Equal(t, "already_pending", batch.Results[1].Status)
	assert.Equal(t, "invalid", batch.Results[2].Status)
}

func TestSubmitRejectsAllInvalid(t *testing.T) {
	f := newFixture(t)

	_, apierr := f.sup.Submit(&contract.CNPJUploadRequest{CNPJs: []string{"abc", "123"}})
	require.NotNil(t, apierr)
	assert.Equal(t, 400, apierr.Code())
}

func TestSubmitRejectsEmptyBatch(t *testing.T) {
	f := newFixture(t)

	_, apierr := f.sup.Submit(&contract.CNPJUploadRequest{})
	require.NotNil(t, apierr)
	assert.Equal(t, 400, apierr.Code())
}

func TestStatusSnapshot(t *testing.T) {
	f := newFixture(t)

	_, apierr := f.sup.Submit(&contract.CNPJUploadRequest{CNPJs: []string{cnpjA, cnpjB}})
	require.Nil(t, apierr)

	status, apierr := f.sup.StatusSnapshot()
	require.Nil(t, apierr)

	assert.Equal(t, int64(2), status.Total)
	assert.Equal(t, int64(2), status.Queued)
	assert.Equal(t, 2, status.InMemory)
	require.Len(t, status.Recent, 2)
	assert.Equal(t, "queued", status.Recent[0].Status)
}

func TestStatusForCNPJs(t *testing.T) {
	f := newFixture(t)

	_, apierr := f.sup.Submit(&contract.CNPJUploadRequest{CNPJs: []string{cnpjA}})
	require.Nil(t, apierr)

	statuses, apierr := f.sup.StatusForCNPJs([]string{cnpjA, cnpjB, "junk"})
	require.Nil(t, apierr)
	require.Len(t, statuses, 3)
	assert.Equal(t, "queued", statuses[0].Status)
	assert.Equal(t, "unknown", statuses[1].Status)
	assert.Equal(t, "invalid", statuses[2].Status)
}

func TestGetCompany(t *testing.T) {
	f := newFixture(t)

	_, apierr := f.sup.GetCompany("not-a-cnpj")
	require.NotNil(t, apierr)
	assert.Equal(t, 400, apierr.Code())

	_, apierr = f.sup.GetCompany(cnpjA)
	require.NotNil(t, apierr)
	assert.Equal(t, 404, apierr.Code())

	require.NoError(t, f.companyRepo.Save(&entity.Company{
		CNPJ:          cnpjA,
		LegalName:     "ACME LTDA",
		AddressCity:   "SAO PAULO",
		AddressState:  "SP",
		ProviderName:  "receitaws",
		LastQueriedAt: 1717243200000,
		Partners: []*entity.CompanyPartner{
			{Name: "JOAO DA SILVA", Role: "Administrador"},
		},
	}))

	// Formatted input resolves to the same record.
	company, apierr := f.sup.GetCompany("11.222.333/0001-81")
	require.Nil(t, apierr)
	assert.Equal(t, "ACME LTDA", company.LegalName)
	require.NotNil(t, company.Address)
	assert.Equal(t, "SAO PAULO", company.Address.City)
	require.Len(t, company.Partners, 1)
	assert.NotEmpty(t, company.LastQueriedAt)
}

func TestRestartQueueLoadsBacklog(t *testing.T) {
	f := newFixture(t)

	// Persisted but not in memory, as after a crash.
	_, err := f.queryRepo.Enqueue(cnpjA)
	require.NoError(t, err)

	result, apierr := f.sup.RestartQueue()
	require.Nil(t, apierr)
	assert.True(t, result.Restarted)
	assert.Equal(t, 1, result.LoadedCount)
	assert.Equal(t, 1, f.sup.Queue.Size())
}

func TestRestartQueueResumesRateLimited(t *testing.T) {
	f := newFixture(t)

	_, err := f.queryRepo.Enqueue(cnpjA)
	require.NoError(t, err)
	claimed, err := f.queryRepo.Claim(cnpjA)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, f.queryRepo.MarkRateLimited(cnpjA, "no provider available"))

	result, apierr := f.sup.RestartQueue()
	require.Nil(t, apierr)
	assert.Equal(t, int64(1), result.ResumedJobs)
	assert.Equal(t, 1, result.LoadedCount)
}

func TestCleanupDuplicates(t *testing.T) {
	f := newFixture(t)

	_, err := f.queryRepo.Enqueue(cnpjA)
	require.NoError(t, err)

	result, apierr := f.sup.CleanupDuplicates()
	require.Nil(t, apierr)
	assert.Equal(t, int64(0), result.RemovedJobRecords)
	assert.Equal(t, int64(0), result.RemovedPartnerRecords)
}

func TestAPIStatus(t *testing.T) {
	f := newFixture(t)

	statuses, apierr := f.sup.APIStatus()
	require.Nil(t, apierr)
	require.Len(t, statuses, 1)
	assert.Equal(t, "receitaws", statuses[0].Name)
	assert.Equal(t, 3, statuses[0].LimitPerMinute)
}
