// Package service hosts the supervisor, the application facade between the
// HTTP layer and the queue, repositories and rate limiter.
package service

import (
	"context"
	"time"

	"cnpjconsulta/cmd/internal/contract"
	"cnpjconsulta/cmd/internal/domain/entity"
	"cnpjconsulta/cmd/internal/domain/sqlite/repository"
	"cnpjconsulta/cmd/internal/service/queue"
	"cnpjconsulta/cmd/internal/service/ratelimit"
	"cnpjconsulta/cmd/internal/utils"
	"cnpjconsulta/cmd/internal/utils/apierror"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/gommon/log"
)

type QueryRepository interface {
	CountByStatus() (map[entity.QueryStatus]int64, error)
	ListRecent(limit int) ([]entity.CNPJQuery, error)
	LatestByCNPJ(cnpj string) (*entity.CNPJQuery, error)
	RequeueRateLimited() (int64, error)
	RemoveDuplicateQueries() (int64, error)
}

type CompanyRepository interface {
	FindByCNPJ(cnpj string) (*entity.Company, error)
	RemoveDuplicatePartners() (int64, error)
}

// Supervisor ties the queue lifecycle to the API operations. It owns queue
// startup (including the boot-time reap and pending reload) and shutdown.
type Supervisor struct {
	Queue       *queue.Queue
	QueryRepo   QueryRepository
	CompanyRepo CompanyRepository
	Limiter     *ratelimit.AdaptiveRateLimiter
	Validate    *validator.Validate

	AutoRestartQueue bool
}

func NewSupervisor(
	q *queue.Queue,
	queryRepo QueryRepository,
	companyRepo CompanyRepository,
	limiter *ratelimit.AdaptiveRateLimiter,
	validate *validator.Validate,
	autoRestart bool,
) *Supervisor {
	return &Supervisor{
		Queue:            q,
		QueryRepo:        queryRepo,
		CompanyRepo:      companyRepo,
		Limiter:          limiter,
		Validate:         validate,
		AutoRestartQueue: autoRestart,
	}
}

// Start boots the pipeline: rescue rows stuck from a previous run, reload
// the persisted backlog when auto-restart is on, then launch the workers.
func (s *Supervisor) Start(ctx context.Context) {
	rescued := s.Queue.ReapOnce()
	if rescued > 0 {
		log.Infof("startup: rescued %d jobs stuck from a previous run", rescued)
	}

	if s.AutoRestartQueue {
		loaded := s.Queue.RefillNow(0)
		log.Infof("startup: reloaded %d pending jobs from the database", loaded)
	}

	s.Queue.Start(ctx)
}

func (s *Supervisor) Stop() {
	s.Queue.Stop()
}

// Submit validates and enqueues a batch of CNPJs, answering with a per-CNPJ
// ack. The whole batch is rejected only when no entry is a valid CNPJ.
func (s *Supervisor) Submit(req *contract.CNPJUploadRequest) (*contract.BatchSubmission, apierror.ErrorResponse) {
	if valerr := s.Validate.Struct(req); valerr != nil {
		return nil, apierror.FromValidationError(valerr)
	}

	batch := &contract.BatchSubmission{
		BatchID: uuid.NewString(),
		Results: make([]contract.SubmissionAck, 0, len(req.CNPJs)),
	}

	for _, raw := range req.CNPJs {
		ack, err := s.Queue.Enqueue(raw)
		if err != nil {
			log.Errorf("failed to enqueue %q: %v", raw, err)
			return nil, apierror.InternalServerError
		}

		switch ack {
		case repository.AckQueued:
			batch.Queued++
		case repository.AckAlreadyPending:
			batch.AlreadyPending++
		case repository.AckAlreadyDone:
			batch.AlreadyDone++
		case repository.AckInvalid:
			batch.Invalid++
		}
		batch.Results = append(batch.Results, contract.SubmissionAck{
			CNPJ:   raw,
			Status: string(ack),
		})
	}

	if batch.Invalid == len(req.CNPJs) {
		return nil, apierror.NoValidCNPJError
	}

	log.Infof("batch %s submitted: %d queued, %d pending, %d done, %d invalid",
		batch.BatchID, batch.Queued, batch.AlreadyPending, batch.AlreadyDone, batch.Invalid)
	return batch, nil
}

// StatusSnapshot aggregates job counts plus the most recently touched rows.
func (s *Supervisor) StatusSnapshot() (*contract.BatchStatus, apierror.ErrorResponse) {
	counts, err := s.QueryRepo.CountByStatus()
	if err != nil {
		log.Errorf("failed to count jobs by status: %v", err)
		return nil, apierror.InternalServerError
	}

	recent, err := s.QueryRepo.ListRecent(100)
	if err != nil {
		log.Errorf("failed to list recent jobs: %v", err)
		return nil, apierror.InternalServerError
	}

	status := &contract.BatchStatus{
		Queued:      counts[entity.StatusQueued],
		Processing:  counts[entity.StatusProcessing],
		Completed:   counts[entity.StatusCompleted],
		Error:       counts[entity.StatusError],
		RateLimited: counts[entity.StatusRateLimited],
		InMemory:    s.Queue.Size(),
		InFlight:    s.Queue.InFlight(),
		Recent:      make([]contract.CNPJStatus, 0, len(recent)),
	}
	for _, total := range counts {
		status.Total += total
	}

	for _, row := range recent {
		status.Recent = append(status.Recent, toCNPJStatus(&row))
	}
	return status, nil
}

// StatusForCNPJs answers the status of specific CNPJs instead of the whole
// queue. CNPJs never submitted come back as "unknown", malformed ones as
// "invalid".
func (s *Supervisor) StatusForCNPJs(raws []string) ([]contract.CNPJStatus, apierror.ErrorResponse) {
	statuses := make([]contract.CNPJStatus, 0, len(raws))
	for _, raw := range raws {
		cnpj, ok := utils.CanonicalizeCNPJ(raw)
		if !ok {
			statuses = append(statuses, contract.CNPJStatus{CNPJ: raw, Status: "invalid"})
			continue
		}

		latest, err := s.QueryRepo.LatestByCNPJ(cnpj)
		if err != nil {
			log.Errorf("failed to fetch status of %s: %v", cnpj, err)
			return nil, apierror.InternalServerError
		}
		if latest == nil {
			statuses = append(statuses, contract.CNPJStatus{CNPJ: cnpj, Status: "unknown"})
			continue
		}
		statuses = append(statuses, toCNPJStatus(latest))
	}
	return statuses, nil
}

// GetCompany fetches the enriched record for one CNPJ.
func (s *Supervisor) GetCompany(rawCNPJ string) (*contract.CompanyResponse, apierror.ErrorResponse) {
	if err := s.Validate.Var(rawCNPJ, "cnpj"); err != nil {
		return nil, apierror.InvalidCNPJError
	}
	cnpj, _ := utils.CanonicalizeCNPJ(rawCNPJ)

	company, err := s.CompanyRepo.FindByCNPJ(cnpj)
	if err != nil {
		log.Errorf("failed to fetch company %s: %v", cnpj, err)
		return nil, apierror.InternalServerError
	}
	if company == nil {
		return nil, apierror.CompanyNotFoundError
	}
	return toCompanyResponse(company), nil
}

// RestartQueue rescues stuck rows, resumes rate-limited jobs and reloads
// the full persisted backlog. Idempotent.
func (s *Supervisor) RestartQueue() (*contract.RestartResult, apierror.ErrorResponse) {
	rescued := s.Queue.ReapOnce()

	resumed, err := s.QueryRepo.RequeueRateLimited()
	if err != nil {
		log.Errorf("failed to re-queue rate-limited jobs: %v", err)
		return nil, apierror.InternalServerError
	}

	loaded := s.Queue.RefillNow(0)

	log.Infof("queue restart: %d stuck rescued, %d rate-limited resumed, %d pending loaded",
		rescued, resumed, loaded)
	return &contract.RestartResult{
		Restarted:   true,
		RescuedJobs: rescued,
		ResumedJobs: resumed,
		LoadedCount: loaded,
	}, nil
}

// CleanupDuplicates prunes redundant job rows and partner rows.
func (s *Supervisor) CleanupDuplicates() (*contract.CleanupResult, apierror.ErrorResponse) {
	jobs, err := s.QueryRepo.RemoveDuplicateQueries()
	if err != nil {
		log.Errorf("failed to remove duplicate job rows: %v", err)
		return nil, apierror.InternalServerError
	}

	partners, err := s.CompanyRepo.RemoveDuplicatePartners()
	if err != nil {
		log.Errorf("failed to remove duplicate partner rows: %v", err)
		return nil, apierror.InternalServerError
	}

	log.Infof("cleanup: removed %d job rows and %d partner rows", jobs, partners)
	return &contract.CleanupResult{
		RemovedJobRecords:     jobs,
		RemovedPartnerRecords: partners,
	}, nil
}

// APIStatus exposes the live rate-limiter state per provider.
func (s *Supervisor) APIStatus() ([]ratelimit.ProviderStatus, apierror.ErrorResponse) {
	return s.Limiter.Status(), nil
}

func toCNPJStatus(row *entity.CNPJQuery) contract.CNPJStatus {
	return contract.CNPJStatus{
		CNPJ:         row.CNPJ,
		Status:       string(row.Status),
		ErrorMessage: row.ErrorMessage,
		RetryCount:   row.RetryCount,
		CreatedAt:    row.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    row.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toCompanyResponse(company *entity.Company) *contract.CompanyResponse {
	resp := &contract.CompanyResponse{
		CNPJ:              company.CNPJ,
		LegalName:         company.LegalName,
		TradeName:         company.TradeName,
		LegalNature:       company.LegalNature,
		CompanySize:       company.CompanySize,
		BusinessStartDate: company.BusinessStartDate,
		ShareCapital:      company.ShareCapital,
		RegStatus:         company.RegStatus,
		RegStatusDate:     company.RegStatusDate,

		Email: company.Email,
		Phone: company.Phone,

		MainActivityCode: company.MainActivityCode,
		MainActivityText: company.MainActivityText,

		SimplesNacional:      company.SimplesNacional,
		SimplesNacionalSince: company.SimplesNacionalSince,

		Partners: make([]*contract.PartnerResponse, 0, len(company.Partners)),

		ProviderName: company.ProviderName,
	}

	if company.LastQueriedAt > 0 {
		resp.LastQueriedAt = utils.FormatEpoch(company.LastQueriedAt)
	}

	if company.AddressStreet != "" || company.AddressCity != "" || company.AddressZipCode != "" {
		resp.Address = &contract.AddressResponse{
			Street:       company.AddressStreet,
			Number:       company.AddressNumber,
			Details:      company.AddressDetails,
			Neighborhood: company.AddressNeighborhood,
			City:         company.AddressCity,
			State:        company.AddressState,
			ZipCode:      company.AddressZipCode,
		}
	}

	for _, p := range company.Partners {
		resp.Partners = append(resp.Partners, &contract.PartnerResponse{
			Name:     p.Name,
			Role:     p.Role,
			RoleCode: p.RoleCode,
			AgeRange: p.AgeRange,
		})
	}
	return resp
}
