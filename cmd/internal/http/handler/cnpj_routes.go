package handler

import (
	"net/http"
	"strings"

	"cnpjconsulta/cmd/internal/contract"
	"cnpjconsulta/cmd/internal/service/ratelimit"
	"cnpjconsulta/cmd/internal/utils/apierror"

	"github.com/labstack/echo/v4"
)

type CNPJService interface {
	Submit(req *contract.CNPJUploadRequest) (*contract.BatchSubmission, apierror.ErrorResponse)
	StatusSnapshot() (*contract.BatchStatus, apierror.ErrorResponse)
	StatusForCNPJs(cnpjs []string) ([]contract.CNPJStatus, apierror.ErrorResponse)
	GetCompany(cnpj string) (*contract.CompanyResponse, apierror.ErrorResponse)
	RestartQueue() (*contract.RestartResult, apierror.ErrorResponse)
	CleanupDuplicates() (*contract.CleanupResult, apierror.ErrorResponse)
	APIStatus() ([]ratelimit.ProviderStatus, apierror.ErrorResponse)
}

type DefaultCNPJRoute struct {
	CNPJService CNPJService
}

func NewCNPJDefault(cnpjService CNPJService) *DefaultCNPJRoute {
	return &DefaultCNPJRoute{CNPJService: cnpjService}
}

func (r *DefaultCNPJRoute) UploadCNPJs(c echo.Context) error {
	var req contract.CNPJUploadRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apierror.MalformedJSONError)
	}

	batch, apierr := r.CNPJService.Submit(&req)
	if apierr != nil {
		return c.JSON(apierr.Code(), apierr)
	}
	return c.JSON(http.StatusAccepted, batch)
}

// GetStatus returns the whole-queue snapshot, or per-CNPJ statuses when a
// comma-separated "cnpjs" query parameter is present.
func (r *DefaultCNPJRoute) GetStatus(c echo.Context) error {
	if raw := c.QueryParam("cnpjs"); raw != "" {
		statuses, apierr := r.CNPJService.StatusForCNPJs(strings.Split(raw, ","))
		if apierr != nil {
			return c.JSON(apierr.Code(), apierr)
		}
		resp := echo.Map{"statuses": statuses}
		return c.JSON(http.StatusOK, &resp)
	}

	status, apierr := r.CNPJService.StatusSnapshot()
	if apierr != nil {
		return c.JSON(apierr.Code(), apierr)
	}
	return c.JSON(http.StatusOK, status)
}

func (r *DefaultCNPJRoute) GetCompany(c echo.Context) error {
	company, apierr := r.CNPJService.GetCompany(c.Param("cnpj"))
	if apierr != nil {
		return c.JSON(apierr.Code(), apierr)
	}
	return c.JSON(http.StatusOK, company)
}

func (r *DefaultCNPJRoute) RestartQueue(c echo.Context) error {
	result, apierr := r.CNPJService.RestartQueue()
	if apierr != nil {
		return c.JSON(apierr.Code(), apierr)
	}
	return c.JSON(http.StatusOK, result)
}

func (r *DefaultCNPJRoute) CleanDuplicates(c echo.Context) error {
	result, apierr := r.CNPJService.CleanupDuplicates()
	if apierr != nil {
		return c.JSON(apierr.Code(), apierr)
	}
	return c.JSON(http.StatusOK, result)
}

func (r *DefaultCNPJRoute) GetAPIStatus(c echo.Context) error {
	statuses, apierr := r.CNPJService.APIStatus()
	if apierr != nil {
		return c.JSON(apierr.Code(), apierr)
	}

	resp := echo.Map{"providers": statuses}
	return c.JSON(http.StatusOK, &resp)
}
