package receitaws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"cnpjconsulta/cmd/internal/config"
	"cnpjconsulta/cmd/internal/infrastructure/provider"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		baseURL:    "https://receitaws.com.br/v1/cnpj",
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string {
	return config.ProviderReceitaWS
}

func (c *Client) Query(ctx context.Context, cnpj string) provider.Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+cnpj, nil)
	if err != nil {
		return provider.Transient(err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provider.Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fallthrough to body handling below
	case resp.StatusCode == http.StatusNotFound:
		return provider.NotFound()
	case resp.StatusCode == http.StatusTooManyRequests:
		return provider.RateLimited()
	case resp.StatusCode >= 500:
		// ReceitaWS answers 504 when the CNPJ is missing from its mirror;
		// treat it like every other 5xx and let another provider try.
		return provider.Transient(fmt.Errorf("receitaws failed with status code: %d", resp.StatusCode))
	default:
		return provider.Invalid(fmt.Errorf("receitaws rejected the request with status code: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.Transient(err)
	}

	var company companyResponse
	if err := json.Unmarshal(body, &company); err != nil {
		return provider.Transient(err)
	}

	// ReceitaWS reports missing CNPJs inside a 200 body.
	if company.Status == "ERROR" {
		return provider.NotFound()
	}

	return provider.OK(company.ToDomain(string(body)))
}
