package cnpjws

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

// Client queries the public (unauthenticated) tier of cnpj.ws.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		baseURL:    "https://publica.cnpj.ws/cnpj",
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string {
	return config.ProviderCNPJWS
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
	case resp.StatusCode == http.StatusNotFound:
		return provider.NotFound()
	case resp.StatusCode == http.StatusTooManyRequests:
		return provider.RateLimited()
	case resp.StatusCode >= 500:
		return provider.Transient(fmt.Errorf("cnpj.ws failed with status code: %d", resp.StatusCode))
	default:
		return provider.Invalid(fmt.Errorf("cnpj.ws rejected the request with status code: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.Transient(err)
	}

	var company companyResponse
	if err := json.Unmarshal(body, &company); err != nil {
		return provider.Transient(err)
	}
	return provider.OK(company.ToDomain(string(body)))
}
