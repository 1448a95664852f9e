package receitaws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cnpjconsulta/cmd/internal/infrastructure/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okBody = `{
	"status": "OK",
	"cnpj": "11.222.333/0001-81",
	"nome": "ACME COMERCIO LTDA",
	"fantasia": "ACME",
	"natureza_juridica": "206-2 - Sociedade Empresária Limitada",
	"porte": "ME",
	"abertura": "01/02/2010",
	"capital_social": "150000.00",
	"situacao": "ATIVA",
	"data_situacao": "01/02/2010",
	"logradouro": "RUA DAS FLORES",
	"numero": "100",
	"bairro": "CENTRO",
	"municipio": "SAO PAULO",
	"uf": "SP",
	"cep": "01.001-000",
	"email": "contato@acme.com.br",
	"telefone": "(11) 3333-4444",
	"atividade_principal": [{"code": "47.11-3-02", "text": "Comércio varejista"}],
	"simples": {"optante": true, "data_opcao": "2015-01-01"},
	"qsa": [{"nome": "JOAO DA SILVA", "qual": "49-Sócio-Administrador"}]
}`

func newServerClient(handler http.HandlerFunc) (*httptest.Server, *Client) {
	server := httptest.NewServer(handler)
	client := NewClient(5 * time.Second)
	client.baseURL = server.URL
	return server, client
}

func TestQueryParsesCompany(t *testing.T) {
	server, client := newServerClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/11222333000181", r.URL.Path)
		w.Write([]byte(okBody))
	})
	defer server.Close()

	outcome := client.Query(context.Background(), "11222333000181")
	require.Equal(t, provider.KindOK, outcome.Kind)

	company := outcome.Company
	assert.Equal(t, "11222333000181", company.CNPJ)
	assert.Equal(t, "ACME COMERCIO LTDA", company.LegalName)
	assert.Equal(t, int64(150000), company.ShareCapital)
	assert.Equal(t, "01001000", company.AddressZipCode)
	assert.Equal(t, "47.11-3-02", company.MainActivityCode)
	assert.True(t, company.SimplesNacional)
	require.Len(t, company.Partners, 1)
	assert.Equal(t, "JOAO DA SILVA", company.Partners[0].Name)
	assert.Equal(t, okBody, company.RawData)
}

func TestQueryErrorBodyMeansNotFound(t *testing.T) {
	server, client := newServerClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ERROR", "message": "CNPJ inválido"}`))
	})
	defer server.Close()

	outcome := client.Query(context.Background(), "11222333000181")
	assert.Equal(t, provider.KindNotFound, outcome.Kind)
}

func TestQueryStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   provider.Kind
	}{
		{http.StatusNotFound, provider.KindNotFound},
		{http.StatusTooManyRequests, provider.KindRateLimited},
		{http.StatusInternalServerError, provider.KindTransient},
		{http.StatusGatewayTimeout, provider.KindTransient},
		{http.StatusBadRequest, provider.KindInvalid},
	}

	for _, c := range cases {
		server, client := newServerClient(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(c.status)
		})

		outcome := client.Query(context.Background(), "11222333000181")
		assert.Equal(t, c.want, outcome.Kind, "status %d", c.status)
		server.Close()
	}
}

func TestQueryNetworkFailureIsTransient(t *testing.T) {
	server, client := newServerClient(func(w http.ResponseWriter, r *http.Request) {})
	server.Close() // refuse connections

	outcome := client.Query(context.Background(), "11222333000181")
	assert.Equal(t, provider.KindTransient, outcome.Kind)
	assert.Error(t, outcome.Err)
}

func TestParseCapital(t *testing.T) {
	assert.Equal(t, int64(150000), parseCapital("150000.00"))
	assert.Equal(t, int64(0), parseCapital(""))
	assert.Equal(t, int64(0), parseCapital("abc"))
	assert.Equal(t, int64(42), parseCapital("42"))
}
