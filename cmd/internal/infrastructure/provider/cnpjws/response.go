package cnpjws

import (
	"strconv"
	"strings"

	"cnpjconsulta/cmd/internal/config"
	"cnpjconsulta/cmd/internal/domain/entity"
	"cnpjconsulta/cmd/internal/utils"
)

// cnpj.ws nests most establishment data under "estabelecimento" and wraps
// lookups (nature, size, city) in code/description objects.
type companyResponse struct {
	LegalName    string             `json:"razao_social"`
	ShareCapital string             `json:"capital_social"`
	LegalNature  *describedResponse `json:"natureza_juridica"`
	CompanySize  *describedResponse `json:"porte"`
	Simples      *simplesResponse   `json:"simples"`
	Office       *officeResponse    `json:"estabelecimento"`
	Partners     []*partnerResponse `json:"socios"`
}

type describedResponse struct {
	Description string `json:"descricao"`
}

type simplesResponse struct {
	Optant string `json:"simples"`
	Since  string `json:"data_opcao_simples"`
}

type officeResponse struct {
	TradeName          string `json:"nome_fantasia"`
	BusinessStartDate  string `json:"data_inicio_atividade"`
	RegistrationStatus string `json:"situacao_cadastral"`
	RegistrationDate   string `json:"data_situacao_cadastral"`

	AddressType         string `json:"tipo_logradouro"`
	AddressStreetName   string `json:"logradouro"`
	AddressNumber       string `json:"numero"`
	AddressDetails      string `json:"complemento"`
	AddressNeighborhood string `json:"bairro"`
	AddressZipCode      string `json:"cep"`
	City                *struct {
		Name string `json:"nome"`
	} `json:"cidade"`
	State *struct {
		Initials string `json:"sigla"`
	} `json:"estado"`

	Email        string `json:"email"`
	PhoneArea    string `json:"ddd1"`
	PhoneNumber  string `json:"telefone1"`
	MainActivity *struct {
		Code        string `json:"subclasse"`
		Description string `json:"descricao"`
	} `json:"atividade_principal"`
}

type partnerResponse struct {
	Name     string             `json:"nome"`
	AgeRange string             `json:"faixa_etaria"`
	Role     *describedResponse `json:"qualificacao_socio"`
}

func (c *companyResponse) ToDomain(raw string) *entity.Company {
	var partners []*entity.CompanyPartner
	for _, p := range c.Partners {
		partner := &entity.CompanyPartner{
			Name:     p.Name,
			AgeRange: p.AgeRange,
		}
		if p.Role != nil {
			partner.Role = p.Role.Description
		}
		partners = append(partners, partner)
	}

	company := &entity.Company{
		LegalName:    c.LegalName,
		ShareCapital: parseCapital(c.ShareCapital),

		ProviderName:  config.ProviderCNPJWS,
		RawData:       raw,
		LastQueriedAt: utils.NowUTC(),
		Partners:      partners,
	}

	if c.LegalNature != nil {
		company.LegalNature = c.LegalNature.Description
	}
	if c.CompanySize != nil {
		company.CompanySize = c.CompanySize.Description
	}
	if c.Simples != nil {
		company.SimplesNacional = strings.EqualFold(c.Simples.Optant, "sim")
		company.SimplesNacionalSince = c.Simples.Since
	}

	if office := c.Office; office != nil {
		company.TradeName = office.TradeName
		company.BusinessStartDate = office.BusinessStartDate
		company.RegStatus = office.RegistrationStatus
		company.RegStatusDate = office.RegistrationDate

		street := office.AddressStreetName
		if office.AddressType != "" {
			street = strings.TrimSpace(office.AddressType + " " + street)
		}
		company.AddressStreet = street
		company.AddressNumber = office.AddressNumber
		company.AddressDetails = office.AddressDetails
		company.AddressNeighborhood = office.AddressNeighborhood
		company.AddressZipCode = office.AddressZipCode
		if office.City != nil {
			company.AddressCity = office.City.Name
		}
		if office.State != nil {
			company.AddressState = office.State.Initials
		}

		company.Email = office.Email
		if office.PhoneNumber != "" {
			company.Phone = strings.TrimSpace(office.PhoneArea + office.PhoneNumber)
		}
		if office.MainActivity != nil {
			company.MainActivityCode = office.MainActivity.Code
			company.MainActivityText = office.MainActivity.Description
		}
	}
	return company
}

func parseCapital(raw string) int64 {
	if raw == "" {
		return 0
	}
	if idx := strings.IndexByte(raw, '.'); idx >= 0 {
		raw = raw[:idx]
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return value
}
