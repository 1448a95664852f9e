package receitaws

import (
	"strconv"
	"strings"

	"cnpjconsulta/cmd/internal/config"
	"cnpjconsulta/cmd/internal/domain/entity"
	"cnpjconsulta/cmd/internal/utils"
)

type companyResponse struct {
	Status             string `json:"status"`
	CNPJ               string `json:"cnpj"`
	LegalName          string `json:"nome"`
	TradeName          string `json:"fantasia"`
	LegalNature        string `json:"natureza_juridica"`
	CompanySize        string `json:"porte"`
	BusinessStartDate  string `json:"abertura"`
	ShareCapital       string `json:"capital_social"`
	RegistrationStatus string `json:"situacao"`
	RegistrationDate   string `json:"data_situacao"`

	AddressStreetName   string `json:"logradouro"`
	AddressNumber       string `json:"numero"`
	AddressDetails      string `json:"complemento"`
	AddressNeighborhood string `json:"bairro"`
	AddressCity         string `json:"municipio"`
	AddressState        string `json:"uf"`
	AddressZipCode      string `json:"cep"`

	Email string `json:"email"`
	Phone string `json:"telefone"`

	MainActivity []*activityResponse `json:"atividade_principal"`
	Simples      *simplesResponse    `json:"simples"`
	Partners     []*partnerResponse  `json:"qsa"`
}

type activityResponse struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

type simplesResponse struct {
	Optant bool   `json:"optante"`
	Since  string `json:"data_opcao"`
}

type partnerResponse struct {
	Name string `json:"nome"`
	Role string `json:"qual"`
}

func (c *companyResponse) ToDomain(raw string) *entity.Company {
	var partners []*entity.CompanyPartner
	for _, p := range c.Partners {
		partners = append(partners, &entity.CompanyPartner{
			Name: p.Name,
			Role: p.Role,
		})
	}

	company := &entity.Company{
		CNPJ:              digitsOnly(c.CNPJ),
		LegalName:         c.LegalName,
		TradeName:         c.TradeName,
		LegalNature:       c.LegalNature,
		CompanySize:       c.CompanySize,
		BusinessStartDate: c.BusinessStartDate,
		ShareCapital:      parseCapital(c.ShareCapital),
		RegStatus:         c.RegistrationStatus,
		RegStatusDate:     c.RegistrationDate,

		AddressStreet:       c.AddressStreetName,
		AddressNumber:       c.AddressNumber,
		AddressDetails:      c.AddressDetails,
		AddressNeighborhood: c.AddressNeighborhood,
		AddressCity:         c.AddressCity,
		AddressState:        c.AddressState,
		AddressZipCode:      digitsOnly(c.AddressZipCode),

		Email: c.Email,
		Phone: c.Phone,

		ProviderName:  config.ProviderReceitaWS,
		RawData:       raw,
		LastQueriedAt: utils.NowUTC(),
		Partners:      partners,
	}

	if len(c.MainActivity) > 0 {
		company.MainActivityCode = c.MainActivity[0].Code
		company.MainActivityText = c.MainActivity[0].Text
	}
	if c.Simples != nil {
		company.SimplesNacional = c.Simples.Optant
		company.SimplesNacionalSince = c.Simples.Since
	}
	return company
}

// parseCapital turns "1000.00" style strings into whole currency units.
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

func digitsOnly(raw string) string {
	digits, _ := utils.CanonicalizeCNPJ(raw)
	if digits == "" {
		return raw
	}
	return digits
}
