package cnpjaopen

import (
	"strconv"

	"cnpjconsulta/cmd/internal/config"
	"cnpjconsulta/cmd/internal/domain/entity"
	"cnpjconsulta/cmd/internal/utils"
)

type officeResponse struct {
	TaxID   string `json:"taxId"`
	Alias   string `json:"alias"`
	Founded string `json:"founded"`
	Status  *struct {
		Text string `json:"text"`
	} `json:"status"`
	StatusDate string           `json:"statusDate"`
	Company    *companyResponse `json:"company"`
	Address    *addressResponse `json:"address"`
	Phones     []*struct {
		Area   string `json:"area"`
		Number string `json:"number"`
	} `json:"phones"`
	Emails []*struct {
		Address string `json:"address"`
	} `json:"emails"`
	MainActivity *struct {
		ID   int    `json:"id"`
		Text string `json:"text"`
	} `json:"mainActivity"`
}

type companyResponse struct {
	Name   string `json:"name"`
	Equity int64  `json:"equity"`
	Nature *struct {
		Text string `json:"text"`
	} `json:"nature"`
	Size *struct {
		Text string `json:"text"`
	} `json:"size"`
	Simples *struct {
		Optant bool   `json:"optant"`
		Since  string `json:"since"`
	} `json:"simples"`
	Members []*memberResponse `json:"members"`
}

type memberResponse struct {
	Role *struct {
		ID   int    `json:"id"`
		Text string `json:"text"`
	} `json:"role"`
	Person *struct {
		Name string `json:"name"`
		Age  string `json:"age"`
	} `json:"person"`
}

func (o *officeResponse) ToDomain(raw string) *entity.Company {
	company := &entity.Company{
		CNPJ:              digitsOnly(o.TaxID),
		TradeName:         o.Alias,
		BusinessStartDate: o.Founded,
		RegStatusDate:     o.StatusDate,

		ProviderName:  config.ProviderCNPJaOpen,
		RawData:       raw,
		LastQueriedAt: utils.NowUTC(),
	}

	if o.Status != nil {
		company.RegStatus = o.Status.Text
	}
	if o.MainActivity != nil {
		company.MainActivityCode = formatActivityID(o.MainActivity.ID)
		company.MainActivityText = o.MainActivity.Text
	}
	if len(o.Emails) > 0 && o.Emails[0] != nil {
		company.Email = o.Emails[0].Address
	}
	if len(o.Phones) > 0 && o.Phones[0] != nil {
		company.Phone = o.Phones[0].Area + o.Phones[0].Number
	}

	if addr := o.Address; addr != nil {
		company.AddressStreet = addr.Street
		company.AddressNumber = addr.Number
		company.AddressDetails = addr.Details
		company.AddressNeighborhood = addr.District
		company.AddressCity = addr.City
		company.AddressState = addr.State
		company.AddressZipCode = addr.Zip
	}

	if c := o.Company; c != nil {
		company.LegalName = c.Name
		company.ShareCapital = c.Equity
		if c.Nature != nil {
			company.LegalNature = c.Nature.Text
		}
		if c.Size != nil {
			company.CompanySize = c.Size.Text
		}
		if c.Simples != nil {
			company.SimplesNacional = c.Simples.Optant
			company.SimplesNacionalSince = c.Simples.Since
		}
		for _, m := range c.Members {
			if m == nil || m.Person == nil {
				continue
			}
			partner := &entity.CompanyPartner{
				Name:     m.Person.Name,
				AgeRange: m.Person.Age,
			}
			if m.Role != nil {
				partner.Role = m.Role.Text
				partner.RoleCode = m.Role.ID
			}
			company.Partners = append(company.Partners, partner)
		}
	}
	return company
}

type addressResponse struct {
	Street   string `json:"street"`
	Number   string `json:"number"`
	Details  string `json:"details"`
	District string `json:"district"`
	City     string `json:"city"`
	State    string `json:"state"`
	Zip      string `json:"zip"`
}

func formatActivityID(id int) string {
	if id == 0 {
		return ""
	}
	return strconv.Itoa(id)
}

func digitsOnly(raw string) string {
	digits, _ := utils.CanonicalizeCNPJ(raw)
	if digits == "" {
		return raw
	}
	return digits
}
