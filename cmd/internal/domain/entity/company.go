package entity

// Company is the normalized enrichment result, one row per CNPJ.
//
// The column set is the superset of what the three registry providers
// return; fields a provider does not publish are left at their zero value
// (ReceitaWS has no partner age ranges, CNPJ.ws nests Simples data, the
// CNPJa open tier omits share capital for some offices).
type Company struct {
	CNPJ              string `gorm:"primaryKey;column:cnpj"`
	LegalName         string
	TradeName         string
	LegalNature       string
	CompanySize       string
	BusinessStartDate string
	ShareCapital      int64
	RegStatus         string
	RegStatusDate     string

	AddressStreet       string
	AddressNumber       string
	AddressDetails      string
	AddressNeighborhood string
	AddressCity         string
	AddressState        string
	AddressZipCode      string

	Email string
	Phone string

	MainActivityCode string
	MainActivityText string

	SimplesNacional      bool
	SimplesNacionalSince string

	// ProviderName records which upstream API produced this row.
	ProviderName string

	// RawData keeps the provider's payload verbatim for auditing.
	RawData string `gorm:"type:text"`

	LastQueriedAt int64 `gorm:"autoUpdateTime:false"`

	// Relationships
	Partners []*CompanyPartner `gorm:"foreignKey:CompanyCNPJ;references:CNPJ;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type CompanyPartner struct {
	ID          int    `gorm:"primaryKey"`
	CompanyCNPJ string `gorm:"uniqueIndex:idx_company_partner_cnpj_name;index"`
	Name        string `gorm:"uniqueIndex:idx_company_partner_cnpj_name"`
	Role        string
	RoleCode    int
	AgeRange    string
}
