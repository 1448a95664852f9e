package contract

type CNPJUploadRequest struct {
	// One upload is capped at 10k entries; the queue itself has no bound.
	CNPJs []string `json:"cnpjs" validate:"required,min=1,max=10000"`
}

// SubmissionAck is the per-CNPJ verdict of one upload.
type SubmissionAck struct {
	CNPJ   string `json:"cnpj"`
	Status string `json:"status"`
}

type BatchSubmission struct {
	BatchID        string          `json:"batch_id"`
	Queued         int             `json:"queued"`
	AlreadyPending int             `json:"already_pending"`
	AlreadyDone    int             `json:"already_done"`
	Invalid        int             `json:"invalid"`
	Results        []SubmissionAck `json:"results"`
}

type CNPJStatus struct {
	CNPJ         string `json:"cnpj"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	RetryCount   int    `json:"retry_count"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type BatchStatus struct {
	Total       int64        `json:"total"`
	Queued      int64        `json:"queued"`
	Processing  int64        `json:"processing"`
	Completed   int64        `json:"completed"`
	Error       int64        `json:"error"`
	RateLimited int64        `json:"rate_limited"`
	InMemory    int          `json:"in_memory"`
	InFlight    int          `json:"in_flight"`
	Recent      []CNPJStatus `json:"recent"`
}

type RestartResult struct {
	Restarted   bool  `json:"restarted"`
	RescuedJobs int   `json:"rescued_jobs"`
	ResumedJobs int64 `json:"resumed_jobs"`
	LoadedCount int   `json:"loaded_count"`
}

type CleanupResult struct {
	RemovedJobRecords     int64 `json:"removed_job_records"`
	RemovedPartnerRecords int64 `json:"removed_partner_records"`
}

type PartnerResponse struct {
	Name     string `json:"name"`
	Role     string `json:"role,omitempty"`
	RoleCode int    `json:"role_code,omitempty"`
	AgeRange string `json:"age_range,omitempty"`
}

type AddressResponse struct {
	Street       string `json:"street,omitempty"`
	Number       string `json:"number,omitempty"`
	Details      string `json:"details,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	ZipCode      string `json:"zip_code,omitempty"`
}

type CompanyResponse struct {
	CNPJ              string `json:"cnpj"`
	LegalName         string `json:"legal_name"`
	TradeName         string `json:"trade_name,omitempty"`
	LegalNature       string `json:"legal_nature,omitempty"`
	CompanySize       string `json:"company_size,omitempty"`
	BusinessStartDate string `json:"business_start_date,omitempty"`
	ShareCapital      int64  `json:"share_capital"`
	RegStatus         string `json:"registration_status,omitempty"`
	RegStatusDate     string `json:"registration_status_date,omitempty"`

	Address *AddressResponse `json:"address,omitempty"`

	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`

	MainActivityCode string `json:"main_activity_code,omitempty"`
	MainActivityText string `json:"main_activity_text,omitempty"`

	SimplesNacional      bool   `json:"simples_nacional"`
	SimplesNacionalSince string `json:"simples_nacional_since,omitempty"`

	Partners []*PartnerResponse `json:"partners"`

	ProviderName  string `json:"provider_name"`
	LastQueriedAt string `json:"last_queried_at,omitempty"`
}
