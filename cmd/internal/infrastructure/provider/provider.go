// Package provider defines the capability contract every registry API
// client satisfies: one HTTP call per query, a normalized record or a typed
// failure back, and no retries or sleeps of its own. Retrying and pacing
// belong to the router and the rate limiter.
package provider

import (
	"context"

	"cnpjconsulta/cmd/internal/domain/entity"
)

type Client interface {
	Name() string
	Query(ctx context.Context, cnpj string) Outcome
}

type Kind int

const (
	// KindOK carries a normalized company record.
	KindOK Kind = iota
	// KindNotFound means the provider confirms the CNPJ does not exist.
	KindNotFound
	// KindRateLimited is a 429-equivalent signal.
	KindRateLimited
	// KindTransient covers network timeouts, 5xx and parse failures.
	KindTransient
	// KindInvalid covers malformed CNPJs and non-429 4xx responses.
	KindInvalid
)

// Outcome is the tagged result of a single provider call. Company is set
// only for KindOK; Err is set for the failure kinds that carry a cause.
type Outcome struct {
	Kind    Kind
	Company *entity.Company
	Err     error
}

func OK(company *entity.Company) Outcome {
	return Outcome{Kind: KindOK, Company: company}
}

func NotFound() Outcome {
	return Outcome{Kind: KindNotFound}
}

func RateLimited() Outcome {
	return Outcome{Kind: KindRateLimited}
}

func Transient(err error) Outcome {
	return Outcome{Kind: KindTransient, Err: err}
}

func Invalid(err error) Outcome {
	return Outcome{Kind: KindInvalid, Err: err}
}
