// Package router dispatches a single CNPJ lookup across the enabled
// providers, consulting the rate limiter for the best candidate and falling
// through to alternatives when a provider rejects transiently.
package router

import (
	"context"
	"time"

	"cnpjconsulta/cmd/internal/domain/entity"
	"cnpjconsulta/cmd/internal/infrastructure/provider"

	"github.com/labstack/gommon/log"
)

type ErrorKind int

const (
	// ErrNotFound: a healthy provider confirmed the CNPJ does not exist.
	ErrNotFound ErrorKind = iota
	// ErrInvalid: the request itself was rejected as malformed.
	ErrInvalid
	// ErrNoProviderAvailable: no provider freed up within the per-request wait.
	ErrNoProviderAvailable
	// ErrAllProvidersFailed: every candidate was tried and rejected.
	ErrAllProvidersFailed
)

// Error is the terminal failure of one routed lookup.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

type Limiter interface {
	PickProvider(candidates []string) (string, bool)
	Consume(name string) bool
	OnSuccess(name string)
	OnRateLimited(name string)
	OnTransientError(name string)
	WaitForAny(ctx context.Context, timeout time.Duration, candidates []string) (string, bool)
}

type Router struct {
	limiter        Limiter
	clients        map[string]provider.Client
	names          []string
	perRequestWait time.Duration
}

func New(limiter Limiter, clients []provider.Client, perRequestWait time.Duration) *Router {
	byName := make(map[string]provider.Client, len(clients))
	names := make([]string, 0, len(clients))
	for _, c := range clients {
		byName[c.Name()] = c
		names = append(names, c.Name())
	}
	return &Router{
		limiter:        limiter,
		clients:        byName,
		names:          names,
		perRequestWait: perRequestWait,
	}
}

// Route performs one enrichment attempt for cnpj, looping through candidate
// providers until one answers definitively. Transiently rejecting providers
// are dropped from this call's candidate set but stay registered for the
// next one.
func (r *Router) Route(ctx context.Context, cnpj string) (*entity.Company, *Error) {
	candidates := make([]string, len(r.names))
	copy(candidates, r.names)

	lastFailure := ""

	for len(candidates) > 0 {
		name, ok := r.limiter.PickProvider(candidates)
		if !ok {
			name, ok = r.limiter.WaitForAny(ctx, r.perRequestWait, candidates)
			if !ok {
				return nil, &Error{
					Kind:    ErrNoProviderAvailable,
					Message: "no provider available within the per-request wait",
				}
			}
		}

		if !r.limiter.Consume(name) {
			// Another worker drained the provider's last token between the
			// pick and the consume; pick again.
			continue
		}

		outcome := r.clients[name].Query(ctx, cnpj)
		switch outcome.Kind {
		case provider.KindOK:
			r.limiter.OnSuccess(name)
			company := outcome.Company
			company.CNPJ = cnpj
			company.ProviderName = name
			log.Infof("cnpj %s enriched by provider %s", cnpj, name)
			return company, nil

		case provider.KindNotFound:
			// The provider answered authoritatively; it is healthy.
			r.limiter.OnSuccess(name)
			return nil, &Error{Kind: ErrNotFound, Message: "CNPJ not found"}

		case provider.KindInvalid:
			r.limiter.OnSuccess(name)
			msg := "provider rejected the CNPJ as invalid"
			if outcome.Err != nil {
				msg = outcome.Err.Error()
			}
			return nil, &Error{Kind: ErrInvalid, Message: msg}

		case provider.KindRateLimited:
			log.Warnf("provider %s rate limited while querying %s, trying alternatives", name, cnpj)
			r.limiter.OnRateLimited(name)
			lastFailure = name + ": rate limited"
			candidates = remove(candidates, name)

		case provider.KindTransient:
			log.Warnf("provider %s failed transiently while querying %s: %v", name, cnpj, outcome.Err)
			r.limiter.OnTransientError(name)
			lastFailure = name + ": transient failure"
			if outcome.Err != nil {
				lastFailure = name + ": " + outcome.Err.Error()
			}
			candidates = remove(candidates, name)
		}
	}

	return nil, &Error{
		Kind:    ErrAllProvidersFailed,
		Message: "all providers failed, last failure: " + lastFailure,
	}
}

func remove(names []string, target string) []string {
	out := names[:0]
	for _, n := range names {
		if n != target {
			out = append(out, n)
		}
	}
	return out
}
