package fx

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/fairvalue/internal/domain"
)

// ExternalProvider fetches a spot rate from an external FX API.
type ExternalProvider interface {
	GetRate(ctx context.Context, from, to string, date time.Time) (float64, error)
}

// Service resolves exchange rates: identity, direct cached, inverted
// cached, then external provider. Each resolved rate records its source.
type Service struct {
	repo     *Repository
	external ExternalProvider
	log      zerolog.Logger
}

// NewService creates a new FX resolution service. external may be nil.
func NewService(repo *Repository, external ExternalProvider, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		external: external,
		log:      log.With().Str("service", "fx").Logger(),
	}
}

// Resolution describes how a rate was obtained.
type Resolution struct {
	Rate   float64
	Source string
}

// Rate resolution sources.
const (
	SourceIdentity = "identity"
	SourceDirect   = "direct"
	SourceInverse  = "inverse"
	SourceExternal = "external"
)

// Resolve returns the from→to rate for a date.
func (s *Service) Resolve(ctx context.Context, from, to string, asOf time.Time) (*Resolution, error) {
	if from == to {
		return &Resolution{Rate: 1.0, Source: SourceIdentity}, nil
	}

	direct, err := s.repo.GetLatest(from, to, asOf)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if direct != nil {
		return &Resolution{Rate: direct.Rate, Source: SourceDirect}, nil
	}

	inverse, err := s.repo.GetLatest(to, from, asOf)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if inverse != nil && inverse.Rate != 0 {
		return &Resolution{Rate: 1.0 / inverse.Rate, Source: SourceInverse}, nil
	}

	if s.external != nil {
		rate, ferr := s.external.GetRate(ctx, from, to, asOf)
		if ferr != nil {
			s.log.Warn().Err(ferr).Str("from", from).Str("to", to).Msg("external fx fetch failed")
		} else if rate > 0 {
			saved := &domain.FxRate{
				From:     from,
				To:       to,
				Rate:     rate,
				RateDate: asOf,
				Source:   SourceExternal,
			}
			if serr := s.repo.Save(saved); serr != nil {
				s.log.Warn().Err(serr).Str("from", from).Str("to", to).Msg("failed to cache fx rate")
			}
			return &Resolution{Rate: rate, Source: SourceExternal}, nil
		}
	}

	return nil, &domain.FxUnavailableError{From: from, To: to, Date: asOf}
}

// Convert converts an amount from one currency to another.
func (s *Service) Convert(ctx context.Context, amount float64, from, to string, asOf time.Time) (float64, *Resolution, error) {
	res, err := s.Resolve(ctx, from, to, asOf)
	if err != nil {
		return 0, nil, err
	}
	return amount * res.Rate, res, nil
}
