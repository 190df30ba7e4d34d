package baseline

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bullionwatch/internal/rates"
)

// DefaultEstimatePct is the assumed day-over-day move when no history exists.
const DefaultEstimatePct = 0.5

// DayFetcher returns the previous reference quote for a calendar day.
type DayFetcher interface {
	FetchDay(ctx context.Context, day time.Time) (rates.Quote, error)
}

// Options parameterise the resolver.
type Options struct {
	EstimatePct float64
	// Observe is called with "history" or "estimate" after each resolution.
	Observe func(source string)
}

// Resolver derives baselines and deltas for the current rates.
type Resolver struct {
	history DayFetcher
	factor  decimal.Decimal
	observe func(string)
	logger  zerolog.Logger
}

// NewResolver builds a resolver. history may be nil, in which case every
// resolution uses the estimate.
func NewResolver(opts Options, history DayFetcher, logger zerolog.Logger) *Resolver {
	pct := opts.EstimatePct
	if pct <= 0 {
		pct = DefaultEstimatePct
	}
	factor := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(pct).Div(decimal.NewFromInt(100)))

	return &Resolver{
		history: history,
		factor:  factor,
		observe: opts.Observe,
		logger:  logger.With().Str("component", "baseline").Logger(),
	}
}

// Resolve never fails: any history problem downgrades both metals to the
// estimate and sets the Estimated flag.
func (r *Resolver) Resolve(ctx context.Context, gold, silver string, asOf time.Time) rates.Baseline {
	if r.history != nil {
		prev, err := r.history.FetchDay(ctx, asOf.AddDate(0, 0, -1))
		if err == nil {
			goldPrev, gerr := ParseAmount(prev.Gold)
			silverPrev, serr := ParseAmount(prev.Silver)
			if gerr == nil && serr == nil {
				r.record("history")
				return rates.Baseline{
					Gold:   fromPrevious(gold, goldPrev),
					Silver: fromPrevious(silver, silverPrev),
				}
			}
			r.logger.Warn().Str("gold", prev.Gold).Str("silver", prev.Silver).Msg("historical values not numeric, using estimate")
		} else {
			r.logger.Debug().Err(err).Msg("history unavailable, using estimate")
		}
	}

	r.record("estimate")
	return rates.Baseline{
		Gold:      r.estimate(gold),
		Silver:    r.estimate(silver),
		Estimated: true,
	}
}

func (r *Resolver) estimate(current string) rates.MetalBaseline {
	if current == "" {
		return rates.MetalBaseline{}
	}
	value, err := ParseAmount(current)
	if err != nil {
		return rates.MetalBaseline{Delta: rates.NewDelta(0)}
	}
	base := value.Mul(r.factor)
	return rates.MetalBaseline{
		Baseline: FormatAmount(base),
		Delta:    rates.NewDelta(roundDelta(value.Sub(base))),
	}
}

func fromPrevious(current string, prev decimal.Decimal) rates.MetalBaseline {
	if current == "" {
		return rates.MetalBaseline{}
	}
	value, err := ParseAmount(current)
	if err != nil {
		return rates.MetalBaseline{Delta: rates.NewDelta(0)}
	}
	return rates.MetalBaseline{
		Baseline: FormatAmount(prev),
		Delta:    rates.NewDelta(roundDelta(value.Sub(prev))),
	}
}

var half = decimal.NewFromFloat(0.5)

// roundDelta rounds half up, toward positive infinity: -0.5 becomes 0 and
// +0.5 becomes +1.
func roundDelta(d decimal.Decimal) int64 {
	return d.Add(half).Floor().IntPart()
}

func (r *Resolver) record(source string) {
	if r.observe != nil {
		r.observe(source)
	}
}

// Compare builds a history baseline against an already known previous quote.
// ok is false when either previous value is not numeric.
func Compare(current, previous rates.Quote) (rates.Baseline, bool) {
	goldPrev, gerr := ParseAmount(previous.Gold)
	silverPrev, serr := ParseAmount(previous.Silver)
	if gerr != nil || serr != nil {
		return rates.Baseline{}, false
	}
	return rates.Baseline{
		Gold:   fromPrevious(current.Gold, goldPrev),
		Silver: fromPrevious(current.Silver, silverPrev),
	}, true
}
