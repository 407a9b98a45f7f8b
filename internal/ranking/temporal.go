package ranking

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/earlyspark/ai-candidate/internal/cache"
	"github.com/earlyspark/ai-candidate/internal/chunking"
	"github.com/earlyspark/ai-candidate/internal/config"
	"github.com/earlyspark/ai-candidate/internal/store"
)

// Anchor is a cached resolution. Found is false when no chunk mentions the
// reference next to a date range. MonthKnown is false for year-only ranges.
type Anchor struct {
	Year       int  `json:"year"`
	Month      int  `json:"month"`
	MonthKnown bool `json:"month_known"`
	Found      bool `json:"found"`
}

// Resolver finds when a temporal reference (an employer, a role) begins or
// ends by locating it next to a date range in the stored chunks.
type Resolver struct {
	store  Store
	cache  cache.Cache[Anchor]
	ttl    time.Duration
	logger *zap.Logger
}

// NewResolver creates a resolver. A nil cache resolves on every call.
func NewResolver(s Store, c cache.Cache[Anchor], ttl time.Duration, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: s, cache: c, ttl: ttl, logger: logger}
}

// NewReferenceCache returns the in-memory cache type the resolver uses.
func NewReferenceCache(ttl time.Duration) cache.Cache[Anchor] {
	return cache.NewMemory[Anchor](ttl, 256)
}

// Resolve fills tc.ReferenceYear and, when the range names it,
// tc.ReferenceMonth. For "before X" the anchor is when X started; for
// "after X" it is when X ended. Unresolvable references leave both unset.
func (r *Resolver) Resolve(ctx context.Context, tc *TemporalContext) {
	if tc == nil || tc.ReferenceYear != nil || tc.Reference == "" {
		return
	}
	key := "anchor:" + string(tc.Type) + ":" + strings.ToLower(tc.Reference)
	got, err := cache.GetOrLoad(ctx, r.cache, key, r.ttl, r.logger, func(ctx context.Context) (Anchor, error) {
		return r.lookup(ctx, tc)
	})
	if err != nil {
		r.logger.Warn("resolving temporal reference failed", zap.String("reference", tc.Reference), zap.Error(err))
		return
	}
	if got.Found {
		y := got.Year
		tc.ReferenceYear = &y
		if got.MonthKnown {
			tc.ReferenceMonth = got.Month
		}
	}
}

func (r *Resolver) lookup(ctx context.Context, tc *TemporalContext) (Anchor, error) {
	chunks, err := r.store.List(ctx, store.Filter{
		Level:          store.Level(chunking.LevelBase),
		ProcessingType: chunking.ProcessingInformation,
	})
	if err != nil {
		return Anchor{}, err
	}
	var best Anchor
	for _, c := range chunks {
		dr, ok := nearestRange(c.Content, tc.Reference)
		if !ok {
			continue
		}
		a, ok := anchorOf(dr, tc.Type)
		if !ok {
			continue
		}
		// Several chunks may place the reference; the earliest start or the
		// latest end wins.
		at, cur := chunking.YearMonth{Year: a.Year, Month: a.Month}, chunking.YearMonth{Year: best.Year, Month: best.Month}
		switch {
		case !best.Found:
			best = a
		case tc.Type == Before && at.Before(cur):
			best = a
		case tc.Type == After && cur.Before(at):
			best = a
		}
	}
	return best, nil
}

// nearestRange returns the date range closest to the first mention of ref.
func nearestRange(text, ref string) (chunking.DateRange, bool) {
	lower := strings.ToLower(text)
	at := strings.Index(lower, strings.ToLower(ref))
	if at < 0 {
		return chunking.DateRange{}, false
	}
	ranges := chunking.ParseDateRanges(text)
	var best chunking.DateRange
	bestDist := -1
	for _, dr := range ranges {
		pos := strings.Index(text, dr.Raw)
		if pos < 0 {
			continue
		}
		dist := pos - at
		if dist < 0 {
			dist = at - (pos + len(dr.Raw))
			if dist < 0 {
				dist = 0
			}
		}
		if bestDist < 0 || dist < bestDist {
			best, bestDist = dr, dist
		}
	}
	return best, bestDist >= 0
}

func anchorOf(dr chunking.DateRange, t TemporalType) (Anchor, bool) {
	if t == Before {
		return Anchor{Year: dr.Start.Year, Month: dr.Start.Month, MonthKnown: dr.StartMonthKnown, Found: true}, true
	}
	if dr.Ongoing {
		return Anchor{}, false
	}
	return Anchor{Year: dr.End.Year, Month: dr.End.Month, MonthKnown: dr.EndMonthKnown, Found: true}, true
}

// Boost is the date-range multiplier for one candidate.
type Boost struct {
	Factor float64
	// ExtendsPast marks candidates on the wrong side of the reference.
	ExtendsPast bool
}

// DateBoost compares the candidate's date ranges with the resolved reference.
// Candidates without ranges, or queries without a resolved year, are neutral.
// Within the reference year, months decide when both sides name one; a
// year-only side falls back to the early-month cutoff.
func DateBoost(text string, tc *TemporalContext, cfg config.TemporalConfig) Boost {
	if tc == nil || tc.ReferenceYear == nil {
		return Boost{Factor: 1}
	}
	ranges := chunking.ParseDateRanges(text)
	if len(ranges) == 0 {
		return Boost{Factor: 1}
	}
	ref, refMonth := *tc.ReferenceYear, tc.ReferenceMonth
	early := Boost{Factor: cfg.SameYearEarlyBoost}
	late := Boost{Factor: cfg.SameYearLatePenalty, ExtendsPast: true}

	if tc.Type == Before {
		// The latest end decides whether the candidate reaches past the anchor.
		last := ranges[0]
		for _, dr := range ranges[1:] {
			if dr.Ongoing || (!last.Ongoing && last.End.Before(dr.End)) {
				last = dr
			}
		}
		switch {
		case last.Ongoing:
			return Boost{Factor: cfg.OngoingPenalty, ExtendsPast: true}
		case last.End.Year < ref:
			return Boost{Factor: cfg.EndsBeforeBoost}
		case last.End.Year > ref:
			return Boost{Factor: cfg.ExtendsPastPenalty, ExtendsPast: true}
		case !last.EndMonthKnown:
			return late
		case refMonth > 0:
			if last.End.Month <= refMonth {
				return early
			}
			return late
		case last.End.Month <= cfg.EarlyMonthCutoff:
			return early
		default:
			return late
		}
	}

	first := ranges[0]
	for _, dr := range ranges[1:] {
		if dr.Start.Before(first.Start) {
			first = dr
		}
	}
	switch {
	case first.Start.Year > ref:
		return Boost{Factor: cfg.EndsBeforeBoost}
	case first.Start.Year < ref:
		return Boost{Factor: cfg.ExtendsPastPenalty, ExtendsPast: true}
	case !first.StartMonthKnown:
		return late
	case refMonth > 0:
		if first.Start.Month >= refMonth {
			return early
		}
		return late
	case first.Start.Month > cfg.EarlyMonthCutoff:
		return early
	default:
		return late
	}
}
