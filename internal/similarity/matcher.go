package similarity

import (
	"math"
	"sort"

	"github.com/wmca-epc/internal/debug"
	"github.com/wmca-epc/internal/epc"
)

// Config holds the thresholds for floor-area similarity matching. All values
// are explicit so a run is reproducible from its config alone.
type Config struct {
	// MinGroupSize is the minimum number of candidate properties a
	// postcode group must have before it is worth matching at all.
	MinGroupSize int `yaml:"min_group_size"`
	// Precision is the number of decimal places floor areas are rounded
	// to before exact-equality matching.
	Precision int `yaml:"precision"`
	// HighAgreement and LowAgreement are the cut points on the share of
	// matches agreeing with the modal rating.
	HighAgreement float64 `yaml:"high_agreement"`
	LowAgreement  float64 `yaml:"low_agreement"`
	// TierHigh, TierMid and TierLow are the heuristic confidence values
	// assigned from the agreement share and the modal match count.
	TierHigh float64 `yaml:"tier_high"`
	TierMid  float64 `yaml:"tier_mid"`
	TierLow  float64 `yaml:"tier_low"`
}

// DefaultConfig returns the matching thresholds used in production runs.
func DefaultConfig() Config {
	return Config{
		MinGroupSize:  5,
		Precision:     2,
		HighAgreement: 0.66,
		LowAgreement:  0.33,
		TierHigh:      0.8,
		TierMid:       0.5,
		TierLow:       0.3,
	}
}

// Match is the outcome of floor-area matching for one candidate property.
type Match struct {
	UPRN string `json:"uprn"`
	// Area is the rounded floor area the match was made on.
	Area float64 `json:"area"`
	// Rating is the modal rating among the matched reference properties.
	Rating epc.Rating `json:"rating"`
	// Confidence is the heuristic tier assigned from the agreement share.
	Confidence float64 `json:"confidence"`
	// Agreement is the share of matched references agreeing with Rating.
	Agreement float64 `json:"agreement"`
	// ModeCount is the number of matched references agreeing with Rating.
	ModeCount int `json:"mode_count"`
	// TotalMatches is the total number of area-equal references found.
	TotalMatches int `json:"total_matches"`
}

// Matcher assigns candidate ratings by matching floor footprints against
// EPC-rated properties in the same postcode.
type Matcher struct {
	cfg Config
}

// NewMatcher creates a matcher with the given thresholds. Zero-value fields
// fall back to the defaults.
func NewMatcher(cfg Config) *Matcher {
	def := DefaultConfig()
	if cfg.MinGroupSize == 0 {
		cfg.MinGroupSize = def.MinGroupSize
	}
	if cfg.Precision == 0 {
		cfg.Precision = def.Precision
	}
	if cfg.HighAgreement == 0 {
		cfg.HighAgreement = def.HighAgreement
	}
	if cfg.LowAgreement == 0 {
		cfg.LowAgreement = def.LowAgreement
	}
	if cfg.TierHigh == 0 {
		cfg.TierHigh = def.TierHigh
	}
	if cfg.TierMid == 0 {
		cfg.TierMid = def.TierMid
	}
	if cfg.TierLow == 0 {
		cfg.TierLow = def.TierLow
	}
	return &Matcher{cfg: cfg}
}

// Run matches every candidate property against the reference set. Candidates
// with no area-equal reference in their postcode are simply absent from the
// result; downstream arbitration treats absence as "no similarity available".
func (m *Matcher) Run(localDebug bool, refs []epc.ReferenceProperty, candidates []epc.CandidateProperty) []Match {
	defer debug.Timing(localDebug, "similarity matching")()

	refGroups := make(map[string][]epc.ReferenceProperty)
	for _, r := range refs {
		refGroups[r.Postcode] = append(refGroups[r.Postcode], r)
	}

	candGroups := make(map[string][]epc.CandidateProperty)
	for _, c := range candidates {
		candGroups[c.Postcode] = append(candGroups[c.Postcode], c)
	}

	// Postcodes are walked in sorted order so output order is stable
	// across runs.
	postcodes := make([]string, 0, len(candGroups))
	for pc := range candGroups {
		postcodes = append(postcodes, pc)
	}
	sort.Strings(postcodes)

	var results []Match
	skipped := 0
	for _, pc := range postcodes {
		group := candGroups[pc]
		if len(group) < m.cfg.MinGroupSize {
			skipped++
			continue
		}
		results = append(results, m.matchGroup(group, refGroups[pc])...)
	}

	debug.Output(localDebug, "similarity: %d postcodes, %d skipped below min size, %d matches",
		len(postcodes), skipped, len(results))

	return results
}

// matchGroup joins one postcode's candidates to its references on rounded
// floor area and scores each candidate with at least one match.
func (m *Matcher) matchGroup(candidates []epc.CandidateProperty, refs []epc.ReferenceProperty) []Match {
	if len(refs) == 0 {
		return nil
	}

	byArea := make(map[float64][]epc.Rating)
	for _, r := range refs {
		area := roundTo(r.FloorArea, m.cfg.Precision)
		byArea[area] = append(byArea[area], r.Rating)
	}

	var out []Match
	for _, c := range candidates {
		area := roundTo(c.FloorArea, m.cfg.Precision)
		ratings := byArea[area]
		if len(ratings) == 0 {
			continue
		}

		mode, modeCount := modalRating(ratings)
		agreement := float64(modeCount) / float64(len(ratings))

		out = append(out, Match{
			UPRN:         c.UPRN,
			Area:         area,
			Rating:       mode,
			Confidence:   m.tier(agreement, modeCount),
			Agreement:    agreement,
			ModeCount:    modeCount,
			TotalMatches: len(ratings),
		})
	}
	return out
}

// tier maps the agreement share and modal count onto a heuristic confidence.
// Agreement among several matching references is worth more than agreement
// carried by a single reference, so the tier drops one level when only one
// reference backs the mode.
func (m *Matcher) tier(agreement float64, modeCount int) float64 {
	switch {
	case agreement > m.cfg.HighAgreement:
		if modeCount > 1 {
			return m.cfg.TierHigh
		}
		return m.cfg.TierMid
	case agreement > m.cfg.LowAgreement:
		if modeCount > 1 {
			return m.cfg.TierMid
		}
		return m.cfg.TierLow
	default:
		return m.cfg.TierLow
	}
}

// modalRating returns the most frequent rating and its count. Ties are broken
// in favour of the better band (closest to A) so the result is deterministic.
func modalRating(ratings []epc.Rating) (epc.Rating, int) {
	var counts [epc.NumRatings]int
	for _, r := range ratings {
		if i := r.Index(); i >= 0 {
			counts[i]++
		}
	}
	best, bestCount := 0, 0
	for i, n := range counts {
		if n > bestCount {
			best, bestCount = i, n
		}
	}
	return epc.Ratings[best], bestCount
}

// roundTo rounds half away from zero to the given number of decimal places.
func roundTo(v float64, places int) float64 {
	scale := math.Pow10(places)
	return math.Round(v*scale) / scale
}
