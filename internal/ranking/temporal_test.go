package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earlyspark/ai-candidate/internal/config"
)

func TestParseTemporalContext(t *testing.T) {
	tests := []struct {
		query    string
		wantType TemporalType
		wantRef  string
		wantYear int
	}{
		{"what did you do before Globex", Before, "Globex", 0},
		{"what did you do before Globex?", Before, "Globex", 0},
		{"Before Globex, what did you do?", Before, "Globex", 0},
		{"before joining Globex what did you work on", Before, "Globex", 0},
		{"Prior to Acme; which stack did you use", Before, "Acme", 0},
		{"After leaving the Acme team: how did things change?", After, "Acme team", 0},
		{"what happened after my time at Initech.", After, "Initech", 0},
		{"following 2019, where did you work", After, "2019", 2019},
		{`before "Hooli" tell me about your roles`, Before, "Hooli", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			tc := ParseTemporalContext(tt.query)
			require.NotNil(t, tc)
			assert.Equal(t, tt.wantType, tc.Type)
			assert.Equal(t, tt.wantRef, tc.Reference)
			if tt.wantYear == 0 {
				assert.Nil(t, tc.ReferenceYear)
				return
			}
			require.NotNil(t, tc.ReferenceYear)
			assert.Equal(t, tt.wantYear, *tc.ReferenceYear)
		})
	}

	assert.Nil(t, ParseTemporalContext("tell me about your career timeline"))
}

func TestDateBoost(t *testing.T) {
	cfg := config.Default().Temporal
	year := func(y int) *int { return &y }

	tests := []struct {
		name        string
		tc          TemporalContext
		text        string
		want        float64
		extendsPast bool
	}{
		{"before, ends in an earlier year", TemporalContext{Type: Before, ReferenceYear: year(2021), ReferenceMonth: 4},
			"Acme (Jan 2018 - Mar 2020)", cfg.EndsBeforeBoost, false},
		{"before, ends in an earlier month", TemporalContext{Type: Before, ReferenceYear: year(2019), ReferenceMonth: 12},
			"Initech (Feb 2015 - Sep 2019)", cfg.SameYearEarlyBoost, false},
		{"before, ends in the anchor month", TemporalContext{Type: Before, ReferenceYear: year(2021), ReferenceMonth: 4},
			"Acme (Jan 2018 - Apr 2021)", cfg.SameYearEarlyBoost, false},
		{"before, ends after the anchor month", TemporalContext{Type: Before, ReferenceYear: year(2021), ReferenceMonth: 4},
			"Acme (Jan 2018 - Sep 2021)", cfg.SameYearLatePenalty, true},
		{"before, year-only anchor uses the cutoff", TemporalContext{Type: Before, ReferenceYear: year(2019)},
			"Initech (Feb 2015 - Sep 2019)", cfg.SameYearLatePenalty, true},
		{"before, year-only anchor early end", TemporalContext{Type: Before, ReferenceYear: year(2019)},
			"Initech (Feb 2015 - May 2019)", cfg.SameYearEarlyBoost, false},
		{"before, ongoing", TemporalContext{Type: Before, ReferenceYear: year(2021), ReferenceMonth: 4},
			"Globex (Apr 2021 - Present)", cfg.OngoingPenalty, true},
		{"after, starts in a later month", TemporalContext{Type: After, ReferenceYear: year(2021), ReferenceMonth: 3},
			"Globex (Apr 2021 - Present)", cfg.SameYearEarlyBoost, false},
		{"after, starts before the anchor month", TemporalContext{Type: After, ReferenceYear: year(2021), ReferenceMonth: 9},
			"Globex (Apr 2021 - Present)", cfg.SameYearLatePenalty, true},
		{"after, year-only anchor uses the cutoff", TemporalContext{Type: After, ReferenceYear: year(2021)},
			"Globex (Apr 2021 - Present)", cfg.SameYearLatePenalty, true},
		{"after, starts in a later year", TemporalContext{Type: After, ReferenceYear: year(2016), ReferenceMonth: 6},
			"Hooli (Aug 2017 - Present)", cfg.EndsBeforeBoost, false},
		{"after, starts in an earlier year", TemporalContext{Type: After, ReferenceYear: year(2021), ReferenceMonth: 3},
			"Acme (Jan 2018 - Mar 2021)", cfg.ExtendsPastPenalty, true},
		{"no ranges", TemporalContext{Type: Before, ReferenceYear: year(2021)},
			"Mentored junior engineers", 1, false},
		{"unresolved", TemporalContext{Type: Before},
			"Acme (Jan 2018 - Mar 2020)", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DateBoost(tt.text, &tt.tc, cfg)
			assert.Equal(t, tt.want, got.Factor)
			assert.Equal(t, tt.extendsPast, got.ExtendsPast)
		})
	}
}
