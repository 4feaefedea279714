package models

import "github.com/a1betting/propcore/internal/domain"

// statCal holds per-stat-type ensemble calibration: sigma is the typical
// spread of outcomes around the line, margin is the value-kind
// recommendation threshold in stat units.
type statCal struct {
	Sigma  float64
	Margin float64
}

// Known stat types, keyed by normalized name. Unknown types fall into the
// default bucket; they are never dropped.
var statCalibrations = map[string]statCal{
	"points":               {Sigma: 6.0, Margin: 1.5},
	"rebounds":             {Sigma: 2.8, Margin: 0.8},
	"assists":              {Sigma: 2.2, Margin: 0.7},
	"3-pt made":            {Sigma: 1.2, Margin: 0.45},
	"pitcher strikeouts":   {Sigma: 1.9, Margin: 0.6},
	"strikeouts":           {Sigma: 1.9, Margin: 0.6},
	"hits":                 {Sigma: 0.9, Margin: 0.35},
	"hitter fantasy score": {Sigma: 4.5, Margin: 1.2},
	"goals":                {Sigma: 0.7, Margin: 0.3},
	"shots on goal":        {Sigma: 1.4, Margin: 0.5},
	"passing yards":        {Sigma: 38, Margin: 12},
	"rushing yards":        {Sigma: 22, Margin: 8},
	"receiving yards":      {Sigma: 26, Margin: 9},
	"fantasy score":        {Sigma: 7.5, Margin: 2.0},
}

var defaultCal = statCal{Sigma: 3.0, Margin: 1.0}

func calibrationFor(statType string) statCal {
	if c, ok := statCalibrations[domain.NormalizeStatType(statType)]; ok {
		return c
	}
	return defaultCal
}

// defaultTau is the probability-kind recommendation threshold around 0.5.
const defaultTau = 0.05

// Implied odds of a symmetric -110 line: risk 110 to win 100.
const (
	breakEvenProb = 110.0 / 210.0
	netPayout     = 100.0 / 110.0
)
