package testkit

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"utilpanel/domain/rawlog"
)

// FleetGeneratorConfig configures synthetic equipment logs
type FleetGeneratorConfig struct {
	UnitCount      int       `json:"unit_count"`
	TreatedShare   float64   `json:"treated_share"`
	Months         int       `json:"months"`
	StartDate      time.Time `json:"start_date"`
	BaseOutput     float64   `json:"base_output"`     // mean monthly output per unit
	Coefficient    float64   `json:"coefficient"`     // proxy units per output unit
	MissingRate    float64   `json:"missing_rate"`    // share of months with no production reading
	ProxyGapRate   float64   `json:"proxy_gap_rate"`  // share of months with no proxy reading
	FailuresPerK   float64   `json:"failures_per_k"`  // expected failures per 1000 output
	TreatmentRatio float64   `json:"treatment_ratio"` // failure-rate multiplier after installation
	Seed           int64     `json:"seed"`
}

// DefaultFleetConfig returns a small staggered-adoption fleet
func DefaultFleetConfig() FleetGeneratorConfig {
	return FleetGeneratorConfig{
		UnitCount:      12,
		TreatedShare:   0.5,
		Months:         18,
		StartDate:      time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		BaseOutput:     1000,
		Coefficient:    2.0,
		MissingRate:    0.15,
		ProxyGapRate:   0.05,
		FailuresPerK:   3,
		TreatmentRatio: 0.6,
		Seed:           42,
	}
}

// FleetGenerator produces raw logs with known ground truth
type FleetGenerator struct {
	config FleetGeneratorConfig
	src    rand.Source
	rng    *rand.Rand
}

func NewFleetGenerator(config FleetGeneratorConfig) *FleetGenerator {
	src := rand.NewPCG(uint64(config.Seed), uint64(config.Seed))
	return &FleetGenerator{
		config: config,
		src:    src,
		rng:    rand.New(src),
	}
}

// GenerateLogs builds all four logs. Units named tool_NN; treated units install
// at a random month in the middle half of the window.
func (g *FleetGenerator) GenerateLogs() rawlog.Logs {
	production := [][]string{}
	proxy := [][]string{}
	installs := [][]string{}
	failures := [][]string{}

	for i := 0; i < g.config.UnitCount; i++ {
		unit := fmt.Sprintf("tool_%02d", i+1)
		scale := 0.5 + g.rng.Float64() // heterogeneous utilization

		var installAt *time.Time
		if g.rng.Float64() < g.config.TreatedShare {
			lo := g.config.Months / 4
			month := lo + g.rng.IntN(max(1, g.config.Months/2))
			t := g.config.StartDate.AddDate(0, month, g.rng.IntN(28))
			installAt = &t
			installs = append(installs, []string{unit, t.Format("2006-01-02")})
		} else {
			installs = append(installs, []string{unit, ""})
		}

		for m := 0; m < g.config.Months; m++ {
			monthStart := g.config.StartDate.AddDate(0, m, 0)
			output := math.Round(g.config.BaseOutput * scale * (0.8 + 0.4*g.rng.Float64()))
			stamp := monthStart.Format("2006-01-02")

			if g.rng.Float64() < g.config.MissingRate {
				production = append(production, []string{unit, stamp, ""})
			} else {
				production = append(production, []string{unit, stamp, fmt.Sprintf("%.0f", output)})
			}
			if g.rng.Float64() >= g.config.ProxyGapRate {
				noise := 0.95 + 0.1*g.rng.Float64()
				proxy = append(proxy, []string{unit, stamp, fmt.Sprintf("%.2f", output*g.config.Coefficient*noise)})
			}

			rate := g.config.FailuresPerK / 1000 * output
			if installAt != nil && !monthStart.Before(*installAt) {
				rate *= g.config.TreatmentRatio
			}
			days := monthStart.AddDate(0, 1, 0).Sub(monthStart).Hours() / 24
			for n := g.poisson(rate); n > 0; n-- {
				at := monthStart.Add(time.Duration(g.rng.Float64() * days * float64(24*time.Hour))).Truncate(time.Minute)
				failures = append(failures, []string{unit, at.Format("2006-01-02 15:04:05")})
			}
		}
	}

	return rawlog.Logs{
		Production:   rawlog.NewTable([]string{"unit_id", "timestamp", "output_count"}, production...),
		Proxy:        rawlog.NewTable([]string{"unit_id", "timestamp", "proxy_value"}, proxy...),
		Installation: rawlog.NewTable([]string{"unit_id", "installation_date"}, installs...),
		Failures:     rawlog.NewTable([]string{"unit_id", "timestamp"}, failures...),
	}
}

// poisson draws a failure count from the generator's seeded source.
func (g *FleetGenerator) poisson(lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	return int(distuv.Poisson{Lambda: lambda, Src: g.src}.Rand())
}
