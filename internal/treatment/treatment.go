// Package treatment indexes staggered installation timing onto the period grid.
package treatment

import (
	"fmt"
	"sort"

	"utilpanel/domain/core"
	"utilpanel/domain/equipment"
	"utilpanel/domain/period"
)

// Row carries the treatment indicators of one unit-bucket.
type Row struct {
	UnitID  core.UnitID   `json:"unit_id" db:"unit_id"`
	Period  period.Period `json:"period" db:"period"`
	Treated bool          `json:"treated" db:"treated"`
	Post    bool          `json:"post" db:"post"`
	// K is the signed bucket offset from installation; nil for controls.
	K       *int `json:"relative_time_k" db:"relative_time_k"`
	KBinned *int `json:"relative_time_k_binned" db:"relative_time_k_binned"`
}

// Binning clips K into [Min, Max] so distant leads and lags pool into the
// endpoint buckets.
type Binning struct {
	Min int
	Max int
}

// DefaultBinning pools everything beyond six buckets either side.
var DefaultBinning = Binning{Min: -6, Max: 6}

func (b Binning) Validate() error {
	if b.Min > -1 || b.Max < 0 {
		return fmt.Errorf("binning [%d, %d] must include -1 and 0", b.Min, b.Max)
	}
	return nil
}

func (b Binning) Clip(k int) int {
	return min(max(k, b.Min), b.Max)
}

// Index emits a row for every registered unit and every window bucket. The
// installation bucket itself is post with K = 0.
func Index(registry []equipment.Unit, w period.Window, bins Binning) ([]Row, error) {
	if err := bins.Validate(); err != nil {
		return nil, err
	}

	units := append([]equipment.Unit(nil), registry...)
	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })

	rows := make([]Row, 0, len(units)*w.Len())
	for _, u := range units {
		var installed *period.Period
		if u.InstallationDate != nil {
			p := w.Granularity.Of(*u.InstallationDate)
			installed = &p
		}
		for _, p := range w.Periods() {
			row := Row{UnitID: u.ID, Period: p, Treated: installed != nil}
			if installed != nil {
				k := p.Sub(*installed)
				kb := bins.Clip(k)
				row.K = &k
				row.KBinned = &kb
				row.Post = k >= 0
			}
			rows = append(rows, row)
		}
	}

	if err := VerifyStability(rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// VerifyStability fails when treated changes within a unit or post reverts
// to false after turning true. Rows must be ordered by unit then period.
func VerifyStability(rows []Row) error {
	for i := 1; i < len(rows); i++ {
		prev, cur := rows[i-1], rows[i]
		if prev.UnitID != cur.UnitID {
			continue
		}
		if prev.Treated != cur.Treated {
			return core.NewIntegrityError(core.ErrTreatmentFlip, cur.UnitID, fmt.Sprintf("period %d", cur.Period))
		}
		if prev.Post && !cur.Post {
			return core.NewIntegrityError(core.ErrPostRegression, cur.UnitID, fmt.Sprintf("period %d", cur.Period))
		}
		if !cur.Treated && (cur.Post || cur.K != nil) {
			return core.NewIntegrityError(core.ErrTreatmentFlip, cur.UnitID, "control unit carries event time")
		}
	}
	return nil
}

// Cohort is the set of treated units installed in one bucket.
type Cohort struct {
	Installation period.Period
	Units        []core.UnitID
}

// Cohorts groups treated units by installation bucket, earliest first.
func Cohorts(rows []Row) []Cohort {
	byPeriod := make(map[period.Period][]core.UnitID)
	seen := make(map[core.UnitID]bool)
	for _, r := range rows {
		if seen[r.UnitID] || r.K == nil {
			continue
		}
		seen[r.UnitID] = true
		install := r.Period - period.Period(*r.K)
		byPeriod[install] = append(byPeriod[install], r.UnitID)
	}

	out := make([]Cohort, 0, len(byPeriod))
	for p, units := range byPeriod {
		sort.Slice(units, func(i, j int) bool { return units[i] < units[j] })
		out = append(out, Cohort{Installation: p, Units: units})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Installation < out[j].Installation })
	return out
}
