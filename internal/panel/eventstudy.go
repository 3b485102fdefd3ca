package panel

import (
	"errors"
	"fmt"
)

// ErrMissingReference means no treated row falls in the omitted bucket, so the
// dummies would not be identified against it.
var ErrMissingReference = errors.New("reference bucket has no observations")

// Design is an event-time dummy matrix over the binned relative time.
type Design struct {
	Columns   []string
	Reference int
	Ks        []int
	// Dummies is row-aligned with the panel passed to EventStudyDesign.
	Dummies [][]float64
}

// EventStudyDesign builds one 0/1 column per binned K observed in rows, omitting
// the reference bucket. Controls and rows without treatment get all zeros.
func EventStudyDesign(rows []Row, reference int) (*Design, error) {
	present := make(map[int]bool)
	lo, hi := 0, 0
	first := true
	for _, r := range rows {
		if r.Treatment == nil || r.Treatment.KBinned == nil {
			continue
		}
		k := *r.Treatment.KBinned
		present[k] = true
		if first || k < lo {
			lo = k
		}
		if first || k > hi {
			hi = k
		}
		first = false
	}
	if len(present) > 0 && !present[reference] {
		return nil, fmt.Errorf("%w: K=%d", ErrMissingReference, reference)
	}

	d := &Design{Reference: reference}
	col := make(map[int]int)
	if !first {
		for k := lo; k <= hi; k++ {
			if k == reference || !present[k] {
				continue
			}
			col[k] = len(d.Ks)
			d.Ks = append(d.Ks, k)
			d.Columns = append(d.Columns, columnName(k))
		}
	}

	d.Dummies = make([][]float64, len(rows))
	for i, r := range rows {
		v := make([]float64, len(d.Ks))
		if r.Treatment != nil && r.Treatment.KBinned != nil {
			if j, ok := col[*r.Treatment.KBinned]; ok {
				v[j] = 1
			}
		}
		d.Dummies[i] = v
	}
	return d, nil
}

func columnName(k int) string {
	if k < 0 {
		return fmt.Sprintf("k_m%d", -k)
	}
	return fmt.Sprintf("k_p%d", k)
}
