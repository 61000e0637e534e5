package budget

import (
	"math"
	"sort"
)

// Classifier labels expenses by how far their amount sits above the mean of
// the other expenses of the same vehicle in the same category. Scoring an
// expense against the rest of its partition lets a single outlier stand out
// even in a partition of a handful of entries.
type Classifier struct {
	MediumSigma float64
	LargeSigma  float64
	// MinSamples is the minimum number of other expenses in the partition
	// needed to score one.
	MinSamples int
	// MinRelativeSigma floors σ at this fraction of μ so a partition of
	// identical amounts still has a scale.
	MinRelativeSigma float64
}

// DefaultClassifier labels amounts above μ+3σ as medium and above μ+6σ as
// large outliers, with σ at least 10% of μ.
func DefaultClassifier() Classifier {
	return Classifier{MediumSigma: 3, LargeSigma: 6, MinSamples: 2, MinRelativeSigma: 0.1}
}

type partitionKey struct {
	vehicleID string
	category  Category
}

type distribution struct {
	n     int
	mean  float64
	sigma float64
}

// Classify returns one assignment per expense in input order. It is pure:
// the same input always yields the same labels.
func (c Classifier) Classify(expenses []Expense) []Assignment {
	groups := make(map[partitionKey][]float64)
	for _, e := range expenses {
		k := partitionKey{e.VehicleID, e.Category}
		groups[k] = append(groups[k], e.Amount.InexactFloat64())
	}
	for _, amounts := range groups {
		// summation order must not depend on input order
		sort.Float64s(amounts)
	}

	type scored struct {
		key    partitionKey
		amount float64
	}
	cache := make(map[scored]ExpenseType)
	out := make([]Assignment, len(expenses))
	for i, e := range expenses {
		s := scored{partitionKey{e.VehicleID, e.Category}, e.Amount.InexactFloat64()}
		label, ok := cache[s]
		if !ok {
			label = c.label(s.amount, leaveOneOut(groups[s.key], s.amount))
			cache[s] = label
		}
		out[i] = Assignment{ExpenseID: e.ID, Type: label}
	}
	return out
}

// Apply returns a copy of expenses carrying freshly computed labels.
func (c Classifier) Apply(expenses []Expense) []Expense {
	labels := c.Classify(expenses)
	out := make([]Expense, len(expenses))
	for i, e := range expenses {
		e.Type = labels[i].Type
		out[i] = e
	}
	return out
}

func (c Classifier) label(amount float64, d distribution) ExpenseType {
	minSamples := c.MinSamples
	if minSamples < 2 {
		minSamples = 2
	}
	if d.n < minSamples {
		return TypeRegular
	}
	sigma := math.Max(d.sigma, c.MinRelativeSigma*math.Abs(d.mean))
	if sigma == 0 {
		return TypeRegular
	}
	switch {
	case amount <= d.mean+c.MediumSigma*sigma:
		return TypeRegular
	case amount <= d.mean+c.LargeSigma*sigma:
		return TypeIrregularMedium
	default:
		return TypeIrregularLarge
	}
}

// leaveOneOut is the mean and sample σ of sorted amounts with one
// occurrence of amount removed.
func leaveOneOut(sorted []float64, amount float64) distribution {
	skip := sort.SearchFloat64s(sorted, amount)
	rest := make([]float64, 0, len(sorted))
	rest = append(rest, sorted[:skip]...)
	if skip < len(sorted) {
		rest = append(rest, sorted[skip+1:]...)
	}

	n := len(rest)
	if n == 0 {
		return distribution{}
	}
	var sum float64
	for _, a := range rest {
		sum += a
	}
	d := distribution{n: n, mean: sum / float64(n)}
	if n >= 2 {
		var sq float64
		for _, a := range rest {
			diff := a - d.mean
			sq += diff * diff
		}
		d.sigma = math.Sqrt(sq / float64(n-1))
	}
	return d
}
