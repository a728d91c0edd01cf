package contest

import "time"

// ParticipationsPerSettlement is how much one settlement adds to a user's participation count,
// however many assets the user predicted. The count measures weeks played, not predictions made.
const ParticipationsPerSettlement = 1

// Bucket is a running mean that never keeps its samples.
type Bucket struct {
	Average float64 `json:"avg"`
	Count   int     `json:"count"`
}

// Add folds v into the mean using the count from before the increment.
func (b Bucket) Add(v float64) Bucket {
	next := b.Count + ParticipationsPerSettlement
	return Bucket{
		Average: (b.Average*float64(b.Count) + v) / float64(next),
		Count:   next,
	}
}

// Stats is a user's long-running accuracy record.
type Stats struct {
	UserID    string
	Username  string
	Lifetime  Bucket
	Quarterly map[string]Bucket
	Yearly    map[string]Bucket
}

// Apply records one settlement with per-period mean v, settled at settledAt. Lifetime, quarter and
// year change together; callers persist the returned value as one unit.
func (s Stats) Apply(v float64, settledAt time.Time, loc *time.Location) Stats {
	out := Stats{
		UserID:    s.UserID,
		Username:  s.Username,
		Lifetime:  s.Lifetime.Add(v),
		Quarterly: copyBuckets(s.Quarterly),
		Yearly:    copyBuckets(s.Yearly),
	}
	q := QuarterKey(settledAt, loc)
	out.Quarterly[q] = out.Quarterly[q].Add(v)
	y := YearKey(settledAt, loc)
	out.Yearly[y] = out.Yearly[y].Add(v)
	return out
}

func copyBuckets(in map[string]Bucket) map[string]Bucket {
	out := make(map[string]Bucket, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
