package economy

import "time"

// Tier tables are expected in ascending RequiredReferrals order.

func UnlockedTiers(referrals int, table []SalaryTier) []SalaryTier {
	out := make([]SalaryTier, 0, len(table))
	for _, t := range table {
		if t.RequiredReferrals <= referrals {
			out = append(out, t)
		}
	}
	return out
}

func NextTier(referrals int, table []SalaryTier) (SalaryTier, bool) {
	for _, t := range table {
		if t.RequiredReferrals > referrals {
			return t, true
		}
	}
	return SalaryTier{}, false
}

func ProgressToNext(referrals int, table []SalaryTier) float64 {
	next, ok := NextTier(referrals, table)
	if !ok || next.RequiredReferrals <= 0 {
		return 100
	}
	p := float64(referrals) / float64(next.RequiredReferrals) * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func TierUnlocked(referrals, level int, table []SalaryTier) (SalaryTier, bool) {
	for _, t := range table {
		if t.Level == level {
			return t, t.RequiredReferrals <= referrals
		}
	}
	return SalaryTier{}, false
}

// SalaryPeriod names the calendar month a salary claim counts against.
func SalaryPeriod(now time.Time) string {
	return now.UTC().Format("2006-01")
}
