package domain

// Period type names as carried by workflows.
const (
	PeriodYearly    = "Yearly"
	PeriodQuarterly = "Quarterly"
	PeriodMonthly   = "Monthly"
	PeriodWeekly    = "Weekly"
	PeriodDaily     = "Daily"
)

// PeriodTypeOf classifies an ISO period string by shape: 2024 is yearly,
// 2024Q1 quarterly, 202401 monthly, 2024W05 weekly, 20240115 daily.
// Returns "" when the string matches none of these.
func PeriodTypeOf(iso string) string {
	digits := func(s string) bool {
		for _, r := range s {
			if r < '0' || r > '9' {
				return false
			}
		}
		return len(s) > 0
	}
	switch {
	case len(iso) == 4 && digits(iso):
		return PeriodYearly
	case len(iso) == 6 && digits(iso):
		return PeriodMonthly
	case len(iso) == 8 && digits(iso):
		return PeriodDaily
	case len(iso) == 6 && digits(iso[:4]) && iso[4] == 'Q' && digits(iso[5:]):
		return PeriodQuarterly
	case (len(iso) == 6 || len(iso) == 7) && digits(iso[:4]) && iso[4] == 'W' && digits(iso[5:]):
		return PeriodWeekly
	}
	return ""
}
