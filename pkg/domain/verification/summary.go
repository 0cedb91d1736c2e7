package verification

// Summary is the dashboard aggregate for a release session: counts of
// stories by verification outcome. It is recomputed from committed execution
// state whenever an attempt is created or finalized.
type Summary struct {
	Total           int `json:"total"`
	Untested        int `json:"untested"`
	InProgress      int `json:"in_progress"`
	Passed          int `json:"passed"`
	Failed          int `json:"failed"`
	PartiallyTested int `json:"partially_tested"`
	CannotTest      int `json:"cannot_test"`
}

// Summarize computes the dashboard aggregate from a pool snapshot. A claimed
// item counts as in progress; an unclaimed item counts under its last
// finalized status, or as untested when it has never been finalized.
func Summarize(pool *WorkPool) Summary {
	var s Summary
	for _, item := range pool.Items() {
		s.Total++
		if item.Claimed() {
			s.InProgress++
			continue
		}
		switch item.LastStatus {
		case StatusPass:
			s.Passed++
		case StatusFail:
			s.Failed++
		case StatusPartiallyTested:
			s.PartiallyTested++
		case StatusCantBeTested:
			s.CannotTest++
		default:
			s.Untested++
		}
	}
	return s
}
