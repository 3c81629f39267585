package opd

import "sort"

// Queue groups one day's visits for the OPD board. Each group is ordered by
// token number.
type Queue struct {
	Waiting        []Visit `json:"waiting"`
	VitalsDone     []Visit `json:"vitals_done"`
	InConsultation []Visit `json:"in_consultation"`
	Completed      []Visit `json:"completed"`
}

// ProjectQueue partitions visits by status. Visits in any other status are
// left out. The caller filters by date.
func ProjectQueue(visits []Visit) Queue {
	q := Queue{
		Waiting:        []Visit{},
		VitalsDone:     []Visit{},
		InConsultation: []Visit{},
		Completed:      []Visit{},
	}
	for _, v := range visits {
		switch v.Status {
		case StatusCheckedIn:
			q.Waiting = append(q.Waiting, v)
		case StatusVitalsDone:
			q.VitalsDone = append(q.VitalsDone, v)
		case StatusInConsultation:
			q.InConsultation = append(q.InConsultation, v)
		case StatusCompleted:
			q.Completed = append(q.Completed, v)
		}
	}
	for _, group := range [][]Visit{q.Waiting, q.VitalsDone, q.InConsultation, q.Completed} {
		sortByToken(group)
	}
	return q
}

// sortByToken orders by token, then id, so equal tokens from different
// departments still project deterministically.
func sortByToken(vs []Visit) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].TokenNumber != vs[j].TokenNumber {
			return vs[i].TokenNumber < vs[j].TokenNumber
		}
		return vs[i].ID.String() < vs[j].ID.String()
	})
}

// Stats are the day's dashboard counters.
type Stats struct {
	Appointments   int `json:"appointments"`
	Waiting        int `json:"waiting"`
	VitalsDone     int `json:"vitals_done"`
	InConsultation int `json:"in_consultation"`
	Completed      int `json:"completed"`
}

// Count builds Stats from a queue and the day's appointment count.
func (q Queue) Count(appointments int) Stats {
	return Stats{
		Appointments:   appointments,
		Waiting:        len(q.Waiting),
		VitalsDone:     len(q.VitalsDone),
		InConsultation: len(q.InConsultation),
		Completed:      len(q.Completed),
	}
}
