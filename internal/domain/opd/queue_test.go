package opd

import (
	"testing"

	"github.com/google/uuid"
)

func tokens(vs []Visit) []int {
	out := make([]int, len(vs))
	for i, v := range vs {
		out[i] = v.TokenNumber
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestProjectQueue_Empty(t *testing.T) {
	q := ProjectQueue(nil)
	if q.Waiting == nil || q.VitalsDone == nil || q.InConsultation == nil || q.Completed == nil {
		t.Fatal("expected four non-nil empty groups")
	}
	if len(q.Waiting)+len(q.VitalsDone)+len(q.InConsultation)+len(q.Completed) != 0 {
		t.Error("expected all groups empty")
	}
}

func TestProjectQueue_SortsByToken(t *testing.T) {
	in := []Visit{
		{ID: uuid.New(), Status: StatusCheckedIn, TokenNumber: 3},
		{ID: uuid.New(), Status: StatusCheckedIn, TokenNumber: 1},
		{ID: uuid.New(), Status: StatusCheckedIn, TokenNumber: 2},
	}
	q := ProjectQueue(in)
	if got := tokens(q.Waiting); !equalInts(got, []int{1, 2, 3}) {
		t.Errorf("expected [1 2 3], got %v", got)
	}
	if in[0].TokenNumber != 3 {
		t.Error("input order must not change")
	}
}

func TestProjectQueue_Groups(t *testing.T) {
	in := []Visit{
		{ID: uuid.New(), Status: StatusCompleted, TokenNumber: 1},
		{ID: uuid.New(), Status: StatusInConsultation, TokenNumber: 2},
		{ID: uuid.New(), Status: StatusVitalsDone, TokenNumber: 4},
		{ID: uuid.New(), Status: StatusVitalsDone, TokenNumber: 3},
		{ID: uuid.New(), Status: StatusCheckedIn, TokenNumber: 5},
		{ID: uuid.New(), Status: StatusCancelled, TokenNumber: 6},
		{ID: uuid.New(), Status: StatusNoShow, TokenNumber: 7},
		{ID: uuid.New(), Status: StatusScheduled, TokenNumber: 8},
	}
	q := ProjectQueue(in)

	if got := tokens(q.Waiting); !equalInts(got, []int{5}) {
		t.Errorf("waiting: got %v", got)
	}
	if got := tokens(q.VitalsDone); !equalInts(got, []int{3, 4}) {
		t.Errorf("vitals_done: got %v", got)
	}
	if got := tokens(q.InConsultation); !equalInts(got, []int{2}) {
		t.Errorf("in_consultation: got %v", got)
	}
	if got := tokens(q.Completed); !equalInts(got, []int{1}) {
		t.Errorf("completed: got %v", got)
	}
}

func TestProjectQueue_Deterministic(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	in1 := []Visit{{ID: a, Status: StatusCheckedIn, TokenNumber: 1}, {ID: b, Status: StatusCheckedIn, TokenNumber: 1}}
	in2 := []Visit{in1[1], in1[0]}

	q1, q2 := ProjectQueue(in1), ProjectQueue(in2)
	for i := range q1.Waiting {
		if q1.Waiting[i].ID != q2.Waiting[i].ID {
			t.Fatal("projection depends on input order for equal tokens")
		}
	}
}

func TestQueue_Count(t *testing.T) {
	q := ProjectQueue([]Visit{
		{ID: uuid.New(), Status: StatusCheckedIn, TokenNumber: 1},
		{ID: uuid.New(), Status: StatusCheckedIn, TokenNumber: 2},
		{ID: uuid.New(), Status: StatusCompleted, TokenNumber: 3},
	})
	st := q.Count(7)
	if st.Appointments != 7 || st.Waiting != 2 || st.Completed != 1 || st.InConsultation != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
}
