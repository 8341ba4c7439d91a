// Package standing derives remedial eligibility and the attendance grade of a
// student in a subject from the completed sessions of that subject. Nothing
// here is persisted; every call recomputes from the ledger.
package standing

import (
	"math"

	"presence/internal/attendance"
)

// Defaults for Thresholds.
const (
	DefaultRemedialRate = 0.25
	DefaultLabAbsences  = 2.0
)

// Thresholds holds the two independent remedial triggers.
type Thresholds struct {
	// RemedialRate flags a student whose lecture and tutorial presence rate
	// falls below it.
	RemedialRate float64
	// LabAbsences flags a student with at least this many weighted lab absences.
	LabAbsences float64
}

// DefaultThresholds returns 0.25 and 2.
func DefaultThresholds() Thresholds {
	return Thresholds{RemedialRate: DefaultRemedialRate, LabAbsences: DefaultLabAbsences}
}

func (t Thresholds) withDefaults() Thresholds {
	if t.RemedialRate <= 0 {
		t.RemedialRate = DefaultRemedialRate
	}
	if t.LabAbsences <= 0 {
		t.LabAbsences = DefaultLabAbsences
	}
	return t
}

// Stats is the tally behind a remedial decision.
type Stats struct {
	Total        int     `json:"total"`
	AbsentWeight float64 `json:"absent_weight"`
	PresenceRate float64 `json:"presence_rate"`
	LabSessions  int     `json:"lab_sessions"`
	LabAbsences  float64 `json:"lab_absences"`
}

// Remedial decides remedial eligibility. Lectures and tutorials feed the
// presence rate, labs feed the lab absence count, and a late counts as half
// an absence in both. Sessions without a record for the student still count
// towards the total.
func Remedial(entries []attendance.HistoryEntry, th Thresholds) (bool, Stats) {
	th = th.withDefaults()
	var st Stats
	for _, e := range entries {
		switch e.Kind {
		case attendance.KindLab:
			st.LabSessions++
			st.LabAbsences += absenceWeight(e.Status)
		case attendance.KindLecture, attendance.KindTutorial:
			st.Total++
			st.AbsentWeight += absenceWeight(e.Status)
		}
	}
	st.PresenceRate = 1.0
	if st.Total > 0 {
		st.PresenceRate = 1 - st.AbsentWeight/float64(st.Total)
	}
	return st.PresenceRate < th.RemedialRate || st.LabAbsences >= th.LabAbsences, st
}

// Grade is the attendance grade out of 20 over lectures and tutorials,
// rounded to two decimals. It is 20 when there is nothing to grade.
func Grade(entries []attendance.HistoryEntry) float64 {
	var (
		total  int
		points float64
	)
	for _, e := range entries {
		if e.Kind == attendance.KindLab {
			continue
		}
		total++
		switch e.Status {
		case attendance.Present:
			points++
		case attendance.Late:
			points += 0.5
		}
	}
	if total == 0 {
		return 20.0
	}
	return round2(points / float64(total) * 20)
}

func absenceWeight(s attendance.RecordStatus) float64 {
	switch s {
	case attendance.Absent:
		return 1
	case attendance.Late:
		return 0.5
	}
	return 0
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
