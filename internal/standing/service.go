package standing

import (
	"context"
	"errors"
	"slices"

	"presence/internal/attendance"
)

// Snapshot is the standing of one student in one subject.
type Snapshot struct {
	StudentID string  `json:"student_id"`
	SubjectID string  `json:"subject_id"`
	Remedial  bool    `json:"remedial"`
	Grade     float64 `json:"grade"`
	Stats     Stats   `json:"stats"`
}

// ReportRow is one student's line in a subject report. Unrecorded counts
// completed sessions the student has no record for, such as those held before
// they joined the track.
type ReportRow struct {
	Student    attendance.Student `json:"student"`
	Present    int                `json:"present"`
	Late       int                `json:"late"`
	Absent     int                `json:"absent"`
	Unrecorded int                `json:"unrecorded"`
	Sessions   int                `json:"sessions"`
	Snapshot   Snapshot           `json:"standing"`
}

// Report lists the standing of every student enrolled in a subject's track.
type Report struct {
	Subject attendance.Subject `json:"subject"`
	Rows    []ReportRow        `json:"rows"`
}

// Service reads subject histories from the ledger and applies Remedial and Grade.
type Service struct {
	store      attendance.Store
	dir        attendance.Directory
	thresholds Thresholds
}

// NewService creates a standing service. Zero thresholds use the defaults.
func NewService(store attendance.Store, dir attendance.Directory, th Thresholds) *Service {
	return &Service{store: store, dir: dir, thresholds: th.withDefaults()}
}

// Thresholds returns the thresholds in effect.
func (s *Service) Thresholds() Thresholds { return s.thresholds }

// RemedialStatus reports whether the student must sit the remedial exam.
func (s *Service) RemedialStatus(ctx context.Context, studentID, subjectID string) (bool, Stats, error) {
	entries, err := s.history(ctx, subjectID, studentID)
	if err != nil {
		return false, Stats{}, err
	}
	remedial, st := Remedial(entries, s.thresholds)
	return remedial, st, nil
}

// AttendanceGrade returns the grade out of 20.
func (s *Service) AttendanceGrade(ctx context.Context, studentID, subjectID string) (float64, error) {
	entries, err := s.history(ctx, subjectID, studentID)
	if err != nil {
		return 0, err
	}
	return Grade(entries), nil
}

// Snapshot computes both views from a single read of the history.
func (s *Service) Snapshot(ctx context.Context, studentID, subjectID string) (Snapshot, error) {
	entries, err := s.history(ctx, subjectID, studentID)
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(studentID, subjectID, entries), nil
}

// SubjectReport computes the standing of every student currently enrolled in
// the subject's track, in one read transaction.
func (s *Service) SubjectReport(ctx context.Context, subjectID string) (Report, error) {
	subj, err := s.dir.Subject(ctx, subjectID)
	if err != nil {
		return Report{}, err
	}
	students, err := s.dir.StudentsEnrolledInTrack(ctx, subj.TrackID)
	if err != nil {
		return Report{}, err
	}

	rows := make([]ReportRow, 0, len(students))
	err = s.store.InTx(ctx, func(tx attendance.Tx) error {
		for _, id := range students {
			entries, err := tx.SubjectHistory(ctx, subjectID, id)
			if err != nil {
				return err
			}
			row := ReportRow{
				Student:  attendance.Student{ID: id},
				Sessions: len(entries),
				Snapshot: s.snapshot(id, subjectID, entries),
			}
			for _, e := range entries {
				switch e.Status {
				case attendance.Present:
					row.Present++
				case attendance.Late:
					row.Late++
				case attendance.Absent:
					row.Absent++
				default:
					row.Unrecorded++
				}
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	for i := range rows {
		st, err := s.dir.Student(ctx, rows[i].Student.ID)
		switch {
		case err == nil:
			rows[i].Student = st
		case !errors.Is(err, attendance.ErrNotFound):
			return Report{}, err
		}
	}
	return Report{Subject: subj, Rows: rows}, nil
}

// NewlyRemedial returns the students of the subject's track whom the given
// completed session pushed over a remedial threshold.
func (s *Service) NewlyRemedial(ctx context.Context, subjectID, sessionID string) ([]Snapshot, error) {
	subj, err := s.dir.Subject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	students, err := s.dir.StudentsEnrolledInTrack(ctx, subj.TrackID)
	if err != nil {
		return nil, err
	}

	var out []Snapshot
	err = s.store.InTx(ctx, func(tx attendance.Tx) error {
		for _, id := range students {
			entries, err := tx.SubjectHistory(ctx, subjectID, id)
			if err != nil {
				return err
			}
			// History is oldest first, so the session splits it into what the
			// student had before it and what they had right after it. Sessions
			// completed later do not count.
			i := slices.IndexFunc(entries, func(e attendance.HistoryEntry) bool { return e.SessionID == sessionID })
			if i < 0 {
				continue
			}
			if was, _ := Remedial(entries[:i], s.thresholds); was {
				continue
			}
			if snap := s.snapshot(id, subjectID, entries[:i+1]); snap.Remedial {
				out = append(out, snap)
			}
		}
		return nil
	})
	return out, err
}

func (s *Service) snapshot(studentID, subjectID string, entries []attendance.HistoryEntry) Snapshot {
	remedial, st := Remedial(entries, s.thresholds)
	return Snapshot{
		StudentID: studentID,
		SubjectID: subjectID,
		Remedial:  remedial,
		Grade:     Grade(entries),
		Stats:     st,
	}
}

func (s *Service) history(ctx context.Context, subjectID, studentID string) ([]attendance.HistoryEntry, error) {
	var entries []attendance.HistoryEntry
	err := s.store.InTx(ctx, func(tx attendance.Tx) error {
		var err error
		entries, err = tx.SubjectHistory(ctx, subjectID, studentID)
		return err
	})
	return entries, err
}
