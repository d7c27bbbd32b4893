package attendance

import "time"

// LedgerDate truncates t to the UTC calendar day used as the ledger key.
func LedgerDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MarkAttendance replaces any entry for the same calendar day with a new one
// and recomputes the derived totals.
func (e *Enrollment) MarkAttendance(date time.Time, present bool, recordedBy string) {
	day := LedgerDate(date)
	kept := e.Attendance[:0]
	for _, entry := range e.Attendance {
		if !LedgerDate(entry.Date).Equal(day) {
			kept = append(kept, entry)
		}
	}
	e.Attendance = append(kept, LedgerEntry{Date: day, Present: present, RecordedBy: recordedBy})
	e.recount()
}

func (e *Enrollment) recount() {
	e.TotalClasses = len(e.Attendance)
	e.ClassesAttended = 0
	for _, entry := range e.Attendance {
		if entry.Present {
			e.ClassesAttended++
		}
	}
	e.AttendancePercentage = Percentage(e.ClassesAttended, e.TotalClasses)
}

// Percentage returns attended/total as a percentage, 0 when nothing was held.
func Percentage(attended, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(attended) / float64(total) * 100
}
