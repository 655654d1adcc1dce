package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Ganesh1027/face-recognition-attendance/pkg/logging"
)

// AttendanceRecord is one marked attendance entry.
type AttendanceRecord struct {
	RollNumber string    `json:"roll_number"`
	Name       string    `json:"name"`
	Branch     string    `json:"branch"`
	Date       string    `json:"date"` // 2006-01-02
	Time       string    `json:"time"` // 15:04:05
	Timestamp  time.Time `json:"timestamp"`
}

// ErrDuplicateRecord is returned when attendance for (roll number, date)
// has already been marked.
var ErrDuplicateRecord = errors.New("attendance already marked for today")

// ErrRecordNotFound is returned when no record matches a delete request.
var ErrRecordNotFound = errors.New("attendance record not found")

var attendanceHeader = []string{"roll_number", "name", "branch", "date", "time", "timestamp"}

const timestampLayout = "2006-01-02 15:04:05"

// AttendanceStore persists attendance records in a CSV file. The
// duplicate check and the append run under one lock so two sessions can
// never both mark the same student on the same day.
type AttendanceStore struct {
	path string
	mu   sync.Mutex

	// now is swappable for tests.
	now func() time.Time
}

// NewAttendanceStore opens (and if necessary initializes) the attendance CSV.
func NewAttendanceStore(path string) (*AttendanceStore, error) {
	s := &AttendanceStore{path: path, now: time.Now}
	if err := ensureCSV(path, attendanceHeader); err != nil {
		return nil, fmt.Errorf("failed to initialize attendance store: %w", err)
	}
	return s, nil
}

// Append marks attendance for a student now. It returns ErrDuplicateRecord
// if a record for (roll number, today) already exists.
func (s *AttendanceStore) Append(rollNumber, name, branch string) (*AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	date := now.Format("2006-01-02")

	marked, err := s.hasMarked(rollNumber, date)
	if err != nil {
		return nil, err
	}
	if marked {
		return nil, ErrDuplicateRecord
	}

	rec := AttendanceRecord{
		RollNumber: rollNumber,
		Name:       name,
		Branch:     branch,
		Date:       date,
		Time:       now.Format("15:04:05"),
		Timestamp:  now,
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open attendance file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	row := []string{rec.RollNumber, rec.Name, rec.Branch, rec.Date, rec.Time, rec.Timestamp.Format(timestampLayout)}
	if err := w.Write(row); err != nil {
		return nil, fmt.Errorf("failed to write attendance record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush attendance record: %w", err)
	}

	logging.Infof("Attendance marked for %s (%s)", rollNumber, date)
	return &rec, nil
}

// HasMarkedToday reports whether the student already has a record for today.
func (s *AttendanceStore) HasMarkedToday(rollNumber string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMarked(rollNumber, s.now().Format("2006-01-02"))
}

// hasMarked scans for a (roll number, date) record. Caller holds the mutex.
func (s *AttendanceStore) hasMarked(rollNumber, date string) (bool, error) {
	rows, err := s.readAll()
	if err != nil {
		return false, err
	}
	for _, rec := range rows {
		if rec.RollNumber == rollNumber && rec.Date == date {
			return true, nil
		}
	}
	return false, nil
}

// Report returns attendance records, optionally filtered by date and branch.
// Empty filter values match everything.
func (s *AttendanceStore) Report(date, branch string) ([]AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.readAll()
	if err != nil {
		return nil, err
	}

	var out []AttendanceRecord
	for _, rec := range rows {
		if date != "" && rec.Date != date {
			continue
		}
		if branch != "" && rec.Branch != branch {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Stats summarizes attendance for a date (today when empty): total present
// and a per-branch breakdown.
func (s *AttendanceStore) Stats(date string) (int, map[string]int, error) {
	if date == "" {
		date = s.now().Format("2006-01-02")
	}

	rows, err := s.Report(date, "")
	if err != nil {
		return 0, nil, err
	}

	branchWise := make(map[string]int)
	for _, rec := range rows {
		branchWise[rec.Branch]++
	}
	return len(rows), branchWise, nil
}

// Delete removes the record with the given timestamp string.
func (s *AttendanceStore) Delete(timestamp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.readAll()
	if err != nil {
		return err
	}

	// Timestamps have second resolution, so two marks landing in the
	// same second share a key. Remove only the first match so one
	// delete request never takes out a second student's record.
	kept := rows[:0]
	found := false
	for _, rec := range rows {
		if !found && rec.Timestamp.Format(timestampLayout) == timestamp {
			found = true
			continue
		}
		kept = append(kept, rec)
	}
	if !found {
		return ErrRecordNotFound
	}
	return s.writeAll(kept)
}

// Export writes all attendance records to the given path and returns it.
func (s *AttendanceStore) Export(path string) (string, error) {
	rows, err := s.Report("", "")
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(attendanceHeader); err != nil {
		return "", err
	}
	for _, rec := range rows {
		row := []string{rec.RollNumber, rec.Name, rec.Branch, rec.Date, rec.Time, rec.Timestamp.Format(timestampLayout)}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return path, nil
}

// readAll loads every attendance row. Caller holds the mutex.
func (s *AttendanceStore) readAll() ([]AttendanceRecord, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open attendance file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(attendanceHeader)
	raw, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read attendance file: %w", err)
	}

	var rows []AttendanceRecord
	for i, row := range raw {
		if i == 0 {
			continue // header
		}
		ts, err := time.ParseInLocation(timestampLayout, row[5], time.Local)
		if err != nil {
			return nil, fmt.Errorf("corrupt attendance timestamp %q: %w", row[5], err)
		}
		rows = append(rows, AttendanceRecord{
			RollNumber: row[0],
			Name:       row[1],
			Branch:     row[2],
			Date:       row[3],
			Time:       row[4],
			Timestamp:  ts,
		})
	}
	return rows, nil
}

// writeAll rewrites the whole file. Caller holds the mutex.
func (s *AttendanceStore) writeAll(rows []AttendanceRecord) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create attendance file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(attendanceHeader); err != nil {
		f.Close()
		return err
	}
	for _, rec := range rows {
		row := []string{rec.RollNumber, rec.Name, rec.Branch, rec.Date, rec.Time, rec.Timestamp.Format(timestampLayout)}
		if err := w.Write(row); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
