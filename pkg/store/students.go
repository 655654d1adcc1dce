// Package store provides flat-file persistence for student and attendance
// records. Records are typed at the store boundary and kept in CSV files.
package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/Ganesh1027/face-recognition-attendance/pkg/logging"
)

// StudentRecord is a single enrolled student.
type StudentRecord struct {
	RollNumber  string `json:"roll_number"`
	Name        string `json:"name"`
	Gender      string `json:"gender"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Branch      string `json:"branch"`
	QRCodePath  string `json:"qr_code_path"`
	FaceTrained bool   `json:"face_trained"`
}

// ErrStudentExists is returned when saving a roll number that is already enrolled.
var ErrStudentExists = errors.New("student with this roll number already exists")

// ErrStudentNotFound is returned when a roll number is not enrolled.
var ErrStudentNotFound = errors.New("student not found")

var studentHeader = []string{"roll_number", "name", "gender", "email", "phone", "branch", "qr_code_path", "face_trained"}

// StudentStore persists student records in a CSV file.
type StudentStore struct {
	path string
	mu   sync.Mutex
}

// NewStudentStore opens (and if necessary initializes) the students CSV.
func NewStudentStore(path string) (*StudentStore, error) {
	s := &StudentStore{path: path}
	if err := ensureCSV(path, studentHeader); err != nil {
		return nil, fmt.Errorf("failed to initialize student store: %w", err)
	}
	return s, nil
}

// ensureCSV creates the file with the given header row if it does not exist.
func ensureCSV(path string, header []string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// Save appends a new student record. Roll numbers are unique.
func (s *StudentStore) Save(rec StudentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.readAll()
	if err != nil {
		return err
	}
	for _, existing := range rows {
		if existing.RollNumber == rec.RollNumber {
			return ErrStudentExists
		}
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open students file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(studentRow(rec)); err != nil {
		return fmt.Errorf("failed to write student: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush student: %w", err)
	}

	logging.Debugf("Saved student %s (%s)", rec.RollNumber, rec.Name)
	return nil
}

// Get returns the student with the given roll number.
func (s *StudentStore) Get(rollNumber string) (*StudentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.readAll()
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].RollNumber == rollNumber {
			return &rows[i], nil
		}
	}
	return nil, ErrStudentNotFound
}

// Exists reports whether the roll number is enrolled.
func (s *StudentStore) Exists(rollNumber string) bool {
	rec, err := s.Get(rollNumber)
	return err == nil && rec != nil
}

// All returns every enrolled student.
func (s *StudentStore) All() ([]StudentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAll()
}

// Delete removes the student with the given roll number.
func (s *StudentStore) Delete(rollNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.readAll()
	if err != nil {
		return err
	}

	kept := rows[:0]
	found := false
	for _, rec := range rows {
		if rec.RollNumber == rollNumber {
			found = true
			continue
		}
		kept = append(kept, rec)
	}
	if !found {
		return ErrStudentNotFound
	}

	if err := s.writeAll(kept); err != nil {
		return err
	}
	logging.Infof("Deleted student %s", rollNumber)
	return nil
}

// SetQRCodePath records the generated QR code image path for a student.
func (s *StudentStore) SetQRCodePath(rollNumber, qrPath string) error {
	return s.update(rollNumber, func(rec *StudentRecord) {
		rec.QRCodePath = qrPath
	})
}

// SetFaceTrained records whether a face template exists for the student.
func (s *StudentStore) SetFaceTrained(rollNumber string, trained bool) error {
	return s.update(rollNumber, func(rec *StudentRecord) {
		rec.FaceTrained = trained
	})
}

func (s *StudentStore) update(rollNumber string, fn func(*StudentRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.readAll()
	if err != nil {
		return err
	}
	found := false
	for i := range rows {
		if rows[i].RollNumber == rollNumber {
			fn(&rows[i])
			found = true
			break
		}
	}
	if !found {
		return ErrStudentNotFound
	}
	return s.writeAll(rows)
}

// readAll loads every student row. Caller holds the mutex.
func (s *StudentStore) readAll() ([]StudentRecord, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open students file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(studentHeader)
	raw, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read students file: %w", err)
	}

	var rows []StudentRecord
	for i, row := range raw {
		if i == 0 {
			continue // header
		}
		rows = append(rows, StudentRecord{
			RollNumber:  row[0],
			Name:        row[1],
			Gender:      row[2],
			Email:       row[3],
			Phone:       row[4],
			Branch:      row[5],
			QRCodePath:  row[6],
			FaceTrained: row[7] == "Yes",
		})
	}
	return rows, nil
}

// writeAll rewrites the whole file. Caller holds the mutex.
func (s *StudentStore) writeAll(rows []StudentRecord) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create students file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(studentHeader); err != nil {
		f.Close()
		return err
	}
	for _, rec := range rows {
		if err := w.Write(studentRow(rec)); err != nil {
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

func studentRow(rec StudentRecord) []string {
	trained := "No"
	if rec.FaceTrained {
		trained = "Yes"
	}
	return []string{rec.RollNumber, rec.Name, rec.Gender, rec.Email, rec.Phone, rec.Branch, rec.QRCodePath, trained}
}
