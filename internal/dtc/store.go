package dtc

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"scantool/internal/models"
)

// Store tracks the code sets read from the vehicle per status, plus a
// history of every current code seen while the tool has been running.
type Store struct {
	mu        sync.Mutex
	current   []models.DTC
	pending   []models.DTC
	permanent []models.DTC
	history   []models.DTC
}

func NewStore() *Store {
	return &Store{}
}

// Replace swaps the stored set for one status with a fresh read.
// Current codes are also appended to the history.
func (s *Store) Replace(status models.DTCStatus, codes []models.DTC) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch status {
	case models.StatusCurrent:
		s.current = append([]models.DTC(nil), codes...)
		s.history = append(s.history, codes...)
	case models.StatusPending:
		s.pending = append([]models.DTC(nil), codes...)
	case models.StatusPermanent:
		s.permanent = append([]models.DTC(nil), codes...)
	}
}

// Get returns a copy of the stored codes for one status.
func (s *Store) Get(status models.DTCStatus) []models.DTC {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch status {
	case models.StatusCurrent:
		return append([]models.DTC(nil), s.current...)
	case models.StatusPending:
		return append([]models.DTC(nil), s.pending...)
	case models.StatusPermanent:
		return append([]models.DTC(nil), s.permanent...)
	}
	return nil
}

// Clear drops current and pending codes. Permanent codes only age out
// in the ECU itself and survive a Mode 04 clear.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.pending = nil
}

// History returns every current code recorded since startup.
func (s *Store) History() []models.DTC {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.DTC(nil), s.history...)
}

// ReportEntry is one code in an exported report.
type ReportEntry struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Report is the export schema for a trouble code snapshot.
type Report struct {
	Timestamp     string        `json:"timestamp"`
	CurrentDTCs   []ReportEntry `json:"current_dtcs"`
	PendingDTCs   []ReportEntry `json:"pending_dtcs"`
	PermanentDTCs []ReportEntry `json:"permanent_dtcs"`
}

// Report builds an export snapshot of everything currently stored.
func (s *Store) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Report{
		Timestamp:     time.Now().Format(time.RFC3339),
		CurrentDTCs:   reportEntries(s.current),
		PendingDTCs:   reportEntries(s.pending),
		PermanentDTCs: reportEntries(s.permanent),
	}
}

func reportEntries(codes []models.DTC) []ReportEntry {
	out := make([]ReportEntry, 0, len(codes))
	for _, d := range codes {
		out = append(out, ReportEntry{
			Code:        d.Code,
			Description: d.Description,
			Status:      string(d.Status),
		})
	}
	return out
}

// Export writes the report as indented JSON.
func (s *Store) Export(path string) error {
	data, err := json.MarshalIndent(s.Report(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
