package dtc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scantool/internal/models"
)

func sampleDTC(code string, status models.DTCStatus) models.DTC {
	return models.DTC{
		Code:        code,
		Description: Describe(code),
		Status:      status,
		DetectedAt:  time.Now(),
	}
}

func TestStoreReplaceAndGet(t *testing.T) {
	s := NewStore()

	s.Replace(models.StatusCurrent, []models.DTC{sampleDTC("P0300", models.StatusCurrent)})
	s.Replace(models.StatusPending, []models.DTC{sampleDTC("P0171", models.StatusPending)})
	s.Replace(models.StatusPermanent, []models.DTC{sampleDTC("P0420", models.StatusPermanent)})

	if got := s.Get(models.StatusCurrent); len(got) != 1 || got[0].Code != "P0300" {
		t.Errorf("current = %v", got)
	}
	if got := s.Get(models.StatusPending); len(got) != 1 || got[0].Code != "P0171" {
		t.Errorf("pending = %v", got)
	}
	if got := s.Get(models.StatusPermanent); len(got) != 1 || got[0].Code != "P0420" {
		t.Errorf("permanent = %v", got)
	}

	// A fresh read replaces, never accumulates.
	s.Replace(models.StatusCurrent, []models.DTC{sampleDTC("P0301", models.StatusCurrent)})
	if got := s.Get(models.StatusCurrent); len(got) != 1 || got[0].Code != "P0301" {
		t.Errorf("current after replace = %v", got)
	}
}

func TestStoreClearKeepsPermanent(t *testing.T) {
	s := NewStore()
	s.Replace(models.StatusCurrent, []models.DTC{sampleDTC("P0300", models.StatusCurrent)})
	s.Replace(models.StatusPending, []models.DTC{sampleDTC("P0171", models.StatusPending)})
	s.Replace(models.StatusPermanent, []models.DTC{sampleDTC("P0420", models.StatusPermanent)})

	s.Clear()

	if got := s.Get(models.StatusCurrent); len(got) != 0 {
		t.Errorf("current after clear = %v", got)
	}
	if got := s.Get(models.StatusPending); len(got) != 0 {
		t.Errorf("pending after clear = %v", got)
	}
	if got := s.Get(models.StatusPermanent); len(got) != 1 {
		t.Errorf("permanent after clear = %v, want it untouched", got)
	}
}

func TestStoreHistory(t *testing.T) {
	s := NewStore()
	s.Replace(models.StatusCurrent, []models.DTC{sampleDTC("P0300", models.StatusCurrent)})
	s.Replace(models.StatusCurrent, []models.DTC{sampleDTC("P0301", models.StatusCurrent)})
	s.Clear()

	hist := s.History()
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	if hist[0].Code != "P0300" || hist[1].Code != "P0301" {
		t.Errorf("history = %v", hist)
	}

	// Pending reads never enter the history.
	s.Replace(models.StatusPending, []models.DTC{sampleDTC("P0171", models.StatusPending)})
	if got := s.History(); len(got) != 2 {
		t.Errorf("history after pending read = %d entries, want 2", len(got))
	}
}

func TestStoreExport(t *testing.T) {
	s := NewStore()
	s.Replace(models.StatusCurrent, []models.DTC{
		sampleDTC("P0300", models.StatusCurrent),
		sampleDTC("P0420", models.StatusCurrent),
	})
	s.Replace(models.StatusPermanent, []models.DTC{sampleDTC("P0171", models.StatusPermanent)})

	path := filepath.Join(t.TempDir(), "dtcs.json")
	if err := s.Export(path); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}

	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}

	if report.Timestamp == "" {
		t.Error("export missing timestamp")
	}
	if _, err := time.Parse(time.RFC3339, report.Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC3339: %v", report.Timestamp, err)
	}
	if len(report.CurrentDTCs) != 2 {
		t.Errorf("current_dtcs = %v", report.CurrentDTCs)
	}
	if report.CurrentDTCs[0].Code != "P0300" || report.CurrentDTCs[0].Status != "current" {
		t.Errorf("current_dtcs[0] = %+v", report.CurrentDTCs[0])
	}
	if report.CurrentDTCs[0].Description != "Random/Multiple Cylinder Misfire Detected" {
		t.Errorf("current_dtcs[0].Description = %q", report.CurrentDTCs[0].Description)
	}
	if len(report.PendingDTCs) != 0 {
		t.Errorf("pending_dtcs = %v, want empty array", report.PendingDTCs)
	}
	if len(report.PermanentDTCs) != 1 || report.PermanentDTCs[0].Code != "P0171" {
		t.Errorf("permanent_dtcs = %v", report.PermanentDTCs)
	}

	// The wire format uses the exact field names downstream tooling reads.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"timestamp", "current_dtcs", "pending_dtcs", "permanent_dtcs"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("export missing %q field", key)
		}
	}
}
