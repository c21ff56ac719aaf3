package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/example/chestscan/internal/repository"
)

func samplePrediction() *repository.Prediction {
	return &repository.Prediction{
		RecordID:     "rec-1",
		OwnerID:      "user-1",
		ImageName:    "xray.png",
		PatientName:  "Alice",
		PatientEmail: "a@b.com",
		Label:        "Pneumonia",
		Probability:  0.42,
		CreatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRecordProducesPDF(t *testing.T) {
	data, err := NewGenerator().Record(samplePrediction(), "alice")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("output does not look like a PDF: %q", data[:min(8, len(data))])
	}
}

func TestHistoryProducesPDFWithNoRecords(t *testing.T) {
	data, err := NewGenerator().History("alice", nil)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("output does not look like a PDF: %q", data[:min(8, len(data))])
	}
}

func TestHistoryProducesPDFWithRecords(t *testing.T) {
	preds := []*repository.Prediction{samplePrediction(), samplePrediction()}
	data, err := NewGenerator().History("alice", preds)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty PDF")
	}
}
