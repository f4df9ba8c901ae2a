package analyze

import (
	"testing"

	"gmaildu/internal/model"
)

func TestReportEmpty(t *testing.T) {
	rep := NewReport(nil)
	count, bytes := rep.Summary()
	if count != 0 || bytes != 0 {
		t.Fatalf("empty summary want (0,0) got (%d,%d)", count, bytes)
	}
	if got := rep.BySender(10); len(got) != 0 {
		t.Fatalf("expected no senders, got %v", got)
	}
	if got := rep.ByMonth(); len(got) != 0 {
		t.Fatalf("expected no months, got %v", got)
	}
}

func completedRecords() []model.MessageRecord {
	return []model.MessageRecord{
		{ID: "1", Size: 100, Sender: "Alice <alice@example.com>", Subject: "Hello",
			InternalDate: 1609459200000, Status: model.StatusComplete}, // 2021-01-01
		{ID: "2", Size: 200, Sender: "bob@example.com", Subject: "Hi",
			InternalDate: 1612137600000, Status: model.StatusComplete}, // 2021-02-01
		{ID: "3", Size: 300, Sender: "alice+news@example.com", Subject: "Re: Hello",
			InternalDate: 1609545600000, Status: model.StatusComplete}, // 2021-01-02
	}
}

func TestReportSummaryAndGrouping(t *testing.T) {
	rep := NewReport(completedRecords())

	count, bytes := rep.Summary()
	if count != 3 || bytes != 600 {
		t.Fatalf("summary want (3,600) got (%d,%d)", count, bytes)
	}

	senders := rep.BySender(10)
	if len(senders) != 2 {
		t.Fatalf("want 2 senders, got %v", senders)
	}
	// Normalization folds the display name and the +alias into one key, and
	// alice's 400 bytes outrank bob's 200.
	if senders[0].Sender != "alice@example.com" || senders[0].Bytes != 400 || senders[0].Count != 2 {
		t.Fatalf("top sender: %+v", senders[0])
	}
	if senders[1].Sender != "bob@example.com" || senders[1].Bytes != 200 {
		t.Fatalf("second sender: %+v", senders[1])
	}

	months := rep.ByMonth()
	if len(months) != 2 {
		t.Fatalf("want 2 months, got %v", months)
	}
	if months[0].Month != "2021-01" || months[0].Bytes != 400 || months[0].Count != 2 {
		t.Fatalf("jan: %+v", months[0])
	}
	if months[1].Month != "2021-02" || months[1].Bytes != 200 {
		t.Fatalf("feb: %+v", months[1])
	}
}

func TestReportTopNTruncates(t *testing.T) {
	rep := NewReport(completedRecords())
	senders := rep.BySender(1)
	if len(senders) != 1 || senders[0].Sender != "alice@example.com" {
		t.Fatalf("topN=1 want [alice], got %v", senders)
	}
}

func TestReportIgnoresNonComplete(t *testing.T) {
	recs := append(completedRecords(),
		model.MessageRecord{ID: "p", Size: 999, Status: model.StatusPending},
		model.MessageRecord{ID: "d", Size: 999, Status: model.StatusDeleted},
	)
	rep := NewReport(recs)
	count, bytes := rep.Summary()
	if count != 3 || bytes != 600 {
		t.Fatalf("non-complete records leaked into summary: (%d,%d)", count, bytes)
	}
}

func TestReportUnknownMonth(t *testing.T) {
	rep := NewReport([]model.MessageRecord{
		{ID: "1", Size: 10, Status: model.StatusComplete}, // InternalDate zero
	})
	months := rep.ByMonth()
	if len(months) != 1 || months[0].Month != "Unknown" {
		t.Fatalf("want [Unknown], got %v", months)
	}
}

func TestLargestMessagesAndFilter(t *testing.T) {
	rep := NewReport(completedRecords())

	largest := rep.LargestMessages(2)
	if len(largest) != 2 || largest[0].ID != "3" || largest[1].ID != "2" {
		t.Fatalf("largest: %v", largest)
	}

	fromAlice := rep.Messages("alice@example.com", "")
	if len(fromAlice) != 2 || fromAlice[0].ID != "3" {
		t.Fatalf("sender filter: %v", fromAlice)
	}
	inJan := rep.Messages("", "2021-01")
	if len(inJan) != 2 {
		t.Fatalf("month filter: %v", inJan)
	}
}
