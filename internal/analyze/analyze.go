// Package analyze aggregates completed message records into the usage views
// the CLI and TUI render: overall summary, top senders, usage by month.
package analyze

import (
	"sort"
	"time"

	"gmaildu/internal/model"
	"gmaildu/internal/util"
)

// unknownMonth labels records whose internal date never arrived.
const unknownMonth = "Unknown"

// Report is an immutable aggregation over a ListComplete snapshot.
type Report struct {
	records []model.MessageRecord
}

// NewReport builds a report from completed records. Records in other states
// are ignored defensively; the store snapshot should not contain any.
func NewReport(recs []model.MessageRecord) *Report {
	filtered := make([]model.MessageRecord, 0, len(recs))
	for _, r := range recs {
		if r.Status == model.StatusComplete {
			filtered = append(filtered, r)
		}
	}
	return &Report{records: filtered}
}

// Summary returns the message count and total size in bytes.
func (r *Report) Summary() (count int, totalBytes int64) {
	for _, m := range r.records {
		totalBytes += m.Size
	}
	return len(r.records), totalBytes
}

// BySender returns the topN senders by total size, descending. Sender keys
// are normalized email addresses; unparsable From headers keep their raw
// value so their usage is still visible.
func (r *Report) BySender(topN int) []model.SenderUsage {
	byKey := make(map[string]*model.SenderUsage)
	for _, m := range r.records {
		key := util.NormalizeSender(m.Sender)
		if key == "" {
			key = m.Sender
		}
		u, ok := byKey[key]
		if !ok {
			u = &model.SenderUsage{Sender: key}
			byKey[key] = u
		}
		u.Bytes += m.Size
		u.Count++
	}

	out := make([]model.SenderUsage, 0, len(byKey))
	for _, u := range byKey {
		out = append(out, *u)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Bytes == out[j].Bytes {
			return out[i].Sender < out[j].Sender
		}
		return out[i].Bytes > out[j].Bytes
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// ByMonth returns usage grouped by YYYY-MM of the internal date, ascending.
func (r *Report) ByMonth() []model.MonthUsage {
	byMonth := make(map[string]*model.MonthUsage)
	for _, m := range r.records {
		key := monthOf(m.InternalDate)
		u, ok := byMonth[key]
		if !ok {
			u = &model.MonthUsage{Month: key}
			byMonth[key] = u
		}
		u.Bytes += m.Size
		u.Count++
	}

	out := make([]model.MonthUsage, 0, len(byMonth))
	for _, u := range byMonth {
		out = append(out, *u)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

// LargestMessages returns up to n records sorted by size, descending.
func (r *Report) LargestMessages(n int) []model.MessageRecord {
	out := make([]model.MessageRecord, len(r.records))
	copy(out, r.records)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Size > out[j].Size })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Messages returns the records matching an optional sender or month filter.
// Empty filters match everything. Used by the TUI drill-down views.
func (r *Report) Messages(sender, month string) []model.MessageRecord {
	var out []model.MessageRecord
	for _, m := range r.records {
		if sender != "" {
			key := util.NormalizeSender(m.Sender)
			if key == "" {
				key = m.Sender
			}
			if key != sender {
				continue
			}
		}
		if month != "" && monthOf(m.InternalDate) != month {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Size > out[j].Size })
	return out
}

func monthOf(internalDate int64) string {
	if internalDate == 0 {
		return unknownMonth
	}
	return time.UnixMilli(internalDate).UTC().Format("2006-01")
}
