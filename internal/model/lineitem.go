// Package model holds the data contracts shared by the leveling engine, the
// stores, the HTTP API and the clarification channel.
package model

import "time"

// RawLineItem is a single priced line as delivered by the extraction
// collaborator. It is immutable once ingested.
type RawLineItem struct {
	SubmissionID   string  `json:"submission_id"`
	VendorName     string  `json:"vendor_name"`
	CSICode        *string `json:"csi_code"`
	Description    string  `json:"description"`
	Quantity       float64 `json:"quantity"`
	UnitOfMeasure  string  `json:"unit_of_measure"`
	UnitPrice      float64 `json:"unit_price"`
	ExtendedAmount float64 `json:"extended_amount"`
	IsAllowance    bool    `json:"is_allowance"`
	LineNumber     int     `json:"line_number"` // 1-based position within the submission
}

// CSI returns the CSI code or "" when absent.
func (li RawLineItem) CSI() string {
	if li.CSICode == nil {
		return ""
	}
	return *li.CSICode
}

// Submission is one vendor's bid for a procurement event.
type Submission struct {
	EventID      string        `json:"event_id"`
	SubmissionID string        `json:"submission_id"`
	VendorName   string        `json:"vendor_name"`
	Items        []RawLineItem `json:"items"`
}

// SubmissionSummary is the listing view of a stored submission.
type SubmissionSummary struct {
	SubmissionID string    `json:"submission_id"`
	EventID      string    `json:"event_id"`
	VendorName   string    `json:"vendor_name"`
	ItemCount    int       `json:"item_count"`
	ReceivedAt   time.Time `json:"received_at"`
}

// Stamp copies the submission metadata onto every item and assigns line
// numbers to items that arrived without one.
func (s *Submission) Stamp() {
	for i := range s.Items {
		s.Items[i].SubmissionID = s.SubmissionID
		if s.Items[i].VendorName == "" {
			s.Items[i].VendorName = s.VendorName
		}
		if s.Items[i].LineNumber == 0 {
			s.Items[i].LineNumber = i + 1
		}
	}
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
