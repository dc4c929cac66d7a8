package model

import "time"

// RequestTypePricing is the request type sent for outlier pricing questions.
const RequestTypePricing = "pricing_clarification"

// ClarificationVendor is one vendor line the clarification channel should ask about.
type ClarificationVendor struct {
	SubmissionID string  `json:"submission_id"`
	VendorName   string  `json:"vendor_name"`
	Issue        string  `json:"issue"`
	Amount       float64 `json:"amount"`
}

// FlaggedItem is one outlier group in a clarification request.
type FlaggedItem struct {
	GroupKey    string                `json:"group_key"`
	Description string                `json:"description"`
	Vendors     []ClarificationVendor `json:"vendors"`
}

// ClarificationRequest is the payload emitted to the clarification channel.
type ClarificationRequest struct {
	TargetID     string        `json:"target_id"`
	RequestType  string        `json:"request_type"`
	FlaggedItems []FlaggedItem `json:"flagged_items"`
	Timestamp    time.Time     `json:"timestamp"`
}

// DeliveryStatus is the outcome of a clarification send.
type DeliveryStatus string

const (
	DeliveryStatusSent   DeliveryStatus = "sent"
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// Delivery is the persisted log entry of one clarification send.
type Delivery struct {
	ID         string         `json:"id"`
	SnapshotID string         `json:"snapshot_id"`
	TargetID   string         `json:"target_id"`
	Status     DeliveryStatus `json:"status"`
	StatusCode int            `json:"status_code,omitempty"`
	Error      string         `json:"error,omitempty"`
	ItemCount  int            `json:"item_count"`
	CreatedAt  time.Time      `json:"created_at"`
}
