package model

import "time"

// OutlierType is the direction of an outlier relative to the group bounds.
type OutlierType string

const (
	OutlierLow  OutlierType = "low"
	OutlierHigh OutlierType = "high"
)

// Severity grades how far beyond its bound an outlier falls.
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// Rank orders severities so callers can filter by a minimum level.
// Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityMild:
		return 1
	case SeverityModerate:
		return 2
	case SeveritySevere:
		return 3
	default:
		return 0
	}
}

// ParseSeverity validates a severity name.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(s)
	return sev, sev.Rank() > 0
}

// GroupStatistics describes the base (non-allowance) extended amounts of one
// group. Nil fields are not computable for the given count.
type GroupStatistics struct {
	Count  int      `json:"count"`
	Mean   *float64 `json:"mean"`
	Median *float64 `json:"median"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	Std    *float64 `json:"std"`
	Q1     *float64 `json:"q1"`
	Q3     *float64 `json:"q3"`
	IQR    *float64 `json:"iqr"`
}

// LevelingVendorEntry is one vendor line inside a group.
type LevelingVendorEntry struct {
	SubmissionID        string       `json:"submission_id"`
	VendorName          string       `json:"vendor_name"`
	Quantity            float64      `json:"quantity"`
	UnitOfMeasure       string       `json:"unit_of_measure"`
	UnitPrice           float64      `json:"unit_price"`
	ExtendedAmount      float64      `json:"extended_amount"`
	IsAllowance         bool         `json:"is_allowance"`
	IsOutlier           bool         `json:"is_outlier"`
	OutlierType         *OutlierType `json:"outlier_type"`
	OutlierSeverity     *Severity    `json:"outlier_severity"`
	DeviationFromMedian *float64     `json:"deviation_from_median"`
	PercentileRank      *float64     `json:"percentile_rank"`
}

// LevelingLineItemGroup is the set of comparable line items sharing a group key.
type LevelingLineItemGroup struct {
	GroupKey     string                `json:"group_key"`
	Description  string                `json:"description"`
	CSICode      *string               `json:"csi_code"`
	ItemCount    int                   `json:"item_count"`
	Statistics   GroupStatistics       `json:"statistics"`
	Vendors      []LevelingVendorEntry `json:"vendors"`
	HasOutliers  bool                  `json:"has_outliers"`
	OutlierCount int                   `json:"outlier_count"`
}

// VendorBaseBid aggregates one submission's totals across all groups.
type VendorBaseBid struct {
	SubmissionID   string  `json:"submission_id"`
	VendorName     string  `json:"vendor_name"`
	BaseTotal      float64 `json:"base_total"`
	AllowanceTotal float64 `json:"allowance_total"`
	AdjustedTotal  float64 `json:"adjusted_total"`
	GroupCount     int     `json:"group_count"`
}

// Rejection records a raw line item refused at validation.
type Rejection struct {
	SubmissionID string `json:"submission_id"`
	LineNumber   int    `json:"line_number"`
	Reason       string `json:"reason"`
}

// SummaryStats are the portfolio-wide figures of a snapshot.
type SummaryStats struct {
	TotalLineItems       int             `json:"total_line_items"`
	TotalOutlierGroups   int             `json:"total_outlier_groups"`
	TotalOutliers        int             `json:"total_outliers"`
	OutlierPercentage    float64         `json:"outlier_percentage"`
	VendorCount          int             `json:"vendor_count"`
	BaseBidStatistics    GroupStatistics `json:"base_bid_statistics"`
	AverageItemsPerGroup float64         `json:"average_items_per_group"`
	RejectedLineItems    int             `json:"rejected_line_items"`
	Rejections           []Rejection     `json:"rejections"`
}

// SeverityLevels counts outliers per severity.
type SeverityLevels struct {
	Mild     int `json:"mild"`
	Moderate int `json:"moderate"`
	Severe   int `json:"severe"`
}

// OutlierSummary rolls up outliers across all groups.
type OutlierSummary struct {
	TotalOutliers   int            `json:"total_outliers"`
	OutliersByGroup map[string]int `json:"outliers_by_group"`
	SeverityLevels  SeverityLevels `json:"severity_levels"`
}

// LevelingSnapshot is the immutable result of one leveling run. A later run
// for the same event supersedes it; nothing edits it in place.
type LevelingSnapshot struct {
	ID               string                  `json:"id"`
	EventID          string                  `json:"event_id"`
	AnalysisDate     time.Time               `json:"analysis_date"`
	OutlierThreshold float64                 `json:"outlier_threshold"`
	TotalSubmissions int                     `json:"total_submissions"`
	TotalLineItems   int                     `json:"total_line_items"`
	Groups           []LevelingLineItemGroup `json:"groups"`
	VendorBaseBids   []VendorBaseBid         `json:"vendor_base_bids"`
	SummaryStats     SummaryStats            `json:"summary_stats"`
	OutlierSummary   OutlierSummary          `json:"outlier_summary"`
	ProcessingTime   float64                 `json:"processing_time"`
}

// WithoutDetails returns a copy whose groups omit per-vendor entries. The
// receiver is left untouched.
func (s *LevelingSnapshot) WithoutDetails() *LevelingSnapshot {
	out := *s
	out.Groups = make([]LevelingLineItemGroup, len(s.Groups))
	for i, g := range s.Groups {
		g.Vendors = nil
		out.Groups[i] = g
	}
	return &out
}

// SnapshotSummary is the listing view of a stored snapshot.
type SnapshotSummary struct {
	ID             string    `json:"id"`
	EventID        string    `json:"event_id"`
	AnalysisDate   time.Time `json:"analysis_date"`
	TotalLineItems int       `json:"total_line_items"`
	TotalOutliers  int       `json:"total_outliers"`
}

// Summary returns the listing view of s.
func (s *LevelingSnapshot) Summary() SnapshotSummary {
	return SnapshotSummary{
		ID:             s.ID,
		EventID:        s.EventID,
		AnalysisDate:   s.AnalysisDate,
		TotalLineItems: s.TotalLineItems,
		TotalOutliers:  s.OutlierSummary.TotalOutliers,
	}
}
