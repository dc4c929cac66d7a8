// Package ingest turns vendor bid files (CSV, XLSX, JSON) and YAML event
// manifests into raw line items. Rows that cannot be parsed are returned as
// rejections alongside the items that could.
package ingest

import (
	"sort"

	"github.com/sells-group/bidlevel/internal/model"
)

// Options fills values a file leaves out.
type Options struct {
	SubmissionID string
	VendorName   string
	// Sheet selects an XLSX sheet by name. The first sheet is used when empty.
	Sheet string
}

// Batch is the result of reading one or more bid files.
type Batch struct {
	Items      []model.RawLineItem
	Rejections []model.Rejection
}

// Submissions groups the batch items by submission id, preserving line order.
func (b *Batch) Submissions(eventID string) []model.Submission {
	index := make(map[string]int)
	var subs []model.Submission
	for _, it := range b.Items {
		i, ok := index[it.SubmissionID]
		if !ok {
			i = len(subs)
			index[it.SubmissionID] = i
			subs = append(subs, model.Submission{
				EventID:      eventID,
				SubmissionID: it.SubmissionID,
				VendorName:   it.VendorName,
			})
		}
		subs[i].Items = append(subs[i].Items, it)
	}
	return subs
}

func (b *Batch) merge(o *Batch) {
	if o == nil {
		return
	}
	b.Items = append(b.Items, o.Items...)
	b.Rejections = append(b.Rejections, o.Rejections...)
}

func (b *Batch) reject(submissionID string, line int, reason string) {
	b.Rejections = append(b.Rejections, model.Rejection{
		SubmissionID: submissionID,
		LineNumber:   line,
		Reason:       reason,
	})
}

func (b *Batch) sortRejections() {
	sort.SliceStable(b.Rejections, func(i, j int) bool {
		ri, rj := b.Rejections[i], b.Rejections[j]
		if ri.SubmissionID != rj.SubmissionID {
			return ri.SubmissionID < rj.SubmissionID
		}
		return ri.LineNumber < rj.LineNumber
	})
}
