package leveling

import (
	"errors"
	"math"

	"github.com/sells-group/bidlevel/internal/model"
)

// validItem is a raw item that passed validation together with its key.
type validItem struct {
	item model.RawLineItem
	key  GroupKey
}

// ValidateItem checks a raw line item at the ingestion boundary. It returns
// the derived group key, or a *ValidationError.
func ValidateItem(item model.RawLineItem) (GroupKey, error) {
	reject := func(reason string) (GroupKey, error) {
		return GroupKey{}, &ValidationError{
			SubmissionID: item.SubmissionID,
			LineNumber:   item.LineNumber,
			Reason:       reason,
		}
	}

	if item.SubmissionID == "" {
		return reject("missing submission_id")
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"quantity", item.Quantity},
		{"unit_price", item.UnitPrice},
		{"extended_amount", item.ExtendedAmount},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return reject(f.name + " is not a finite number")
		}
	}
	if item.Quantity < 0 {
		return reject("negative quantity")
	}
	if item.UnitPrice < 0 {
		return reject("negative unit_price")
	}

	key, ok := KeyFor(item.CSICode, item.Description)
	if !ok {
		return reject("csi_code and description are both empty")
	}
	return singletonKey(key, item), nil
}

// validate splits items into accepted ones and rejections. Every rejection is
// reported; none is dropped.
func validate(items []model.RawLineItem) ([]validItem, []model.Rejection) {
	valid := make([]validItem, 0, len(items))
	var rejections []model.Rejection
	for _, it := range items {
		key, err := ValidateItem(it)
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				rejections = append(rejections, model.Rejection{
					SubmissionID: ve.SubmissionID,
					LineNumber:   ve.LineNumber,
					Reason:       ve.Reason,
				})
			}
			continue
		}
		valid = append(valid, validItem{item: it, key: key})
	}
	return valid, rejections
}
