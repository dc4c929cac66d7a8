package ingest

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/bidlevel/internal/model"
)

// Canonical column names.
const (
	colSubmission  = "submission_id"
	colVendor      = "vendor_name"
	colCSI         = "csi_code"
	colDescription = "description"
	colQuantity    = "quantity"
	colUnit        = "unit_of_measure"
	colUnitPrice   = "unit_price"
	colExtended    = "extended_amount"
	colAllowance   = "is_allowance"
	colLine        = "line_number"
)

var columnAliases = map[string]string{
	"submission_id":   colSubmission,
	"submission":      colSubmission,
	"vendor_name":     colVendor,
	"vendor":          colVendor,
	"csi_code":        colCSI,
	"csi":             colCSI,
	"description":     colDescription,
	"desc":            colDescription,
	"item":            colDescription,
	"quantity":        colQuantity,
	"qty":             colQuantity,
	"unit_of_measure": colUnit,
	"uom":             colUnit,
	"unit":            colUnit,
	"unit_price":      colUnitPrice,
	"rate":            colUnitPrice,
	"extended_amount": colExtended,
	"extended":        colExtended,
	"amount":          colExtended,
	"total":           colExtended,
	"is_allowance":    colAllowance,
	"allowance":       colAllowance,
	"line_number":     colLine,
	"line":            colLine,
}

// columnMap maps canonical column names to row positions.
type columnMap map[string]int

func headerName(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_", ".", "").Replace(s)
	return s
}

func mapHeader(header []string) (columnMap, error) {
	cols := make(columnMap)
	for i, h := range header {
		canon, ok := columnAliases[headerName(h)]
		if !ok {
			continue
		}
		if _, dup := cols[canon]; !dup {
			cols[canon] = i
		}
	}

	_, hasDesc := cols[colDescription]
	_, hasCSI := cols[colCSI]
	if !hasDesc && !hasCSI {
		return nil, eris.New("ingest: header needs a description or csi_code column")
	}
	_, hasExt := cols[colExtended]
	_, hasPrice := cols[colUnitPrice]
	if !hasExt && !hasPrice {
		return nil, eris.New("ingest: header needs an extended_amount or unit_price column")
	}
	return cols, nil
}

func (c columnMap) get(row []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// item converts one data row. pos is the 1-based data row position, used as
// the line number when the file carries none.
func (c columnMap) item(row []string, pos int, opts Options) (model.RawLineItem, error) {
	it := model.RawLineItem{
		SubmissionID:  c.get(row, colSubmission),
		VendorName:    c.get(row, colVendor),
		CSICode:       model.StringPtr(c.get(row, colCSI)),
		Description:   c.get(row, colDescription),
		UnitOfMeasure: c.get(row, colUnit),
		LineNumber:    pos,
	}
	if it.SubmissionID == "" {
		it.SubmissionID = opts.SubmissionID
	}
	if it.VendorName == "" {
		it.VendorName = opts.VendorName
	}

	if raw := c.get(row, colLine); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return it, eris.Errorf("invalid line_number %q", raw)
		}
		it.LineNumber = n
	}

	var err error
	if it.Quantity, err = parseNumber(c.get(row, colQuantity)); err != nil {
		return it, eris.Wrap(err, colQuantity)
	}
	if it.UnitPrice, err = parseNumber(c.get(row, colUnitPrice)); err != nil {
		return it, eris.Wrap(err, colUnitPrice)
	}
	ext := c.get(row, colExtended)
	if ext == "" {
		it.ExtendedAmount = it.Quantity * it.UnitPrice
	} else if it.ExtendedAmount, err = parseNumber(ext); err != nil {
		return it, eris.Wrap(err, colExtended)
	}
	if it.IsAllowance, err = parseBool(c.get(row, colAllowance)); err != nil {
		return it, eris.Wrap(err, colAllowance)
	}
	return it, nil
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// parseNumber accepts plain numbers and money cells such as "$1,250.00" or
// "(300)". An empty cell is zero.
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	clean := strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, eris.Errorf("invalid number %q", s)
	}
	if neg {
		v = -v
	}
	return v, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "false", "no", "n", "0":
		return false, nil
	case "true", "yes", "y", "1", "x":
		return true, nil
	default:
		return false, eris.Errorf("invalid boolean %q", s)
	}
}
