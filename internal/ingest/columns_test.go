package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"", 0, false},
		{"42", 42, false},
		{"1250.5", 1250.5, false},
		{"$1,250.00", 1250, false},
		{" $ 99 ", 99, false},
		{"-300", -300, false},
		{"(300)", -300, false},
		{"($1,000.00)", -1000, false},
		{"abc", 0, true},
		{"$", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseNumber(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParseBool(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"true", "TRUE", "yes", "Y", "1", "x", "X"} {
		got, err := parseBool(s)
		require.NoError(t, err, s)
		assert.True(t, got, s)
	}
	for _, s := range []string{"", "false", "No", "n", "0"} {
		got, err := parseBool(s)
		require.NoError(t, err, s)
		assert.False(t, got, s)
	}
	_, err := parseBool("maybe")
	assert.Error(t, err)
}

func TestMapHeader_Aliases(t *testing.T) {
	t.Parallel()

	cols, err := mapHeader([]string{"\ufeffSubmission ID", "Vendor", "CSI", "Item", "Qty", "UOM", "Rate", "Total", "Allowance", "Line"})
	require.NoError(t, err)

	assert.Equal(t, 0, cols[colSubmission])
	assert.Equal(t, 1, cols[colVendor])
	assert.Equal(t, 2, cols[colCSI])
	assert.Equal(t, 3, cols[colDescription])
	assert.Equal(t, 4, cols[colQuantity])
	assert.Equal(t, 5, cols[colUnit])
	assert.Equal(t, 6, cols[colUnitPrice])
	assert.Equal(t, 7, cols[colExtended])
	assert.Equal(t, 8, cols[colAllowance])
	assert.Equal(t, 9, cols[colLine])
}

func TestMapHeader_FirstDuplicateWins(t *testing.T) {
	t.Parallel()

	cols, err := mapHeader([]string{"description", "amount", "total"})
	require.NoError(t, err)
	assert.Equal(t, 1, cols[colExtended])
}

func TestMapHeader_MissingColumns(t *testing.T) {
	t.Parallel()

	_, err := mapHeader([]string{"vendor", "amount"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "description or csi_code")

	_, err = mapHeader([]string{"description", "qty"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extended_amount or unit_price")
}

func TestColumnMapItem_LineNumber(t *testing.T) {
	t.Parallel()

	cols, err := mapHeader([]string{"description", "amount", "line"})
	require.NoError(t, err)

	it, err := cols.item([]string{"Roofing", "10", "7"}, 2, Options{SubmissionID: "sub-1", VendorName: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, 7, it.LineNumber)
	assert.Equal(t, "sub-1", it.SubmissionID)
	assert.Equal(t, "Acme", it.VendorName)
	assert.Nil(t, it.CSICode)

	_, err = cols.item([]string{"Roofing", "10", "zero"}, 3, Options{})
	assert.Error(t, err)
}
