package billing

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func novemberBreakdown(t *testing.T) *CostBreakdown {
	t.Helper()
	b, err := New(novemberStore(t), testModel(t)).CalculateDetailedBreakdown(ctx, novStart, decStart, "vendor_1")
	require.NoError(t, err)
	return b
}

func TestTable(t *testing.T) {
	tbl := novemberBreakdown(t).Table()

	assert.Equal(t, "Cost Breakdown for vendor_1", tbl.Title)
	assert.Equal(t, "Period: 2023-11-01 to 2023-11-30 (30 days)", tbl.Subtitle)
	assert.Equal(t, []string{"Period", "Usage (kWh)", "Rate (AUD/kWh)", "Cost (AUD)"}, tbl.Header)
	assert.Equal(t, [][]string{
		{"peak", "150.20", "0.4500", "67.59"},
		{"shoulder", "220.30", "0.2500", "55.08"},
		{"off_peak", "180.50", "0.1500", "27.08"},
	}, tbl.Rows)
	assert.Equal(t, []FooterLine{
		{Label: "Supply Charge 30 days", Amount: "28.50"},
		{Label: "Sub total Costs", Amount: "178.25"},
		{Label: "Solar Feed-in 85.20 kWh", Amount: "-12.78"},
		{Label: "Net Total", Amount: "165.47"},
	}, tbl.Footer)
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, novemberBreakdown(t)))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	title, err := f.GetCellValue("summary", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Cost Breakdown for vendor_1", title)

	period, err := f.GetCellValue("summary", "A6")
	require.NoError(t, err)
	assert.Equal(t, "shoulder", period)

	net, err := f.GetCellValue("summary", "D12")
	require.NoError(t, err)
	assert.Equal(t, "165.47", net)

	rows, err := f.GetRows("daily")
	require.NoError(t, err)
	assert.Len(t, rows, 31)
	assert.Equal(t, "2023-11-04", rows[4][0])
}

func TestWritePDF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePDF(&buf, novemberBreakdown(t)))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}
