package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/erpwoosync/cianbox-pos-sub001/internal/model"
)

func TestDailyReportXLSX(t *testing.T) {
	closed := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	closing := decimal.RequireFromString("1300")
	diff := decimal.RequireFromString("-2.5")

	s := model.CashSession{
		ID:            uuid.New(),
		PointOfSaleID: "pos1",
		OperatorID:    "op1",
		OpeningAmount: decimal.NewFromInt(1000),
		Status:        model.SessionStatusClosed,
		OpenedAt:      time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		ClosedAt:      &closed,
		ClosingAmount: &closing,
		Difference:    &diff,
	}
	s.Cash = decimal.NewFromInt(500)
	s.SalesCount = 3

	report := &model.DailyReport{
		Date:          "2026-03-10",
		BranchID:      "b1",
		SessionsCount: 1,
		ByStatus:      map[model.SessionStatus]int{model.SessionStatusClosed: 1},
		OpeningTotal:  decimal.NewFromInt(1000),
		SalesCount:    3,
		Sessions:      []model.CashSession{s},
	}
	report.Tenders.Cash = decimal.NewFromInt(500)

	var buf bytes.Buffer
	require.NoError(t, DailyReportXLSX(report, &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{summarySheet, sessionsSheet}, f.GetSheetList())

	date, err := f.GetCellValue(summarySheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", date)

	rows, err := f.GetRows(sessionsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Session", rows[0][0])
	assert.Equal(t, s.ID.String(), rows[1][0])
	assert.Equal(t, "CLOSED", rows[1][3])
	assert.Equal(t, "500", rows[1][7])
	assert.Equal(t, "1300", rows[1][22])
	assert.Equal(t, "-2.5", rows[1][23])
}
