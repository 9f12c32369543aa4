// Package export формирует выгрузки кассовых отчётов.
package export

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/erpwoosync/cianbox-pos-sub001/internal/model"
)

// ContentTypeXLSX — MIME-тип книги Excel.
const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	summarySheet  = "Summary"
	sessionsSheet = "Sessions"
)

var sessionHeader = []any{
	"Session", "Point of sale", "Operator", "Status", "Opened at", "Closed at",
	"Opening", "Cash", "Debit", "Credit", "QR", "MP Point", "Transfer", "Other",
	"Sales", "Sales total", "Refunds", "Refunds total", "Cancels",
	"Deposits", "Withdrawals", "Expected", "Closing", "Difference",
}

// DailyReportXLSX записывает дневной отчёт в виде книги Excel с листами итогов и смен.
func DailyReportXLSX(r *model.DailyReport, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	summary := [][]any{
		{"Date", r.Date},
		{"Branch", r.BranchID},
		{"Sessions", r.SessionsCount},
	}
	for _, st := range []model.SessionStatus{
		model.SessionStatusOpen, model.SessionStatusSuspended, model.SessionStatusCounting,
		model.SessionStatusClosed, model.SessionStatusTransferred,
	} {
		summary = append(summary, []any{"Sessions " + string(st), r.ByStatus[st]})
	}
	summary = append(summary,
		[]any{"Opening total", money(r.OpeningTotal)},
		[]any{"Cash", money(r.Tenders.Cash)},
		[]any{"Debit", money(r.Tenders.Debit)},
		[]any{"Credit", money(r.Tenders.Credit)},
		[]any{"QR", money(r.Tenders.QR)},
		[]any{"MP Point", money(r.Tenders.MPPoint)},
		[]any{"Transfer", money(r.Tenders.Transfer)},
		[]any{"Other", money(r.Tenders.Other)},
		[]any{"Sales", r.SalesCount},
		[]any{"Sales total", money(r.SalesTotal)},
		[]any{"Refunds", r.RefundsCount},
		[]any{"Refunds total", money(r.RefundsTotal)},
		[]any{"Cancels", r.CancelsCount},
		[]any{"Deposits", money(r.DepositsTotal)},
		[]any{"Withdrawals", money(r.WithdrawalsTotal)},
		[]any{"Closing total", money(r.ClosingTotal)},
		[]any{"Difference total", money(r.DifferenceTotal)},
	)
	if err := writeRows(f, summarySheet, summary); err != nil {
		return err
	}

	if _, err := f.NewSheet(sessionsSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	rows := [][]any{sessionHeader}
	for _, s := range r.Sessions {
		rows = append(rows, sessionRow(s))
	}
	if err := writeRows(f, sessionsSheet, rows); err != nil {
		return err
	}

	if err := f.SetPanes(sessionsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func sessionRow(s model.CashSession) []any {
	closedAt := ""
	if s.ClosedAt != nil {
		closedAt = s.ClosedAt.Format("2006-01-02 15:04:05")
	}
	return []any{
		s.ID.String(), s.PointOfSaleID, s.OperatorID, string(s.Status),
		s.OpenedAt.Format("2006-01-02 15:04:05"), closedAt,
		money(s.OpeningAmount), money(s.Cash), money(s.Debit), money(s.Credit),
		money(s.QR), money(s.MPPoint), money(s.Transfer), money(s.Other),
		s.SalesCount, money(s.SalesTotal), s.RefundsCount, money(s.RefundsTotal), s.CancelsCount,
		money(s.DepositsTotal), money(s.WithdrawalsTotal),
		optionalMoney(s.ExpectedAmount), optionalMoney(s.ClosingAmount), optionalMoney(s.Difference),
	}
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func optionalMoney(d *decimal.Decimal) any {
	if d == nil {
		return ""
	}
	return money(*d)
}
