package sheets

import (
	"context"
	"sort"
	"time"

	"github.com/tmetzger/subtrack/internal/model"
	"google.golang.org/api/sheets/v4"
)

// renewalWindow is how far ahead the renewals tab looks.
const renewalWindow = 30 * 24 * time.Hour

// renewalRow represents a single row in the Renewals tab.
type renewalRow struct {
	RenewsAt time.Time
	Name     string
	Category string
	Status   string
	Amount   float64
	Currency string
}

// renewalRows selects subscriptions that renew within the window, soonest
// first.
func renewalRows(subscriptions []model.Subscription, now time.Time) []renewalRow {
	cutoff := now.Add(renewalWindow)

	rows := make([]renewalRow, 0, len(subscriptions))
	for _, sub := range subscriptions {
		if sub.NextBillingDate.IsZero() {
			continue
		}
		if sub.NextBillingDate.Before(now) || sub.NextBillingDate.After(cutoff) {
			continue
		}
		rows = append(rows, renewalRow{
			RenewsAt: sub.NextBillingDate,
			Name:     sub.Name,
			Category: displayCategory(sub.Category),
			Status:   subscriptionStatus(sub),
			Amount:   sub.Amount,
			Currency: sub.Currency,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].RenewsAt.Equal(rows[j].RenewsAt) {
			return rows[i].RenewsAt.Before(rows[j].RenewsAt)
		}
		return rows[i].Name < rows[j].Name
	})

	return rows
}

// writeRenewalsTab writes the upcoming renewals table.
func (w *Writer) writeRenewalsTab(ctx context.Context, spreadsheetID string, rows []renewalRow) error {
	values := [][]any{
		// Header row
		{"Renews", "Name", "Category", "Amount", "Currency", "Status"},
	}

	for _, row := range rows {
		values = append(values, []any{
			row.RenewsAt.Format("2006-01-02"),
			row.Name,
			row.Category,
			row.Amount,
			row.Currency,
			row.Status,
		})
	}

	valueRange := &sheets.ValueRange{
		Values: values,
	}

	rangeStr := renewalsSheetTitle + "!A1"
	_, err := w.service.Spreadsheets.Values.Update(spreadsheetID, rangeStr, valueRange).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()

	return err
}

// formatRenewalsTab formats the Renewals tab.
func formatRenewalsTab(sheetID int64) []*sheets.Request {
	requests := []*sheets.Request{
		// Bold header row
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:       sheetID,
					StartRowIndex: 0,
					EndRowIndex:   1,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat: &sheets.TextFormat{
							Bold: true,
						},
						BackgroundColor: &sheets.Color{
							Red:   0.9,
							Green: 0.9,
							Blue:  0.9,
							Alpha: 1.0,
						},
					},
				},
				Fields: "userEnteredFormat.textFormat,userEnteredFormat.backgroundColor",
			},
		},
		// Format amounts as currency
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    1,
					EndRowIndex:      1000,
					StartColumnIndex: 3,
					EndColumnIndex:   4,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						NumberFormat: &sheets.NumberFormat{
							Type:    "CURRENCY",
							Pattern: "$#,##0.00",
						},
					},
				},
				Fields: "userEnteredFormat.numberFormat",
			},
		},
		// Freeze the header
		{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId: sheetID,
					GridProperties: &sheets.GridProperties{
						FrozenRowCount: 1,
					},
				},
				Fields: "gridProperties.frozenRowCount",
			},
		},
	}

	return requests
}
