package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/tmetzger/subtrack/internal/common"
	"github.com/tmetzger/subtrack/internal/model"
	"github.com/tmetzger/subtrack/internal/service"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const renewalsSheetTitle = "Renewals"

// Writer exports subscription reports to Google Sheets.
type Writer struct {
	service *sheets.Service
	logger  *slog.Logger
	config  Config
}

// NewWriter creates a new Google Sheets report writer.
func NewWriter(ctx context.Context, config Config, logger *slog.Logger) (*Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	service, err := createSheetsService(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Writer{
		config:  config,
		service: service,
		logger:  logger,
	}, nil
}

// Write exports the given subscriptions and spend summary as a two-tab
// report: an overview tab and an upcoming-renewals tab.
func (w *Writer) Write(ctx context.Context, subscriptions []model.Subscription, summary *service.SpendSummary) error {
	now := time.Now()

	w.logger.Info("starting report export",
		"subscriptions", len(subscriptions),
		"monthly_total", summary.MonthlyTotal)

	// Get or create spreadsheet, making sure the renewals tab exists
	spreadsheetID, renewalsSheetID, err := w.getOrCreateSpreadsheet(ctx)
	if err != nil {
		return fmt.Errorf("failed to get spreadsheet: %w", err)
	}

	// Clear existing data
	if clearErr := w.clearSheets(ctx, spreadsheetID); clearErr != nil {
		return fmt.Errorf("failed to clear sheets: %w", clearErr)
	}

	// Prepare the data
	values := w.prepareReportData(subscriptions, summary, now)
	renewals := renewalRows(subscriptions, now)

	// Write data in batches with retry
	retryOpts := service.RetryOptions{
		MaxAttempts:  w.config.RetryAttempts,
		InitialDelay: w.config.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	err = common.WithRetry(ctx, func() error {
		return w.writeData(ctx, spreadsheetID, values)
	}, retryOpts)
	if err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}

	err = common.WithRetry(ctx, func() error {
		return w.writeRenewalsTab(ctx, spreadsheetID, renewals)
	}, retryOpts)
	if err != nil {
		return fmt.Errorf("failed to write renewals tab: %w", err)
	}

	// Apply formatting if enabled
	if w.config.EnableFormatting {
		err = common.WithRetry(ctx, func() error {
			return w.applyFormatting(ctx, spreadsheetID, len(values), renewalsSheetID)
		}, retryOpts)
		if err != nil {
			w.logger.Warn("failed to apply formatting", "error", err)
			// Don't fail the whole operation if formatting fails
		}
	}

	w.logger.Info("report export completed",
		"spreadsheet_id", spreadsheetID,
		"rows_written", len(values),
		"upcoming_renewals", len(renewals))

	return nil
}

// createSheetsService creates a Google Sheets API service.
func createSheetsService(ctx context.Context, config Config) (*sheets.Service, error) {
	var tokenSource oauth2.TokenSource

	if config.ServiceAccountPath != "" {
		// Use service account authentication
		jsonKey, err := os.ReadFile(config.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}

		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}

		tokenSource = jwtConfig.TokenSource(ctx)
	} else {
		// Use OAuth2 authentication
		client := &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{sheets.SpreadsheetsScope},
		}

		token := &oauth2.Token{
			RefreshToken: config.RefreshToken,
			TokenType:    "Bearer",
		}
		if config.RefreshToken == "" {
			// No refresh token in config; use the token cached by
			// 'subtrack auth sheets', or walk through the login flow.
			cached, err := GetOrCreateToken(ctx, OAuth2Config{
				ClientID:     config.ClientID,
				ClientSecret: config.ClientSecret,
				TokenFile:    config.TokenFile,
			})
			if err != nil {
				return nil, fmt.Errorf("unable to obtain OAuth2 token: %w", err)
			}
			token = cached
		}

		tokenSource = client.TokenSource(ctx, token)
	}

	httpClient := oauth2.NewClient(ctx, tokenSource)
	srv, err := sheets.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}

	return srv, nil
}

// getOrCreateSpreadsheet gets an existing spreadsheet or creates a new one.
// It returns the spreadsheet ID and the sheet ID of the renewals tab, adding
// that tab when an existing spreadsheet lacks it.
func (w *Writer) getOrCreateSpreadsheet(ctx context.Context) (string, int64, error) {
	if w.config.SpreadsheetID != "" {
		spreadsheet, err := w.service.Spreadsheets.Get(w.config.SpreadsheetID).Context(ctx).Do()
		if err != nil {
			return "", 0, fmt.Errorf("unable to access spreadsheet %s: %w", w.config.SpreadsheetID, err)
		}

		for _, sheet := range spreadsheet.Sheets {
			if sheet.Properties != nil && sheet.Properties.Title == renewalsSheetTitle {
				return w.config.SpreadsheetID, sheet.Properties.SheetId, nil
			}
		}

		resp, err := w.service.Spreadsheets.BatchUpdate(w.config.SpreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{
				{
					AddSheet: &sheets.AddSheetRequest{
						Properties: &sheets.SheetProperties{Title: renewalsSheetTitle},
					},
				},
			},
		}).Context(ctx).Do()
		if err != nil {
			return "", 0, fmt.Errorf("unable to add renewals tab: %w", err)
		}

		return w.config.SpreadsheetID, resp.Replies[0].AddSheet.Properties.SheetId, nil
	}

	// Create a new spreadsheet
	spreadsheet := &sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{
			Title:    w.config.SpreadsheetName,
			TimeZone: w.config.TimeZone,
		},
		Sheets: []*sheets.Sheet{
			{
				Properties: &sheets.SheetProperties{
					Title: "Subscriptions",
				},
			},
			{
				Properties: &sheets.SheetProperties{
					Title: renewalsSheetTitle,
				},
			},
		},
	}

	created, err := w.service.Spreadsheets.Create(spreadsheet).Context(ctx).Do()
	if err != nil {
		return "", 0, fmt.Errorf("unable to create spreadsheet: %w", err)
	}

	var renewalsSheetID int64
	for _, sheet := range created.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == renewalsSheetTitle {
			renewalsSheetID = sheet.Properties.SheetId
		}
	}

	w.logger.Info("created new spreadsheet",
		"id", created.SpreadsheetId,
		"url", created.SpreadsheetUrl)

	return created.SpreadsheetId, renewalsSheetID, nil
}

// clearSheets clears all data from both tabs.
func (w *Writer) clearSheets(ctx context.Context, spreadsheetID string) error {
	req := &sheets.BatchClearValuesRequest{
		Ranges: []string{"A:Z", renewalsSheetTitle + "!A:Z"},
	}
	_, err := w.service.Spreadsheets.Values.BatchClear(spreadsheetID, req).Context(ctx).Do()
	return err
}

// prepareReportData prepares the rows for the overview tab.
func (w *Writer) prepareReportData(subscriptions []model.Subscription, summary *service.SpendSummary, now time.Time) [][]any {
	// Header(2) + Summary(5) + Category header(2) + categories + empty(2) + Detail header(2) + subscriptions
	estimatedRows := 13 + len(summary.ByCategory) + len(subscriptions)
	values := make([][]any, 0, estimatedRows)

	values = append(values,
		[]any{
			"Subscription Report",
			fmt.Sprintf("generated %s", now.Format("Jan 2, 2006")),
		},
		[]any{}, // Empty row
		[]any{"Summary"},
		[]any{"Tracked Subscriptions", summary.Subscriptions},
		[]any{"Monthly Total", summary.MonthlyTotal},
		[]any{"Yearly Total", summary.YearlyTotal},
		[]any{"Uncategorized", summary.Uncategorized},
		[]any{}, // Empty row
		[]any{"Category Breakdown"},
		[]any{"Category", "Subscriptions", "Monthly"},
	)

	// Sort categories by monthly spend (descending)
	categories := make([]string, 0, len(summary.ByCategory))
	for category := range summary.ByCategory {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool {
		left, right := summary.ByCategory[categories[i]], summary.ByCategory[categories[j]]
		if left.MonthlyTotal != right.MonthlyTotal {
			return left.MonthlyTotal > right.MonthlyTotal
		}
		return categories[i] < categories[j]
	})

	for _, category := range categories {
		catSummary := summary.ByCategory[category]
		values = append(values, []any{
			category,
			catSummary.Count,
			catSummary.MonthlyTotal,
		})
	}

	// Add empty rows and subscription details header
	values = append(values,
		[]any{}, // Empty row
		[]any{}, // Empty row
		[]any{"Subscription Details"},
		[]any{
			"Name",
			"Category",
			"Amount",
			"Currency",
			"Billing",
			"Monthly Cost",
			"Next Renewal",
			"Status",
			"Notes",
		})

	// Sort subscriptions by monthly cost (most expensive first)
	sorted := make([]model.Subscription, len(subscriptions))
	copy(sorted, subscriptions)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].MonthlyAmount() != sorted[j].MonthlyAmount() {
			return sorted[i].MonthlyAmount() > sorted[j].MonthlyAmount()
		}
		return sorted[i].Name < sorted[j].Name
	})

	for _, sub := range sorted {
		values = append(values, []any{
			sub.Name,
			displayCategory(sub.Category),
			sub.Amount,
			sub.Currency,
			strings.ToLower(string(sub.Interval)),
			sub.MonthlyAmount(),
			displayDate(sub.NextBillingDate),
			subscriptionStatus(sub),
			sub.Notes,
		})
	}

	return values
}

// writeData writes the overview rows to the spreadsheet.
func (w *Writer) writeData(ctx context.Context, spreadsheetID string, values [][]any) error {
	// Write in batches to avoid API limits
	for i := 0; i < len(values); i += w.config.BatchSize {
		end := i + w.config.BatchSize
		if end > len(values) {
			end = len(values)
		}

		batch := values[i:end]
		valueRange := &sheets.ValueRange{
			Values: batch,
		}

		rangeStr := fmt.Sprintf("A%d", i+1)
		_, err := w.service.Spreadsheets.Values.Update(spreadsheetID, rangeStr, valueRange).
			ValueInputOption("USER_ENTERED").
			Context(ctx).
			Do()

		if err != nil {
			return fmt.Errorf("failed to write batch starting at row %d: %w", i+1, err)
		}

		w.logger.Debug("wrote batch", "start_row", i+1, "rows", len(batch))
	}

	return nil
}

// applyFormatting applies formatting to both tabs.
func (w *Writer) applyFormatting(ctx context.Context, spreadsheetID string, totalRows int, renewalsSheetID int64) error {
	requests := []*sheets.Request{
		// Format header
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          0,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   2,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat: &sheets.TextFormat{
							Bold:     true,
							FontSize: 16,
						},
					},
				},
				Fields: "userEnteredFormat.textFormat",
			},
		},
		// Format section headers
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          0,
					StartRowIndex:    2,
					EndRowIndex:      int64(totalRows),
					StartColumnIndex: 0,
					EndColumnIndex:   1,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat: &sheets.TextFormat{
							Bold: true,
						},
					},
				},
				Fields: "userEnteredFormat.textFormat",
			},
		},
		// Format amount column
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          0,
					StartRowIndex:    0,
					EndRowIndex:      int64(totalRows),
					StartColumnIndex: 2,
					EndColumnIndex:   3,
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
		// Format monthly cost column
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          0,
					StartRowIndex:    0,
					EndRowIndex:      int64(totalRows),
					StartColumnIndex: 5,
					EndColumnIndex:   6,
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
		// Auto-resize columns
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    0,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   9,
				},
			},
		},
		// Freeze header rows
		{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId: 0,
					GridProperties: &sheets.GridProperties{
						FrozenRowCount: 2,
					},
				},
				Fields: "gridProperties.frozenRowCount",
			},
		},
	}

	requests = append(requests, formatRenewalsTab(renewalsSheetID)...)

	batchUpdate := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}

	_, err := w.service.Spreadsheets.BatchUpdate(spreadsheetID, batchUpdate).Context(ctx).Do()
	return err
}

func displayCategory(category *string) string {
	if category == nil {
		return "Uncategorized"
	}
	return *category
}

func displayDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func subscriptionStatus(sub model.Subscription) string {
	if sub.IsTrial {
		return "trial"
	}
	return "active"
}
