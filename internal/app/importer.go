package app

import (
	"context"
	"fmt"
	"io"

	"klineKit/internal/domain"
	"klineKit/internal/ports"
	"klineKit/internal/utils"
)

const defaultImportBatch = 1000

// ImportReport summarises a CSV import.
type ImportReport struct {
	Rows       int // data rows parsed
	Invalid    int // rows that failed parsing or validation
	Duplicates int // repeated timestamps collapsed before writing
	Stored     int
	First      int64
	Last       int64
	RowErrors  []utils.RowError // validation failures carry Line 0
}

// Importer loads kline CSV files into one or more stores.
type Importer struct {
	stores []ports.KlineStore
	logger ports.Logger
	batch  int
}

// NewImporter writes into every given store; the first one is required.
func NewImporter(logger ports.Logger, batchSize int, stores ...ports.KlineStore) (*Importer, error) {
	if logger == nil || len(stores) == 0 || stores[0] == nil {
		return nil, fmt.Errorf("missing required dependencies for Importer: %w", ports.ErrConfigurationError)
	}
	if batchSize <= 0 {
		batchSize = defaultImportBatch
	}
	var nonNil []ports.KlineStore
	for _, s := range stores {
		if s != nil {
			nonNil = append(nonNil, s)
		}
	}
	return &Importer{stores: nonNil, logger: logger, batch: batchSize}, nil
}

// ImportCSV parses r and upserts the valid rows into series. Unparseable and
// invalid rows are skipped and counted. Repeated timestamps keep the last row.
func (im *Importer) ImportCSV(ctx context.Context, r io.Reader, series domain.Series) (ImportReport, error) {
	var report ImportReport
	if err := series.Validate(); err != nil {
		return report, fmt.Errorf("%w: %w", ports.ErrInvalidRequest, err)
	}

	klines, rowErrs, err := utils.ReadKlinesFromCSV(r)
	if err != nil {
		return report, fmt.Errorf("%w: %w", ports.ErrInvalidRequest, err)
	}
	report.RowErrors = rowErrs
	report.Rows = len(klines) + len(rowErrs)
	report.Invalid = len(rowErrs)

	valid := make([]domain.Kline, 0, len(klines))
	for _, k := range klines {
		if err := k.Validate(); err != nil {
			report.Invalid++
			report.RowErrors = append(report.RowErrors, utils.RowError{Err: err})
			continue
		}
		valid = append(valid, k)
	}
	deduped := domain.DedupeAndSort(valid)
	report.Duplicates = len(valid) - len(deduped)
	if len(deduped) > 0 {
		report.First = deduped[0].Timestamp
		report.Last = deduped[len(deduped)-1].Timestamp
	}

	for start := 0; start < len(deduped); start += im.batch {
		end := start + im.batch
		if end > len(deduped) {
			end = len(deduped)
		}
		chunk := deduped[start:end]
		for i, store := range im.stores {
			n, err := store.Upsert(ctx, series, chunk)
			if err != nil {
				im.logger.Error(ctx, err, "CSV import batch failed", map[string]interface{}{
					"series": series.String(),
					"offset": start,
					"store":  i,
				})
				return report, fmt.Errorf("import batch at row %d: %w", start, err)
			}
			if i == 0 {
				report.Stored += n
			}
		}
	}

	im.logger.Info(ctx, "CSV import finished", map[string]interface{}{
		"series":     series.String(),
		"rows":       report.Rows,
		"stored":     report.Stored,
		"invalid":    report.Invalid,
		"duplicates": report.Duplicates,
	})
	return report, nil
}
