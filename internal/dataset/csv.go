// Package dataset reads the processed order dataset and ingests it into the
// repository.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// Column names of the processed dataset.
const (
	ColOrderID        = "pedido_id"
	ColStatus         = "status_simplificado"
	ColCustomerState  = "uf_cliente"
	ColSellerState    = "uf_vendedor"
	ColCategoryCode   = "categoria_produto"
	ColCategoryLabel  = "categoria_label"
	ColRevenue        = "faturamento_pedido"
	ColLate           = "flag_atraso"
	ColDelayDays      = "dias_atraso"
	ColProcessingDays = "tempo_processamento"
	ColApprovedAt     = "data_aprovacao"
)

var requiredColumns = []string{ColOrderID, ColStatus, ColCustomerState}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ReadResult holds the parsed orders and the rows that were rejected.
type ReadResult struct {
	Orders  []*domain.Order
	Skipped int
}

// ReadFile parses the CSV file at path.
func ReadFile(path string) (*ReadResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer file.Close()

	return Read(file)
}

// Read parses a processed dataset. Rows that fail to parse or validate are
// skipped and counted; a missing required column fails the whole read.
func Read(r io.Reader) (*ReadResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing required column %q", col)
		}
	}

	result := &ReadResult{}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			result.Skipped++
			slog.Debug("skipping malformed dataset row", "line", line, "error", err)
			continue
		}

		order, err := parseRow(record, colIndex)
		if err == nil {
			err = order.Validate()
		}
		if err != nil {
			result.Skipped++
			slog.Debug("skipping invalid dataset row", "line", line, "error", err)
			continue
		}
		result.Orders = append(result.Orders, order)
	}

	return result, nil
}

func parseRow(record []string, colIndex map[string]int) (*domain.Order, error) {
	field := func(name string) string {
		i, ok := colIndex[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	o := &domain.Order{
		ID:            field(ColOrderID),
		Status:        field(ColStatus),
		CustomerState: strings.ToUpper(field(ColCustomerState)),
		SellerState:   strings.ToUpper(field(ColSellerState)),
		CategoryCode:  field(ColCategoryCode),
		CategoryLabel: field(ColCategoryLabel),
	}

	var err error
	if o.Revenue, err = parseFloat(field(ColRevenue)); err != nil {
		return nil, fmt.Errorf("%s: %w", ColRevenue, err)
	}
	if o.DelayDays, err = parseFloat(field(ColDelayDays)); err != nil {
		return nil, fmt.Errorf("%s: %w", ColDelayDays, err)
	}
	if o.ProcessingDays, err = parseFloat(field(ColProcessingDays)); err != nil {
		return nil, fmt.Errorf("%s: %w", ColProcessingDays, err)
	}
	if v := field(ColLate); v != "" {
		if o.Late, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("%s: %w", ColLate, err)
		}
	}
	if v := field(ColApprovedAt); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ColApprovedAt, err)
		}
		o.ApprovedAt = &t
	}

	return o, nil
}

// parseFloat treats empty and NaN cells as zero.
func parseFloat(v string) (float64, error) {
	if v == "" || strings.EqualFold(v, "nan") {
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}

func parseTime(v string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", v)
}
