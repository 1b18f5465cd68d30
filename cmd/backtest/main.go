// Backtest tool for checking Heron's delay simulator against delivered orders.
//
// Usage:
//
//	go run ./cmd/backtest -csv /path/to/history.csv -url http://localhost:8080
//
// This tool:
//  1. Reads historical orders with their simulator inputs and actual delay
//  2. Sends each order to POST /simulate
//  3. Compares the at-risk verdict with the actual late flag
//  4. Reports the confusion matrix, precision, recall, F1, the mean absolute
//     error of the final prediction and the share of guardrail overrides
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// Column names of the historical order export.
const (
	colOrigin      = "uf_vendedor"
	colDestination = "uf_cliente"
	colPromised    = "prazo_prometido"
	colApproval    = "tempo_aprovacao"
	colWeight      = "peso_produto_g"
	colLength      = "comprimento_cm"
	colWidth       = "largura_cm"
	colHeight      = "altura_cm"
	colPickup      = "flag_pickup"
	colCategory    = "categoria_label"
	colDelayDays   = "dias_atraso"
)

var requiredColumns = []string{
	colOrigin, colDestination, colPromised, colApproval,
	colWeight, colLength, colWidth, colHeight, colCategory, colDelayDays,
}

// HistoricalOrder is one delivered order with its actual delay.
type HistoricalOrder struct {
	Request   domain.SimulationRequest
	DelayDays float64
}

// Late reports whether the order was actually delivered late.
func (o HistoricalOrder) Late() bool {
	return o.DelayDays > 0
}

// SimulateResponse is the part of the Heron response the backtest reads.
type SimulateResponse struct {
	SimulationID string               `json:"simulationId"`
	Estimate     domain.DelayEstimate `json:"estimate"`
}

// Metrics tracks backtest results
type Metrics struct {
	TruePositives  int64 // late, predicted at risk
	FalsePositives int64 // on time, predicted at risk
	TrueNegatives  int64 // on time, predicted on time
	FalseNegatives int64 // late, predicted on time

	TotalProcessed int64
	TotalLate      int64
	TotalOnTime    int64
	TotalErrors    int64
	Overrides      int64

	// Sum of |final - actual| in thousandths of a day, for atomic adds.
	AbsErrorMilli    int64
	ProcessingTimeMs int64
}

// Record tallies one simulated order.
func (m *Metrics) Record(order HistoricalOrder, est *domain.DelayEstimate) {
	atomic.AddInt64(&m.TotalProcessed, 1)

	actual := order.Late()
	predicted := est.AtRisk()
	if actual {
		atomic.AddInt64(&m.TotalLate, 1)
	} else {
		atomic.AddInt64(&m.TotalOnTime, 1)
	}

	switch {
	case predicted && actual:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !actual:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !actual:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}

	if est.WasOverriddenByRule {
		atomic.AddInt64(&m.Overrides, 1)
	}
	absErr := math.Abs(est.FinalPredictionDays - order.DelayDays)
	atomic.AddInt64(&m.AbsErrorMilli, int64(math.Round(absErr*1000)))
}

// Scores are the derived quality figures.
type Scores struct {
	Precision    float64
	Recall       float64
	F1           float64
	Accuracy     float64
	MAE          float64
	OverrideRate float64
}

// Scores computes precision, recall, F1, accuracy, MAE and override share.
func (m *Metrics) Scores() Scores {
	var s Scores
	if m.TruePositives+m.FalsePositives > 0 {
		s.Precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	if m.TruePositives+m.FalseNegatives > 0 {
		s.Recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * (s.Precision * s.Recall) / (s.Precision + s.Recall)
	}

	scored := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if scored > 0 {
		s.Accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(scored)
		s.MAE = float64(m.AbsErrorMilli) / 1000 / float64(scored)
		s.OverrideRate = float64(m.Overrides) / float64(scored)
	}
	return s
}

func main() {
	csvPath := flag.String("csv", "", "Path to historical orders CSV")
	baseURL := flag.String("url", "http://localhost:8080", "Heron base URL")
	limit := flag.Int("limit", 10000, "Maximum orders to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each order result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: backtest -csv /path/to/history.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("HERON BACKTEST - Delivery Delay Simulator")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Heron URL:   %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkReady(*baseURL); err != nil {
		fmt.Printf("ERROR: Heron not ready at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Heron is running with a model loaded:")
		fmt.Println("  HERON_MODEL_PATH=./models/delay_model.json go run ./cmd/heron")
		os.Exit(1)
	}
	fmt.Println("Heron is ready")

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to open CSV: %v\n", err)
		os.Exit(1)
	}
	orders, skipped, err := readHistory(file, *limit)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d orders (%d rows skipped)\n", len(orders), skipped)

	fmt.Printf("\nRunning backtest with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBacktest(orders, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkReady(baseURL string) error {
	resp, err := http.Get(baseURL + "/ready")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ready: status %d", resp.StatusCode)
	}
	return nil
}

// readHistory parses the export. Malformed rows are skipped and counted.
func readHistory(r io.Reader, limit int) ([]HistoricalOrder, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := colIndex[col]; !ok {
			return nil, 0, fmt.Errorf("missing required column %q", col)
		}
	}

	var orders []HistoricalOrder
	skipped := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		order, err := parseRow(record, colIndex)
		if err != nil {
			skipped++
			continue
		}
		orders = append(orders, order)

		if limit > 0 && len(orders) >= limit {
			break
		}
	}
	return orders, skipped, nil
}

func parseRow(record []string, colIndex map[string]int) (HistoricalOrder, error) {
	get := func(col string) string {
		i, ok := colIndex[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	var parseErr error
	num := func(col string) float64 {
		v, err := strconv.ParseFloat(get(col), 64)
		if err != nil && parseErr == nil {
			parseErr = fmt.Errorf("column %s: %w", col, err)
		}
		return v
	}

	req := domain.SimulationRequest{
		OriginState:      strings.ToUpper(get(colOrigin)),
		DestinationState: strings.ToUpper(get(colDestination)),
		PromisedDays:     int(math.Round(num(colPromised))),
		ApprovalDays:     int(math.Round(num(colApproval))),
		Category:         get(colCategory),
		WeightGrams:      num(colWeight),
		LengthCm:         num(colLength),
		WidthCm:          num(colWidth),
		HeightCm:         num(colHeight),
		IsPickup:         get(colPickup) == "1",
	}
	delay := num(colDelayDays)
	if parseErr != nil {
		return HistoricalOrder{}, parseErr
	}
	if err := req.Validate(); err != nil {
		return HistoricalOrder{}, err
	}
	return HistoricalOrder{Request: req, DelayDays: delay}, nil
}

func runBacktest(orders []HistoricalOrder, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan HistoricalOrder, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for order := range work {
				start := time.Now()
				result, err := simulate(client, baseURL, order)
				atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s->%s -> %v\n", order.Request.OriginState, order.Request.DestinationState, err)
					}
					continue
				}

				metrics.Record(order, &result.Estimate)

				if verbose {
					status := "ok"
					if result.Estimate.AtRisk() != order.Late() {
						status = "MISS"
					}
					fmt.Printf("%-4s %s->%s | %-26s | promised: %3d | actual: %6.1f | predicted: %6.1f | override: %v\n",
						status,
						order.Request.OriginState,
						order.Request.DestinationState,
						result.Estimate.Route.Label,
						order.Request.PromisedDays,
						order.DelayDays,
						result.Estimate.FinalPredictionDays,
						result.Estimate.WasOverriddenByRule,
					)
				}
			}
		}()
	}

	for _, order := range orders {
		work <- order
	}
	close(work)

	wg.Wait()

	return metrics
}

func simulate(client *http.Client, baseURL string, order HistoricalOrder) (*SimulateResponse, error) {
	body, err := json.Marshal(order.Request)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/simulate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result SimulateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	s := m.Scores()

	fmt.Println("\nBACKTEST RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Late:             %d\n", m.TotalLate)
	fmt.Printf("   On Time:          %d\n", m.TotalOnTime)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  at_risk    on_time")
	fmt.Printf("   Actual  late  %8d   %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("        on time  %8d   %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	fmt.Printf("\nQUALITY\n")
	fmt.Printf("   Precision:  %.4f  (of at-risk verdicts, how many were late)\n", s.Precision)
	fmt.Printf("   Recall:     %.4f  (of late orders, how many were flagged)\n", s.Recall)
	fmt.Printf("   F1-Score:   %.4f\n", s.F1)
	fmt.Printf("   Accuracy:   %.4f\n", s.Accuracy)
	fmt.Printf("   MAE:        %.2f days (final prediction vs actual delay)\n", s.MAE)
	fmt.Printf("   Overrides:  %d (%.2f%% of simulations raised to the physical floor)\n", m.Overrides, s.OverrideRate*100)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed+m.TotalErrors)
		rps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f sim/sec\n", rps)
	}

	fmt.Println()
}
