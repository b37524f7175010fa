// Package journal appends executed trades to a CSV ledger and a JSONL
// stream. The CSV is for humans and spreadsheets, the JSONL for replay
// tooling; both are append-only.
package journal

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"optionsbot/internal/observ"
)

// Record is one executed entry order.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Action     string    `json:"action"`
	Quantity   int       `json:"quantity"`
	Price      float64   `json:"price"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Contract   string    `json:"contract,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

var csvHeader = []string{
	"timestamp", "symbol", "action", "quantity", "price",
	"stop_loss", "take_profit", "contract", "reason",
}

type Journal struct {
	mu       sync.Mutex
	csvPath  string
	jsonPath string
}

func New(csvPath, jsonPath string) *Journal {
	return &Journal{csvPath: csvPath, jsonPath: jsonPath}
}

// Append writes the record to both sinks. A write failure is logged and
// returned but must not abort the trading cycle; callers log and move on.
func (j *Journal) Append(r Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.appendCSV(r); err != nil {
		observ.IncCounter("journal_errors_total", map[string]string{"sink": "csv"})
		return fmt.Errorf("journal csv: %w", err)
	}
	if err := j.appendJSONL(r); err != nil {
		observ.IncCounter("journal_errors_total", map[string]string{"sink": "jsonl"})
		return fmt.Errorf("journal jsonl: %w", err)
	}
	observ.IncCounter("journal_records_total", nil)
	return nil
}

func (j *Journal) appendCSV(r Record) error {
	if err := os.MkdirAll(filepath.Dir(j.csvPath), 0o755); err != nil {
		return err
	}
	_, statErr := os.Stat(j.csvPath)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(j.csvPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(csvHeader); err != nil {
			return err
		}
	}
	row := []string{
		r.Timestamp.UTC().Format(time.RFC3339),
		r.Symbol,
		r.Action,
		fmt.Sprintf("%d", r.Quantity),
		fmt.Sprintf("%.4f", r.Price),
		fmt.Sprintf("%.4f", r.StopLoss),
		fmt.Sprintf("%.4f", r.TakeProfit),
		r.Contract,
		r.Reason,
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (j *Journal) appendJSONL(r Record) error {
	if err := os.MkdirAll(filepath.Dir(j.jsonPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(j.jsonPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = f.Write(append(b, '\n'))
	return err
}
