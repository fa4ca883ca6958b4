package journal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

const (
	openedFile = "opened.csv"
	closedFile = "closed.csv"
	eventsFile = "events.csv"
)

// CSVJournal appends one row per record to opened.csv, closed.csv and
// events.csv under dir. Headers are written when a file is first created,
// so the files stay importable after restarts.
type CSVJournal struct {
	mu  sync.Mutex
	dir string
}

func NewCSV(dir string) (*CSVJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal dir %s: %w", dir, err)
	}
	return &CSVJournal{dir: dir}, nil
}

func (j *CSVJournal) LogOpen(e Entry) error {
	header := []string{"time", "symbol", "direction", "entry_price", "size", "margin_usd", "exposure_usd", "leverage", "criteria"}
	row := []string{
		e.Time.UTC().Format("2006-01-02 15:04:05"),
		e.Symbol,
		e.Direction,
		strconv.FormatFloat(e.EntryPrice, 'f', -1, 64),
		strconv.FormatFloat(e.Size, 'f', -1, 64),
		strconv.FormatFloat(e.MarginUSD, 'f', 2, 64),
		strconv.FormatFloat(e.ExposureUSD, 'f', 2, 64),
		strconv.Itoa(e.Leverage),
		e.Criteria,
	}
	return j.writeRow(openedFile, header, row)
}

func (j *CSVJournal) LogClose(c Closure) error {
	header := []string{"time", "symbol", "direction", "exit_price", "pnl_usd", "margin_usd", "leverage", "exposure_usd", "duration_sec", "duration", "reason"}
	row := []string{
		c.Time.UTC().Format("2006-01-02 15:04:05"),
		c.Symbol,
		c.Direction,
		strconv.FormatFloat(c.ExitPrice, 'f', -1, 64),
		strconv.FormatFloat(c.PnLUSD, 'f', 4, 64),
		strconv.FormatFloat(c.MarginUSD, 'f', 2, 64),
		strconv.Itoa(c.Leverage),
		strconv.FormatFloat(c.ExposureUSD, 'f', 2, 64),
		strconv.Itoa(int(c.Duration.Seconds())),
		formatDuration(c.Duration),
		c.Reason,
	}
	return j.writeRow(closedFile, header, row)
}

func (j *CSVJournal) LogEvent(ev Event) error {
	header := []string{"time", "type", "symbol", "description"}
	row := []string{
		ev.Time.UTC().Format("2006-01-02 15:04:05"),
		ev.Type,
		ev.Symbol,
		ev.Description,
	}
	return j.writeRow(eventsFile, header, row)
}

func (j *CSVJournal) writeRow(name string, header, row []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	path := filepath.Join(j.dir, name)
	_, statErr := os.Stat(path)
	writeHeader := errors.Is(statErr, fs.ErrNotExist)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(header); err != nil {
			f.Close()
			return fmt.Errorf("write header %s: %w", path, err)
		}
	}
	if err := w.Write(row); err != nil {
		f.Close()
		return fmt.Errorf("write row %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return f.Close()
}

// formatDuration renders H:MM:SS without wrapping at 24h.
func formatDuration(d time.Duration) string {
	sec := int(d.Seconds())
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, (sec%3600)/60, sec%60)
}
