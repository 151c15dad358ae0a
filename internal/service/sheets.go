package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"diary-bot/internal/logger"

	"github.com/xuri/excelize/v2"
)

// SheetGateway is the external append target for compiled diary entries.
// EnsureTab is idempotent; AppendRow preserves call order per tab. Callers
// see success or failure only — a failed delivery is retried later from the
// entry's synced flag, never from raw messages.
type SheetGateway interface {
	EnsureTab(ctx context.Context, tab string) error
	AppendRow(ctx context.Context, tab, date, timeOfDay, status, text, syncKey string) error
}

var sheetHeader = []interface{}{"Date", "Time", "Status", "Diary", "Sync Key"}

// WorkbookGateway writes entries into a local xlsx workbook, one tab per
// participant. All access is serialized: excelize files are not safe for
// concurrent mutation and append order must match call order.
type WorkbookGateway struct {
	path string
	mu   sync.Mutex
}

func NewWorkbookGateway(path string) *WorkbookGateway {
	return &WorkbookGateway{path: path}
}

func (g *WorkbookGateway) EnsureTab(ctx context.Context, tab string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	f, err := g.open()
	if err != nil {
		return err
	}
	defer f.Close()

	if idx, _ := f.GetSheetIndex(tab); idx >= 0 {
		return nil
	}
	if _, err := f.NewSheet(tab); err != nil {
		return fmt.Errorf("create tab %q: %w", tab, err)
	}
	if err := f.SetSheetRow(tab, "A1", &sheetHeader); err != nil {
		return fmt.Errorf("write header for %q: %w", tab, err)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		f.SetCellStyle(tab, "A1", "E1", style)
	}
	if err := g.save(f); err != nil {
		return err
	}
	logger.Info("workbook tab created", "tab", tab)
	return nil
}

func (g *WorkbookGateway) AppendRow(ctx context.Context, tab, date, timeOfDay, status, text, syncKey string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	f, err := g.open()
	if err != nil {
		return err
	}
	defer f.Close()

	if idx, _ := f.GetSheetIndex(tab); idx < 0 {
		return fmt.Errorf("tab %q does not exist in %s, run setup for this participant again", tab, g.path)
	}
	rows, err := f.GetRows(tab)
	if err != nil {
		return fmt.Errorf("read tab %q: %w", tab, err)
	}
	cell := fmt.Sprintf("A%d", len(rows)+1)
	row := []interface{}{date, timeOfDay, status, text, syncKey}
	if err := f.SetSheetRow(tab, cell, &row); err != nil {
		return fmt.Errorf("append to tab %q: %w", tab, err)
	}
	if err := g.save(f); err != nil {
		return err
	}
	logger.Info("workbook row appended", "tab", tab, "date", date, "status", status)
	return nil
}

func (g *WorkbookGateway) open() (*excelize.File, error) {
	f, err := excelize.OpenFile(g.path)
	if err == nil {
		return f, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		if mkErr := os.MkdirAll(filepath.Dir(g.path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("workbook directory for %s cannot be created, fix sheet.workbook_path or directory permissions: %w", g.path, mkErr)
		}
		return excelize.NewFile(), nil
	}
	if errors.Is(err, os.ErrPermission) {
		return nil, fmt.Errorf("workbook %s is not readable, grant the service access to it: %w", g.path, err)
	}
	return nil, fmt.Errorf("open workbook %s: %w", g.path, err)
}

func (g *WorkbookGateway) save(f *excelize.File) error {
	if err := f.SaveAs(g.path); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("workbook %s is not writable, grant the service access to it: %w", g.path, err)
		}
		return fmt.Errorf("save workbook %s: %w", g.path, err)
	}
	return nil
}
