package tracker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/statement-ledger/internal/domain"
	"github.com/dvloznov/statement-ledger/internal/gcs"
	"github.com/dvloznov/statement-ledger/internal/ledger"
	"github.com/dvloznov/statement-ledger/internal/workbook"
	"github.com/shopspring/decimal"
)

// MockBlobStore keeps blobs in memory. FetchFunc overrides Fetch when set.
type MockBlobStore struct {
	Blobs     map[string][]byte
	FetchFunc func(ctx context.Context, location string) ([]byte, error)
	Puts      []string
}

func newMockStore() *MockBlobStore {
	return &MockBlobStore{Blobs: make(map[string][]byte)}
}

func (m *MockBlobStore) Fetch(ctx context.Context, location string) ([]byte, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, location)
	}
	data, ok := m.Blobs[location]
	if !ok {
		return nil, gcs.ErrNotFound
	}
	return data, nil
}

func (m *MockBlobStore) Put(ctx context.Context, location string, data []byte, contentType string) error {
	m.Puts = append(m.Puts, location)
	m.Blobs[location] = data
	return nil
}

const location = "master_spreadsheet.xlsx"

func novemberRows() []ledger.Row {
	return []ledger.Row{
		{Date: "2025-11-01", Description: "Cafe", Amount: "-4.50", Category: "Food", SourceFile: "nov.pdf"},
		{Date: "2025-11-03", Description: "Landlord", Amount: "-1200", Category: "Rent", SourceFile: "nov.pdf"},
		{Date: "2025-11-05", Description: "Salary", Amount: "2500", Category: "Other", SourceFile: "nov.pdf"},
	}
}

func TestLoadLedger_Missing(t *testing.T) {
	s := NewService(newMockStore(), location, nil, workbook.Options{})

	loaded, err := s.LoadLedger(context.Background())
	if err != nil {
		t.Fatalf("LoadLedger() error = %v", err)
	}
	if len(loaded.Ledger) != 0 || loaded.Base != nil || loaded.Corrupt != nil {
		t.Errorf("LoadLedger() = %+v, want empty", loaded)
	}
}

func TestLoadLedger_FetchError(t *testing.T) {
	store := newMockStore()
	boom := errors.New("permission denied")
	store.FetchFunc = func(ctx context.Context, location string) ([]byte, error) {
		return nil, boom
	}
	s := NewService(store, location, nil, workbook.Options{})

	if _, err := s.LoadLedger(context.Background()); !errors.Is(err, boom) {
		t.Errorf("LoadLedger() error = %v, want %v", err, boom)
	}
	if _, err := s.Save(context.Background(), novemberRows()); !errors.Is(err, boom) {
		t.Errorf("Save() error = %v, want %v", err, boom)
	}
	if len(store.Puts) != 0 {
		t.Errorf("Save() wrote %v after a fetch failure", store.Puts)
	}
}

func TestSave_CreatesThenMerges(t *testing.T) {
	store := newMockStore()
	s := NewService(store, location, nil, workbook.Options{MonthSheets: true})
	ctx := context.Background()

	res, err := s.Save(ctx, novemberRows())
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if res.Records != 3 || res.Added != 3 || res.Excluded != 0 {
		t.Errorf("first Save() = %+v, want 3 records, 3 added", res)
	}

	batch := append(novemberRows(), ledger.Row{Date: "not a date", Description: "x", Amount: "-1"})
	batch = append(batch, ledger.Row{Date: "2025-12-01", Description: "Bus", Amount: "-2.40", SourceFile: "dec.pdf"})
	res, err = s.Save(ctx, batch)
	if err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
	if res.Records != 4 || res.Added != 1 || res.Excluded != 1 {
		t.Errorf("second Save() = %+v, want 4 records, 1 added, 1 excluded", res)
	}

	loaded, err := s.LoadLedger(ctx)
	if err != nil {
		t.Fatalf("LoadLedger() error = %v", err)
	}
	if len(loaded.Ledger) != 4 {
		t.Fatalf("stored ledger has %d records, want 4", len(loaded.Ledger))
	}
	last := loaded.Ledger[3]
	if last.Description != "Bus" || last.Category != domain.FallbackCategory {
		t.Errorf("last record = %+v, want Bus in %s", last, domain.FallbackCategory)
	}

	files, err := s.SourceFiles(ctx)
	if err != nil {
		t.Fatalf("SourceFiles() error = %v", err)
	}
	if !files["nov.pdf"] || !files["dec.pdf"] || len(files) != 2 {
		t.Errorf("SourceFiles() = %v", files)
	}
}

func TestSave_CorruptWorkbookIsBackedUp(t *testing.T) {
	store := newMockStore()
	store.Blobs[location] = []byte("definitely not a zip")
	s := NewService(store, location, nil, workbook.Options{})
	s.now = func() time.Time { return time.Date(2025, 11, 5, 9, 30, 0, 0, time.UTC) }
	ctx := context.Background()

	d, err := s.Dashboard(ctx)
	if err != nil {
		t.Fatalf("Dashboard() error = %v", err)
	}
	if d.Warning == "" || d.Headline.Transactions != 0 {
		t.Errorf("Dashboard() = %+v, want warning and empty ledger", d)
	}

	res, err := s.Save(ctx, novemberRows())
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	wantBackup := location + ".corrupt-20251105T093000Z"
	if res.Backup != wantBackup {
		t.Errorf("Backup = %q, want %q", res.Backup, wantBackup)
	}
	if string(store.Blobs[wantBackup]) != "definitely not a zip" {
		t.Errorf("backup content = %q", store.Blobs[wantBackup])
	}

	loaded, err := s.LoadLedger(ctx)
	if err != nil {
		t.Fatalf("LoadLedger() error = %v", err)
	}
	if loaded.Corrupt != nil || len(loaded.Ledger) != 3 {
		t.Errorf("after Save: corrupt = %v, records = %d", loaded.Corrupt, len(loaded.Ledger))
	}
}

func TestDashboard(t *testing.T) {
	store := newMockStore()
	budgets := domain.Budgets{"Rent": decimal.NewFromInt(1000), "Travel": decimal.NewFromInt(300)}
	s := NewService(store, location, budgets, workbook.Options{})
	ctx := context.Background()

	if _, err := s.Save(ctx, novemberRows()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	d, err := s.Dashboard(ctx)
	if err != nil {
		t.Fatalf("Dashboard() error = %v", err)
	}

	if d.Headline.TopCategory != "Rent" || !d.Headline.TopCategorySpend.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("top = %s %s, want Rent 1200", d.Headline.TopCategory, d.Headline.TopCategorySpend)
	}
	if strings.Join(d.Months, ",") != "November 2025" {
		t.Errorf("Months = %v", d.Months)
	}
	if strings.Join(d.Categories, ",") != "Food,Other,Rent" {
		t.Errorf("Categories = %v", d.Categories)
	}
	if !d.Spend[0][0].Equal(decimal.RequireFromString("4.5")) {
		t.Errorf("Spend[Nov][Food] = %s, want 4.5", d.Spend[0][0])
	}

	over := map[string]bool{}
	for _, b := range d.Budget {
		over[b.Category] = b.Over[0]
	}
	if !over["Rent"] {
		t.Error("Rent should be over its 1000 budget")
	}
	if v, ok := over["Travel"]; !ok || v {
		t.Errorf("Travel budget row = %v, present = %v; want present and not over", v, ok)
	}
}
