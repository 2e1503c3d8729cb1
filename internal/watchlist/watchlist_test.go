package watchlist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"

	"limitwatch/internal/domain"
	"limitwatch/internal/util"
)

const grid = "\ufeffTech,,Finance,\n" +
	"code,name,code,name\n" +
	"2330.TW,TSMC,2881.TW,Fubon\n" +
	"2454.TW,MediaTek,2882,Cathay\n" +
	",,,\n" +
	"2303,UMC,,\n"

func TestReadGrid(t *testing.T) {
	specs, err := ReadGrid(strings.NewReader(grid))
	if err != nil {
		t.Fatal(err)
	}
	got := Clean(specs, util.Discard())
	want := []domain.ViewSpec{
		{Name: "Tech", Entries: []domain.Entry{{Symbol: "2330", Name: "TSMC"}, {Symbol: "2454", Name: "MediaTek"}, {Symbol: "2303", Name: "UMC"}}},
		{Name: "Finance", Entries: []domain.Entry{{Symbol: "2881", Name: "Fubon"}, {Symbol: "2882", Name: "Cathay"}}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("views mismatch (-want +got):\n%s", diff)
	}
}

func TestReadGridHeaderOnly(t *testing.T) {
	specs, err := ReadGrid(strings.NewReader("Tech,\ncode,name\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 1 || specs[0].Name != "Tech" || len(specs[0].Entries) != 0 {
		t.Errorf("ReadGrid = %+v, want one empty Tech view", specs)
	}
	if _, err := ReadGrid(strings.NewReader("")); err == nil {
		t.Error("ReadGrid(empty) error = nil")
	}
}

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct{ in, want string }{
		{"2330.TW", "2330"},
		{" 6488.TWO ", "6488"},
		{"2330.tw", "2330"},
		{"AAPL", "AAPL"},
		{".TW", ".TW"},
	}
	for _, tt := range tests {
		if got := NormalizeSymbol(tt.in); got != tt.want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCleanDropsDuplicatesAndUnnamed(t *testing.T) {
	in := []domain.ViewSpec{
		{Name: " Tech ", Entries: []domain.Entry{{Symbol: "2330"}, {Symbol: "2330.TW"}, {Symbol: " "}}},
		{Name: "", Entries: []domain.Entry{{Symbol: "1101"}}},
	}
	want := []domain.ViewSpec{{Name: "Tech", Entries: []domain.Entry{{Symbol: "2330"}}}}
	if diff := cmp.Diff(want, Clean(in, util.Discard())); diff != "" {
		t.Errorf("Clean mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watch.yaml")
	doc := `
views:
  - name: Tech
    symbols:
      - {symbol: "2330.TW", name: TSMC}
      - {symbol: "2454", name: MediaTek}
  - name: Shipping
    symbols:
      - {symbol: "2603", name: Evergreen}
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(context.Background(), path, util.Discard())
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.ViewSpec{
		{Name: "Tech", Entries: []domain.Entry{{Symbol: "2330", Name: "TSMC"}, {Symbol: "2454", Name: "MediaTek"}}},
		{Name: "Shipping", Entries: []domain.Entry{{Symbol: "2603", Name: "Evergreen"}}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("views mismatch (-want +got):\n%s", diff)
	}
}

func TestParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lists", "watch.parquet")
	specs := []domain.ViewSpec{
		{Name: "Tech", Entries: []domain.Entry{{Symbol: "2330", Name: "TSMC"}, {Symbol: "2454", Name: "MediaTek"}}},
		{Name: "Shipping", Entries: []domain.Entry{{Symbol: "2603", Name: "Evergreen"}}},
	}
	if err := WriteParquet(path, specs); err != nil {
		t.Fatal(err)
	}
	got, err := Load(context.Background(), path, util.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(specs, got); diff != "" {
		t.Errorf("views mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenUnsupported(t *testing.T) {
	if _, err := Open("watch.xls"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Open(.xls) error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestLoadXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "views.xlsx")
	wb := excelize.NewFile()
	rows := [][]any{
		{"Tech", "", "Finance", ""},
		{"code", "name", "code", "name"},
		{"2330.TW", "TSMC", "2881.TW", "Fubon"},
		{"2454.TW", "MediaTek", "2882", "Cathay"},
		{},
		{"2303", "UMC"},
	}
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := wb.SetSheetRow("Sheet1", cellRef, &row); err != nil {
			t.Fatal(err)
		}
	}
	if err := wb.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	wb.Close()

	got, err := Load(context.Background(), path, util.Discard())
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.ViewSpec{
		{Name: "Tech", Entries: []domain.Entry{{Symbol: "2330", Name: "TSMC"}, {Symbol: "2454", Name: "MediaTek"}, {Symbol: "2303", Name: "UMC"}}},
		{Name: "Finance", Entries: []domain.Entry{{Symbol: "2881", Name: "Fubon"}, {Symbol: "2882", Name: "Cathay"}}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("views mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadXLSXNotAWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "views.xlsx")
	if err := os.WriteFile(path, []byte("Tech,\ncode,name\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(context.Background(), path, util.Discard()); err == nil {
		t.Error("Load(csv text named .xlsx) error = nil")
	}
}

type fakeWatchlists struct {
	lists map[string]alpaca.Watchlist
	order []string
}

func (f *fakeWatchlists) GetWatchlists() ([]alpaca.Watchlist, error) {
	var out []alpaca.Watchlist
	for _, id := range f.order {
		wl := f.lists[id]
		wl.Assets = nil
		out = append(out, wl)
	}
	return out, nil
}

func (f *fakeWatchlists) GetWatchlist(id string) (*alpaca.Watchlist, error) {
	wl, ok := f.lists[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &wl, nil
}

func TestAlpacaSource(t *testing.T) {
	api := &fakeWatchlists{
		lists: map[string]alpaca.Watchlist{
			"w1": {ID: "w1", Name: "Megacaps", Assets: []alpaca.Asset{{Symbol: "AAPL", Name: "Apple Inc."}, {Symbol: "MSFT", Name: "Microsoft"}}},
			"w2": {ID: "w2", Name: "Energy", Assets: []alpaca.Asset{{Symbol: "XOM", Name: "Exxon"}}},
		},
		order: []string{"w1", "w2"},
	}

	got, err := newAlpacaSource(api, nil).Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.ViewSpec{
		{Name: "Megacaps", Entries: []domain.Entry{{Symbol: "AAPL", Name: "Apple Inc."}, {Symbol: "MSFT", Name: "Microsoft"}}},
		{Name: "Energy", Entries: []domain.Entry{{Symbol: "XOM", Name: "Exxon"}}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("views mismatch (-want +got):\n%s", diff)
	}

	got, err = newAlpacaSource(api, []string{"Energy"}).Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "Energy" {
		t.Errorf("filtered Load = %+v, want only Energy", got)
	}
}
