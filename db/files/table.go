// Package files reads and writes the flat-file tables exchanged between pipeline stages.
package files

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"retail-pricing/pkg/api"
	perrors "retail-pricing/pkg/errors"
)

// Table names used in errors.
const (
	TableSales           = "sales"
	TableInventory       = "inventory"
	TableCatalog         = "catalog"
	TableCompetitor      = "competitor"
	TableAnalytical      = "analytical"
	TableRecommendations = "recommendations"
)

// table is a CSV file read into memory with a header index.
type table struct {
	name   string
	path   string
	header map[string]int
	rows   [][]string
}

func openFile(name, path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, perrors.NewMissingInputError(name, path, err)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

// readTable loads a CSV file and checks that every required column is present.
func readTable(name, path string, required ...string) (*table, error) {
	f, err := openFile(name, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	head, err := r.Read()
	if err == io.EOF {
		return nil, perrors.NewInvalidInputError(name, path, 0, "file has no header")
	}
	if err != nil {
		return nil, perrors.NewInvalidInputError(name, path, 0, "unreadable header: %v", err)
	}

	t := &table{name: name, path: path, header: make(map[string]int, len(head))}
	for i, col := range head {
		col = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
		t.header[col] = i
	}
	for _, col := range required {
		if _, ok := t.header[col]; !ok {
			return nil, perrors.NewInvalidInputError(name, path, 0, "missing column %q", col)
		}
	}

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, perrors.NewInvalidInputError(name, path, len(t.rows)+1, "malformed csv: %v", err)
		}
		t.rows = append(t.rows, rec)
	}
	if len(t.rows) == 0 {
		return nil, perrors.NewEmptyInputError(name, path)
	}
	return t, nil
}

func (t *table) has(col string) bool {
	_, ok := t.header[col]
	return ok
}

// row gives typed access to one data row. n is the 1-based data row number.
type row struct {
	t   *table
	n   int
	rec []string
	err error
}

func (t *table) each(fn func(r *row) error) error {
	for i, rec := range t.rows {
		r := &row{t: t, n: i + 1, rec: rec}
		if err := fn(r); err != nil {
			return err
		}
		if r.err != nil {
			return r.err
		}
	}
	return nil
}

func (r *row) fail(format string, args ...any) {
	if r.err == nil {
		r.err = perrors.NewInvalidInputError(r.t.name, r.t.path, r.n, format, args...)
	}
}

func (r *row) str(col string) string {
	i, ok := r.t.header[col]
	if !ok || i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r *row) required(col string) string {
	v := r.str(col)
	if v == "" {
		r.fail("%s is empty", col)
	}
	return v
}

// parseInt also accepts integral floats such as "55.0".
func parseInt(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int(d.IntPart()), nil
}

func (r *row) integer(col string) int {
	v := r.required(col)
	if v == "" {
		return 0
	}
	n, err := parseInt(v)
	if err != nil {
		r.fail("%s: %v", col, err)
	}
	return n
}

func (r *row) nullInt(col string) *int {
	v := r.str(col)
	if v == "" {
		return nil
	}
	n, err := parseInt(v)
	if err != nil {
		r.fail("%s: %v", col, err)
		return nil
	}
	return api.IntPtr(n)
}

func (r *row) dec(col string) decimal.Decimal {
	v := r.required(col)
	if v == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		r.fail("%s: invalid decimal %q", col, v)
	}
	return d
}

func (r *row) nullDec(col string) decimal.NullDecimal {
	v := r.str(col)
	if v == "" || strings.EqualFold(v, "nan") {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		r.fail("%s: invalid decimal %q", col, v)
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func (r *row) date(col string) api.Date {
	v := r.required(col)
	if v == "" {
		return api.Date{}
	}
	d, err := api.ParseDate(v)
	if err != nil {
		r.fail("%s: %v", col, err)
	}
	return d
}

func formatNullDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func formatNullInt(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

// writeAtomic writes to a temp file next to path and renames it into place,
// so readers never observe a partially written table.
func writeAtomic(path string, write func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

func writeCSV(path string, header []string, n int, record func(i int) []string) error {
	return writeAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("failed to write header to %s: %w", path, err)
		}
		for i := 0; i < n; i++ {
			if err := cw.Write(record(i)); err != nil {
				return fmt.Errorf("failed to write row %d to %s: %w", i+1, path, err)
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return fmt.Errorf("failed to flush %s: %w", path, err)
		}
		return nil
	})
}

// Batch stages several tables and moves them into place together, so a failed
// write leaves every target untouched.
type Batch struct {
	staged []stagedFile
}

type stagedFile struct {
	tmp  string
	path string
}

// Stage writes a table through write to a hidden sibling of path.
// Nothing is visible at path until Commit.
func (b *Batch) Stage(path string, write func(string) error) error {
	tmp := filepath.Join(filepath.Dir(path), fmt.Sprintf(".%s.staged-%d", filepath.Base(path), len(b.staged)))
	if err := write(tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	b.staged = append(b.staged, stagedFile{tmp: tmp, path: path})
	return nil
}

// Commit renames every staged table into place.
func (b *Batch) Commit() error {
	for i, f := range b.staged {
		if err := os.Rename(f.tmp, f.path); err != nil {
			b.staged = b.staged[i:]
			b.Abort()
			return fmt.Errorf("failed to move %s into place: %w", f.path, err)
		}
	}
	b.staged = nil
	return nil
}

// Abort discards staged tables that were not committed.
func (b *Batch) Abort() {
	for _, f := range b.staged {
		os.Remove(f.tmp)
	}
	b.staged = nil
}
