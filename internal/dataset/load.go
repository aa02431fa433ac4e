package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const defaultTimeout = 30 * time.Second

type Options struct {
	// Sheet selects a worksheet for .xlsx sources; empty means the first one.
	Sheet string
	// Delimiter overrides the CSV field separator.
	Delimiter rune
	// Client is used for remote sources; nil means a client with a 30s timeout.
	Client *http.Client
}

// Load reads a dataset from a local path or an http(s) URL. CSV is the
// default format; sources ending in .xlsx are read as workbooks.
func Load(ctx context.Context, source string, opts Options) (*Dataset, error) {
	var (
		raw []byte
		err error
	)
	if IsRemote(source) {
		raw, err = fetch(ctx, RawURL(source), opts.Client)
	} else {
		raw, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, err
	}

	var records [][]string
	if isWorkbook(source) {
		records, err = readWorkbook(raw, opts.Sheet)
	} else {
		records, err = readCSV(raw, opts.Delimiter)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", source, err)
	}
	return FromRecords(source, records)
}

func IsRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// RawURL rewrites a github.com ".../blob/<ref>/<path>" page link to the
// raw.githubusercontent.com file it shows. Other URLs are returned unchanged.
func RawURL(source string) string {
	u, err := url.Parse(source)
	if err != nil || u.Host != "github.com" {
		return source
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 5 || parts[2] != "blob" {
		return source
	}
	u.Host = "raw.githubusercontent.com"
	u.Path = "/" + strings.Join(append(parts[:2], parts[3:]...), "/")
	u.RawQuery = ""
	return u.String()
}

func fetch(ctx context.Context, target string, client *http.Client) ([]byte, error) {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: status %d", ErrFetch, target, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func isWorkbook(source string) bool {
	p := source
	if u, err := url.Parse(source); err == nil && IsRemote(source) {
		p = u.Path
	}
	return strings.EqualFold(path.Ext(p), ".xlsx")
}

func readCSV(raw []byte, delim rune) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	if delim != 0 {
		r.Comma = delim
	}
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	return r.ReadAll()
}

func readWorkbook(raw []byte, sheet string) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrEmpty
		}
		sheet = sheets[0]
	}
	return f.GetRows(sheet)
}
