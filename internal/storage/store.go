package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRunNotFound   = errors.New("storage: run not found")
	ErrTableNotFound = errors.New("storage: table not found")
)

// Table names written with every run.
const (
	TableFixef    = "fixef"
	TableSubjects = "subjects"
	TablePosthoc  = "posthoc"
)

// Tables lists the tables of a run in file order.
var Tables = []string{TableFixef, TableSubjects, TablePosthoc}

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir() string { return s.baseDir }

// ModelMetadata records the fit of one model of a run.
type ModelMetadata struct {
	Response  string         `json:"response"`
	Formula   string         `json:"formula"`
	Method    string         `json:"method"`
	N         int            `json:"n"`
	Groups    map[string]int `json:"groups"`
	Criterion float64        `json:"criterion"`
	LogLik    float64        `json:"loglik"`
	AIC       float64        `json:"aic"`
	BIC       float64        `json:"bic"`
	Sigma     float64        `json:"sigma"`
	Converged bool           `json:"converged"`
	Singular  bool           `json:"singular"`
	Figures   []string       `json:"figures,omitempty"`
}

type RunMetadata struct {
	ID          string          `json:"id"`
	Study       string          `json:"study"`
	Timestamp   time.Time       `json:"timestamp"`
	Dataset     string          `json:"dataset"`
	Rows        int             `json:"rows"`
	Normalizers []string        `json:"normalizers,omitempty"`
	Models      []ModelMetadata `json:"models"`
}

// Table is a named CSV table with a header row.
type Table struct {
	Name   string     `json:"name"`
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// Column returns the values of one header column.
func (t *Table) Column(name string) ([]string, bool) {
	idx := -1
	for i, h := range t.Header {
		if h == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	out := make([]string, len(t.Rows))
	for i, r := range t.Rows {
		if idx < len(r) {
			out[i] = r[idx]
		}
	}
	return out, true
}

// Record is everything persisted for one run.
type Record struct {
	Metadata RunMetadata
	Tables   []Table
}

// NewRunID builds <study>_<unix>_<short-uuid>.
func NewRunID(study string, now time.Time) string {
	name := strings.NewReplacer(" ", "-", string(os.PathSeparator), "-").Replace(study)
	return fmt.Sprintf("%s_%d_%s", name, now.Unix(), uuid.NewString()[:8])
}

// Save writes a run directory and returns its id. The metadata id and
// timestamp are filled in.
func (s *Store) Save(rec *Record) (string, error) {
	now := time.Now()
	meta := rec.Metadata
	meta.ID = NewRunID(meta.Study, now)
	meta.Timestamp = now

	runDir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		metaFile.Close()
		return "", err
	}
	if err := metaFile.Close(); err != nil {
		return "", err
	}

	for _, t := range rec.Tables {
		if err := writeTable(filepath.Join(runDir, t.Name+".csv"), t); err != nil {
			return "", fmt.Errorf("write %s: %w", t.Name, err)
		}
	}
	rec.Metadata = meta
	return meta.ID, nil
}

func writeTable(path string, t Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(t.Header); err != nil {
		f.Close()
		return err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// List returns stored runs, oldest first. Directories without readable
// metadata are skipped.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].Timestamp.Before(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%s: %w", runID, err)
	}
	return &meta, nil
}

// LoadTable reads one CSV table of a run.
func (s *Store) LoadTable(runID, name string) (*Table, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, name+".csv"))
	if err != nil {
		if os.IsNotExist(err) {
			if _, merr := s.Load(runID); merr != nil {
				return nil, merr
			}
			return nil, fmt.Errorf("%w: %s/%s", ErrTableNotFound, runID, name)
		}
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	t := &Table{Name: name, Rows: [][]string{}}
	if len(records) > 0 {
		t.Header = records[0]
		t.Rows = records[1:]
	}
	return t, nil
}

// LoadRecord reads the metadata and every table of a run.
func (s *Store) LoadRecord(runID string) (*Record, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}
	rec := &Record{Metadata: *meta}
	for _, name := range Tables {
		t, err := s.LoadTable(runID, name)
		if errors.Is(err, ErrTableNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rec.Tables = append(rec.Tables, *t)
	}
	return rec, nil
}
