package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pat/workitem-migrate/internal/contracts"
	"github.com/pat/workitem-migrate/internal/migrate"
)

const SchemaVersionV1 = "1"

const latestFileName = "latest.json"

// Report is the persisted record of one migration run.
type Report struct {
	SchemaVersion string                    `json:"schema_version"`
	StartedAt     time.Time                 `json:"started_at"`
	FinishedAt    time.Time                 `json:"finished_at"`
	DryRun        bool                      `json:"dry_run"`
	Production    bool                      `json:"production"`
	Selector      string                    `json:"selector,omitempty"`
	Counts        contracts.AggregateCounts `json:"counts"`
	Items         []Item                    `json:"items"`
}

type Item struct {
	ID       int       `json:"id"`
	Title    string    `json:"title,omitempty"`
	Outcome  string    `json:"outcome"`
	IssueURL string    `json:"issue_url,omitempty"`
	Messages []Message `json:"messages,omitempty"`
}

type Message struct {
	Level      string `json:"level"`
	ReasonCode string `json:"reason_code,omitempty"`
	Text       string `json:"text"`
}

// RunMeta describes the run a report is built from.
type RunMeta struct {
	StartedAt  time.Time
	FinishedAt time.Time
	DryRun     bool
	Production bool
	Selector   string
}

// FromResult converts a finished batch into its persistable report.
func FromResult(result migrate.Result, meta RunMeta) Report {
	built := Report{
		SchemaVersion: SchemaVersionV1,
		StartedAt:     meta.StartedAt.UTC(),
		FinishedAt:    meta.FinishedAt.UTC(),
		DryRun:        meta.DryRun,
		Production:    meta.Production,
		Selector:      meta.Selector,
		Counts:        result.Counts,
		Items:         make([]Item, 0, len(result.Items)),
	}

	for _, item := range result.Items {
		converted := Item{
			ID:       item.ID,
			Title:    item.Title,
			Outcome:  string(item.Outcome),
			IssueURL: item.IssueURL,
		}
		for _, message := range item.Messages {
			converted.Messages = append(converted.Messages, Message{
				Level:      message.Level,
				ReasonCode: string(message.ReasonCode),
				Text:       message.Text,
			})
		}
		built.Items = append(built.Items, converted)
	}
	return built
}

// Store persists run reports under a single root directory. Each run
// gets a timestamped file; latest.json always points at the newest run.
type Store struct {
	fs *safeFS
}

func NewStore(root string) (*Store, error) {
	safe, err := newSafeFS(root)
	if err != nil {
		return nil, err
	}
	return &Store{fs: safe}, nil
}

func NewDefaultStore() (*Store, error) {
	return NewStore(contracts.DefaultReportDir)
}

func (s *Store) Root() string {
	if s == nil || s.fs == nil {
		return ""
	}
	return s.fs.root
}

// Save writes the report to runs/<timestamp>.json and refreshes
// latest.json. It returns the relative path of the run file.
func (s *Store) Save(r Report) (string, error) {
	if s == nil || s.fs == nil {
		return "", fmt.Errorf("report store is not initialized")
	}
	if r.SchemaVersion == "" {
		r.SchemaVersion = SchemaVersionV1
	}

	encoded, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	encoded = append(encoded, '\n')

	relativePath := filepath.Join("runs", runFileName(r.StartedAt))
	if err := s.fs.writeFileAtomic(relativePath, encoded, 0o644); err != nil {
		return "", err
	}
	if err := s.fs.writeFileAtomic(latestFileName, encoded, 0o644); err != nil {
		return "", err
	}
	return relativePath, nil
}

// LoadLatest reads the most recent run. A missing file returns an
// empty report instead of an error.
func (s *Store) LoadLatest() (Report, error) {
	if s == nil || s.fs == nil {
		return Report{}, fmt.Errorf("report store is not initialized")
	}

	encoded, err := s.fs.readFile(latestFileName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Report{SchemaVersion: SchemaVersionV1}, nil
		}
		return Report{}, err
	}

	var loaded Report
	if err := json.Unmarshal(encoded, &loaded); err != nil {
		return Report{}, fmt.Errorf("report file is corrupt: %w", err)
	}
	return loaded, nil
}

func runFileName(startedAt time.Time) string {
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	return startedAt.UTC().Format("20060102T150405Z") + ".json"
}
