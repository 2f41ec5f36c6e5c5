package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dvloznov/statement-ledger/internal/domain"
	"github.com/dvloznov/statement-ledger/internal/ledger"
)

// Step is the position of an ingestion session in the operator workflow.
type Step string

const (
	StepUpload     Step = "upload"
	StepConfirm    Step = "confirm"
	StepProcessing Step = "processing"
	StepReview     Step = "review"
	StepSaved      Step = "saved"
)

var (
	// ErrWrongStep is returned when an operation is not valid in the current step.
	ErrWrongStep = errors.New("operation not allowed in current step")
	// ErrRowOutOfRange is returned for a batch index that does not exist.
	ErrRowOutOfRange = errors.New("row index out of range")
	// ErrUnknownCategory is returned when an edit names a category outside the set.
	ErrUnknownCategory = errors.New("category not in category set")
)

// FileRef names one uploaded statement and where its bytes live.
type FileRef struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

// Warning records a file that was skipped.
type Warning struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

// State is the serializable progress of one ingestion session. It is enough
// to resume processing at the next unprocessed file or row.
//
// All files are extracted before any row is categorized. RowIndex counts rows
// of Batch, across files.
type State struct {
	ID          string       `json:"id"`
	Step        Step         `json:"step"`
	Files       []FileRef    `json:"files"`
	UseResolver bool         `json:"use_resolver"`
	Categories  []string     `json:"categories"`
	FileIndex   int          `json:"file_index"`
	RowIndex    int          `json:"row_index"`
	Batch       []ledger.Row `json:"batch"`
	Warnings    []Warning    `json:"warnings,omitempty"`
	Stopped     bool         `json:"stopped"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// NewState starts a session for uploaded files. With no files the session
// waits in StepUpload.
func NewState(id string, files []FileRef) State {
	now := time.Now().UTC()
	s := State{
		ID:        id,
		Step:      StepUpload,
		Files:     slices.Clone(files),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(files) > 0 {
		s.Step = StepConfirm
	}
	return s
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	s.Files = slices.Clone(s.Files)
	s.Categories = slices.Clone(s.Categories)
	s.Batch = slices.Clone(s.Batch)
	s.Warnings = slices.Clone(s.Warnings)
	return s
}

// CategorySet returns the set captured when processing started.
func (s State) CategorySet() domain.CategorySet {
	return domain.NewCategorySet(s.Categories)
}

// AddFiles appends uploads. Only valid before processing starts.
func (s *State) AddFiles(files ...FileRef) error {
	if s.Step != StepUpload && s.Step != StepConfirm {
		return fmt.Errorf("AddFiles in %s: %w", s.Step, ErrWrongStep)
	}
	s.Files = append(s.Files, files...)
	if len(s.Files) > 0 {
		s.Step = StepConfirm
	}
	s.touch()
	return nil
}

// Confirm starts processing. useResolver false extracts only and leaves
// categories blank. The category set is frozen for the whole session.
func (s *State) Confirm(useResolver bool, set domain.CategorySet) error {
	if s.Step != StepConfirm {
		return fmt.Errorf("Confirm in %s: %w", s.Step, ErrWrongStep)
	}
	s.Step = StepProcessing
	s.UseResolver = useResolver
	s.Categories = set.Strings()
	s.touch()
	return nil
}

// Resume continues a stopped session from where it stopped.
func (s *State) Resume() error {
	if !s.Stopped || s.Step != StepReview {
		return fmt.Errorf("Resume in %s (stopped=%v): %w", s.Step, s.Stopped, ErrWrongStep)
	}
	s.Stopped = false
	s.Step = StepProcessing
	s.touch()
	return nil
}

// SetCategory edits the category of batch row i during review. A blank
// category is allowed and becomes the fallback at merge.
func (s *State) SetCategory(i int, category string) error {
	if s.Step != StepReview {
		return fmt.Errorf("SetCategory in %s: %w", s.Step, ErrWrongStep)
	}
	if i < 0 || i >= len(s.Batch) {
		return fmt.Errorf("SetCategory %d: %w", i, ErrRowOutOfRange)
	}
	if category != "" {
		c, ok := s.CategorySet().Lookup(category)
		if !ok {
			return fmt.Errorf("SetCategory %q: %w", category, ErrUnknownCategory)
		}
		category = c
	}
	s.Batch[i].Category = category
	s.touch()
	return nil
}

// DeleteRow removes batch row i during review, keeping RowIndex pointed at
// the same next unresolved row.
func (s *State) DeleteRow(i int) error {
	if s.Step != StepReview {
		return fmt.Errorf("DeleteRow in %s: %w", s.Step, ErrWrongStep)
	}
	if i < 0 || i >= len(s.Batch) {
		return fmt.Errorf("DeleteRow %d: %w", i, ErrRowOutOfRange)
	}
	s.Batch = slices.Delete(s.Batch, i, i+1)
	if i < s.RowIndex {
		s.RowIndex--
	}
	s.touch()
	return nil
}

// MarkSaved records that the batch was merged into the ledger.
func (s *State) MarkSaved() error {
	if s.Step != StepReview {
		return fmt.Errorf("MarkSaved in %s: %w", s.Step, ErrWrongStep)
	}
	s.Step = StepSaved
	s.Stopped = false
	s.touch()
	return nil
}

// Reset discards all progress and returns to StepUpload, keeping the ID.
func (s *State) Reset() {
	*s = State{
		ID:        s.ID,
		Step:      StepUpload,
		CreatedAt: s.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	}
}

// Pending reports the work left: files to extract and rows to categorize.
func (s State) Pending() (files, rows int) {
	files = len(s.Files) - s.FileIndex
	if s.UseResolver {
		rows = len(s.Batch) - s.RowIndex
	}
	return files, rows
}

func (s *State) touch() {
	s.UpdatedAt = time.Now().UTC()
}
