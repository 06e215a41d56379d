package queue

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle of a work item.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusRetrying Status = "retrying"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
)

// CancelledReason is the error message set when items are failed due to a
// user-initiated batch cancellation.
const CancelledReason = "cancelled"

var allStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusRetrying,
	StatusDone,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// validTransitions encodes the monotonic lifecycle:
// pending -> running -> {done, retrying -> running, failed}.
// Cancellation may fail an item straight from pending or retrying.
var validTransitions = map[Status]map[Status]struct{}{
	StatusPending:  {StatusRunning: {}, StatusFailed: {}},
	StatusRunning:  {StatusDone: {}, StatusRetrying: {}, StatusFailed: {}},
	StatusRetrying: {StatusRunning: {}, StatusFailed: {}},
	StatusDone:     {},
	StatusFailed:   {},
}

// CanTransition reports whether moving from one status to another is allowed.
// Terminal statuses never regress.
func CanTransition(from, to Status) bool {
	next, ok := validTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// IsTerminal reports whether a status ends the item's lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// Operation names one unit of requested work against an item.
type Operation string

const (
	OpDownload   Operation = "download"
	OpExtract    Operation = "extract-audio"
	OpSeparate   Operation = "separate-voice"
	OpTranscribe Operation = "transcribe"
	OpSubtitle   Operation = "subtitle"
	OpTranslate  Operation = "translate"
)

var knownOperations = map[Operation]struct{}{
	OpDownload:   {},
	OpExtract:    {},
	OpSeparate:   {},
	OpTranscribe: {},
	OpSubtitle:   {},
	OpTranslate:  {},
}

// ParseOperations parses a comma-separated operation list, rejecting unknown
// names and dropping duplicates while preserving order.
func ParseOperations(value string) ([]Operation, error) {
	var ops []Operation
	seen := map[Operation]struct{}{}
	for _, part := range strings.Split(value, ",") {
		name := Operation(strings.ToLower(strings.TrimSpace(part)))
		if name == "" {
			continue
		}
		if _, ok := knownOperations[name]; !ok {
			return nil, fmt.Errorf("unknown operation %q", name)
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		ops = append(ops, name)
	}
	return ops, nil
}

// JoinOperations renders an operation set for storage and display.
func JoinOperations(ops []Operation) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = string(op)
	}
	return strings.Join(parts, ",")
}

// Item represents a work item persisted in SQLite.
type Item struct {
	ID             int64
	Source         string
	Title          string
	Operations     []Operation
	Status         Status
	Attempts       int
	ErrorKind      string
	ErrorMessage   string
	DownloadFile   string
	AudioFile      string
	VocalsFile     string
	TranscriptFile string
	SubtitleFile   string
	BatchID        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasOperation reports whether the item requests the given operation.
func (i *Item) HasOperation(op Operation) bool {
	for _, candidate := range i.Operations {
		if candidate == op {
			return true
		}
	}
	return false
}

// PartialArtifacts lists files the item produced so far. The source file is
// excluded: a local input reused as the download artifact belongs to the
// caller, not to us.
func (i *Item) PartialArtifacts() []string {
	var paths []string
	for _, p := range []string{i.DownloadFile, i.AudioFile, i.VocalsFile, i.TranscriptFile, i.SubtitleFile} {
		if p != "" && p != i.Source {
			paths = append(paths, p)
		}
	}
	return paths
}

// SetFailed marks the item as failed with the given taxonomy kind and reason.
func (i *Item) SetFailed(kind, message string) {
	i.Status = StatusFailed
	i.ErrorKind = kind
	i.ErrorMessage = message
}

// HealthSummary aggregates queue counts per lifecycle state.
type HealthSummary struct {
	Total    int
	Pending  int
	Running  int
	Retrying int
	Done     int
	Failed   int
}
