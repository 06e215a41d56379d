// Package engine defines the descriptors and structured outcomes shared by
// the fallback chain and the engine bindings under internal/services.
package engine

import (
	"context"
	"sort"
	"time"
)

// Stage names a pipeline step that interchangeable engines can implement.
type Stage string

const (
	StageDownload   Stage = "download"
	StageExtract    Stage = "extract-audio"
	StageSeparate   Stage = "separate-voice"
	StageTranscribe Stage = "transcribe"
	StageSubtitle   Stage = "subtitle"
	StageTranslate  Stage = "translate"
)

// Descriptor names one interchangeable implementation of a stage. Loaded from
// configuration at startup and immutable afterwards.
type Descriptor struct {
	Name     string
	Stage    Stage
	Priority int
	Run      RunFunc
}

// Request is the single input handed to a chain invocation.
type Request struct {
	// Source is the URL or local file path the stage consumes.
	Source string
	// Service is the external platform the source belongs to; rate-limit
	// state is keyed by it.
	Service string
	// Language is the preferred output language where a stage honors one.
	Language string
	// OutputDir is the stage's designated artifact directory.
	OutputDir string
}

// Result is the structured outcome of one engine attempt. Exactly one of the
// outcome kinds applies; see Outcome.
type Result struct {
	// ArtifactPath points at the produced file on success.
	ArtifactPath string
	// ExtraArtifacts lists additional files produced alongside the primary
	// artifact (playlist downloads can yield several).
	ExtraArtifacts []string
}

// RunFunc invokes one engine. The error, classified through
// services.Classify, decides whether the chain stops, falls through, or
// aborts with a cooldown.
type RunFunc func(ctx context.Context, req Request) (Result, error)

// OutcomeKind tags the chain-level interpretation of an attempt.
type OutcomeKind int

const (
	// OutcomeSuccess terminates the chain with an artifact.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeSoftFail moves the chain on to the next engine.
	OutcomeSoftFail
	// OutcomeRateLimited aborts the whole chain; the limit is service-wide,
	// not engine-specific.
	OutcomeRateLimited
	// OutcomeAborted stops the chain without trying further engines, for
	// failures no engine swap can fix (auth required, cancellation).
	OutcomeAborted
)

// Attempt records one engine invocation for chain reporting.
type Attempt struct {
	Engine  string
	Kind    OutcomeKind
	Err     error
	Elapsed time.Duration
}

// ByPriority returns the descriptors sorted by ascending priority. The input
// slice is not modified.
func ByPriority(descriptors []Descriptor) []Descriptor {
	sorted := make([]Descriptor, len(descriptors))
	copy(sorted, descriptors)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return sorted
}
