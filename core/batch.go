package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/phi-deid/deid-go/utils"
)

// ProcessState tracks where a document is in the pipeline. On failure
// the terminal state records the last stage that was reached.
type ProcessState string

const (
	StatePending    ProcessState = "pending"
	StateSplitting  ProcessState = "splitting"
	StateDetecting  ProcessState = "detecting"
	StateExtracting ProcessState = "extracting"
	StateMerging    ProcessState = "merging"
	StateMasking    ProcessState = "masking"
	StateDone       ProcessState = "done"
	StateFailed     ProcessState = "failed"
)

// WindowExtractor produces candidates for one window of a document,
// already shifted to absolute document offsets. Implementations that
// cannot produce structured output for a window return an error; the
// orchestrator degrades to detector results for that window.
type WindowExtractor interface {
	ExtractWindow(ctx context.Context, doc string, window utils.Window) ([]utils.Candidate, error)
}

// OrchestratorConfig bundles the per-stage configuration.
type OrchestratorConfig struct {
	Splitter SplitterConfig `yaml:"splitter"`
	Pool     PoolConfig     `yaml:"pool"`
	Detector DetectorConfig `yaml:"detector"`
	Merge    MergeConfig    `yaml:"merge"`
}

// DefaultOrchestratorConfig returns the stock pipeline configuration.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Splitter: DefaultSplitterConfig(),
		Detector: DefaultDetectorConfig(),
		Merge:    DefaultMergeConfig(),
	}
}

// ConfidenceStats summarizes entity confidence over one document.
type ConfidenceStats struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// DocumentStats is the per-document processing summary. Stages holds
// the time spent in each pipeline stage.
type DocumentStats struct {
	Windows    int                            `json:"windows"`
	Candidates int                            `json:"candidates"`
	Entities   int                            `json:"entities"`
	Masked     int                            `json:"masked"`
	Duration   time.Duration                  `json:"duration"`
	Stages     map[ProcessState]time.Duration `json:"stages,omitempty"`
	Confidence ConfidenceStats                `json:"confidence"`
}

// DocumentResult is the outcome of running one document through the
// full pipeline.
type DocumentResult struct {
	State    ProcessState         `json:"state"`
	Entities []utils.MergedEntity `json:"entities"`
	Masked   string               `json:"masked"`
	Reports  []MaskReport         `json:"reports"`
	Stats    DocumentStats        `json:"stats"`
}

// RowResult is the outcome for one batch row. Err is set only when the
// row failed; the remaining rows are unaffected.
type RowResult struct {
	Index  int             `json:"index"`
	State  ProcessState    `json:"state"`
	Err    string          `json:"error,omitempty"`
	Result *DocumentResult `json:"result,omitempty"`
}

// BatchResult aggregates per-row outcomes. Entities counts merged
// entities across all successful rows.
type BatchResult struct {
	Rows      []RowResult   `json:"rows"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Entities  int           `json:"entities"`
	Duration  time.Duration `json:"duration"`
}

// Orchestrator runs the split, detect, extract, merge, mask pipeline.
// It owns the detector pool and reuses it across documents; the
// extractor is optional and a nil extractor skips the extraction stage.
type Orchestrator struct {
	cfg       OrchestratorConfig
	policy    *MaskingPolicy
	pool      *Pool
	extractor WindowExtractor
	audit     *AuditLogger
}

// NewOrchestrator validates the configuration, starts the detector
// pool, and returns an orchestrator ready for documents. The caller
// must Close it.
func NewOrchestrator(cfg OrchestratorConfig, policy *MaskingPolicy, extractor WindowExtractor, audit *AuditLogger) (*Orchestrator, error) {
	if err := cfg.Splitter.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Merge.Validate(); err != nil {
		return nil, err
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	detectorCfg := cfg.Detector
	factory := func() ([]Detector, error) {
		return BuildDetectors(detectorCfg, audit)
	}

	return &Orchestrator{
		cfg:       cfg,
		policy:    policy,
		pool:      NewPool(cfg.Pool, factory, audit),
		extractor: extractor,
		audit:     audit,
	}, nil
}

// Close releases the detector pool. Idempotent.
func (o *Orchestrator) Close() {
	o.pool.Close()
}

// ProcessDocument runs one document through the pipeline. Context
// cancellation is honored between stages; a canceled document returns
// the context error with the stage it stopped at. A panic anywhere in
// the pipeline, extractor included, is contained here and reported as
// a failed document rather than crashing the caller.
func (o *Orchestrator) ProcessDocument(ctx context.Context, text string) (res *DocumentResult, err error) {
	start := time.Now()
	result := &DocumentResult{State: StatePending}
	defer func() {
		if r := recover(); r != nil {
			res, err = o.fail(result, fmt.Errorf("panic: %v", r))
		}
	}()
	result.Stats.Stages = make(map[ProcessState]time.Duration)
	stageStart := start
	mark := func(stage ProcessState) {
		now := time.Now()
		result.Stats.Stages[stage] = now.Sub(stageStart)
		stageStart = now
	}

	result.State = StateSplitting
	if err := ctx.Err(); err != nil {
		return o.fail(result, err)
	}
	windows := SplitDocument(text, o.cfg.Splitter)
	result.Stats.Windows = len(windows)
	mark(StateSplitting)

	result.State = StateDetecting
	if err := ctx.Err(); err != nil {
		return o.fail(result, err)
	}
	candidates := o.pool.ScanWindows(windows)
	mark(StateDetecting)

	result.State = StateExtracting
	if err := ctx.Err(); err != nil {
		return o.fail(result, err)
	}
	candidates = append(candidates, o.extract(ctx, text, windows)...)
	result.Stats.Candidates = len(candidates)
	mark(StateExtracting)

	result.State = StateMerging
	if err := ctx.Err(); err != nil {
		return o.fail(result, err)
	}
	result.Entities = Merge(candidates, o.cfg.Merge)
	result.Stats.Entities = len(result.Entities)
	mark(StateMerging)

	result.State = StateMasking
	if err := ctx.Err(); err != nil {
		return o.fail(result, err)
	}
	result.Masked, result.Reports = ApplyPolicy(text, result.Entities, o.policy, o.audit)
	for _, r := range result.Reports {
		if r.Applied {
			result.Stats.Masked++
		}
	}

	mark(StateMasking)

	result.State = StateDone
	result.Stats.Duration = time.Since(start)
	result.Stats.Confidence = confidenceStats(result.Entities)

	o.audit.Event(AuditLog{
		EventType: "document_processed",
		Severity:  SeverityInfo,
		Input:     text,
		Entities:  result.Entities,
		Metadata: map[string]string{
			"windows":  fmt.Sprintf("%d", result.Stats.Windows),
			"entities": fmt.Sprintf("%d", result.Stats.Entities),
			"duration": result.Stats.Duration.String(),
		},
	})

	return result, nil
}

// ProcessBatch runs each row through the pipeline. A failing row is
// recorded and the batch continues; the batch itself fails only when
// the context is canceled.
func (o *Orchestrator) ProcessBatch(ctx context.Context, rows []map[string]string) (*BatchResult, error) {
	start := time.Now()
	batch := &BatchResult{Rows: make([]RowResult, 0, len(rows))}

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			batch.Duration = time.Since(start)
			return batch, err
		}

		result, err := o.ProcessDocument(ctx, FlattenRow(row))
		if err != nil {
			batch.Failed++
			batch.Rows = append(batch.Rows, RowResult{
				Index: i,
				State: StateFailed,
				Err:   err.Error(),
			})
			o.audit.Event(AuditLog{
				EventType: "batch_row_failed",
				Severity:  SeverityError,
				Document:  fmt.Sprintf("row_%d", i),
				Metadata:  map[string]string{"error": err.Error()},
			})
			continue
		}

		batch.Processed++
		batch.Entities += result.Stats.Entities
		batch.Rows = append(batch.Rows, RowResult{Index: i, State: StateDone, Result: result})
	}

	batch.Duration = time.Since(start)
	return batch, nil
}

// FlattenRow renders a tabular row as one document: columns in sorted
// order, each as "column: value" on its own line, so detections carry
// stable offsets into the flattened text.
func FlattenRow(row map[string]string) string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var b strings.Builder
	for _, col := range cols {
		b.WriteString(col)
		b.WriteString(": ")
		b.WriteString(row[col])
		b.WriteString("\n")
	}
	return b.String()
}

func (o *Orchestrator) fail(result *DocumentResult, err error) (*DocumentResult, error) {
	stage := result.State
	result.State = StateFailed
	o.audit.Event(AuditLog{
		EventType: "document_failed",
		Severity:  SeverityError,
		Metadata:  map[string]string{"stage": string(stage), "error": err.Error()},
	})
	return result, fmt.Errorf("pipeline stopped at %s: %w", stage, err)
}

// extract runs the optional extractor over every window. Extraction is
// best-effort: a window that fails contributes nothing and the pattern
// and model detections still stand.
func (o *Orchestrator) extract(ctx context.Context, doc string, windows []utils.Window) []utils.Candidate {
	if o.extractor == nil {
		return nil
	}

	var out []utils.Candidate
	for _, w := range windows {
		found, err := o.extractor.ExtractWindow(ctx, doc, w)
		if err != nil {
			o.audit.Event(AuditLog{
				EventType: "extraction_window_failed",
				Severity:  SeverityWarning,
				Metadata: map[string]string{
					"window_start": fmt.Sprintf("%d", w.Start),
					"error":        err.Error(),
				},
			})
			continue
		}
		out = append(out, found...)
	}
	return out
}

func confidenceStats(entities []utils.MergedEntity) ConfidenceStats {
	if len(entities) == 0 {
		return ConfidenceStats{}
	}

	stats := ConfidenceStats{Min: entities[0].Confidence, Max: entities[0].Confidence}
	var sum float64
	for _, e := range entities {
		sum += e.Confidence
		stats.Min = min(stats.Min, e.Confidence)
		stats.Max = max(stats.Max, e.Confidence)
	}
	stats.Mean = sum / float64(len(entities))
	return stats
}
