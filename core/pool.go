package core

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/phi-deid/deid-go/utils"
)

// PoolConfig defines the detector pool's execution model.
type PoolConfig struct {
	// Workers is the number of parallel workers; 1 runs the pool
	// sequentially with set-equal results, 0 means one per CPU core
	Workers int `yaml:"workers"`
}

// DetectorFactory builds a fresh detector set for one worker. Each
// worker calls it exactly once so per-detector model loading is
// amortized across every chunk the worker processes.
type DetectorFactory func() ([]Detector, error)

// scanJob is one chunk of text dispatched to a worker.
type scanJob struct {
	index int
	text  string
	out   chan<- scanResult
}

type scanResult struct {
	index      int
	candidates []utils.Candidate
}

// Pool runs independent detectors over text chunks using long-lived
// workers. The pool is the only long-lived shared resource in the
// pipeline: it is created once, reused across documents, and closed
// exactly once by its owner.
type Pool struct {
	jobs      chan scanJob
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	audit     *AuditLogger
}

// NewPool starts the configured number of workers, each with its own
// detector instances.
func NewPool(cfg PoolConfig, factory DetectorFactory, audit *AuditLogger) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	p := &Pool{
		jobs:  make(chan scanJob),
		audit: audit,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i, factory)
	}

	return p
}

// Scan dispatches one job per chunk and collects per-chunk candidate
// lists in input order. A failure on one chunk yields an empty list for
// that chunk only. A scan on a closed pool logs a warning and returns
// empty results.
func (p *Pool) Scan(chunks []string) [][]utils.Candidate {
	results := make([][]utils.Candidate, len(chunks))
	if len(chunks) == 0 {
		return results
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.audit.Event(AuditLog{
			EventType: "scan_after_close",
			Severity:  SeverityWarning,
		})
		return results
	}

	out := make(chan scanResult, len(chunks))
	for i, chunk := range chunks {
		p.jobs <- scanJob{index: i, text: chunk, out: out}
	}

	for range chunks {
		r := <-out
		results[r.index] = r.candidates
	}

	return results
}

// ScanWindows is Scan over splitter windows, shifting each candidate to
// absolute document offsets.
func (p *Pool) ScanWindows(windows []utils.Window) []utils.Candidate {
	chunks := make([]string, len(windows))
	for i, w := range windows {
		chunks[i] = w.Text
	}

	var out []utils.Candidate
	for i, found := range p.Scan(chunks) {
		for _, c := range found {
			c.StartIndex += windows[i].Start
			c.EndIndex += windows[i].Start
			out = append(out, c)
		}
	}
	return out
}

// Close shuts the pool down; idempotent. In-flight jobs finish first.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.jobs)
		p.wg.Wait()
	})
}

func (p *Pool) worker(id int, factory DetectorFactory) {
	defer p.wg.Done()

	detectors, err := factory()
	if err != nil {
		p.audit.Event(AuditLog{
			EventType: "detector_pool_worker_failed",
			Severity:  SeverityError,
			Metadata:  map[string]string{"worker": fmt.Sprintf("%d", id), "error": err.Error()},
		})
		detectors = nil // keep draining jobs so callers never block
	}
	defer closeDetectors(detectors)

	for job := range p.jobs {
		job.out <- scanResult{index: job.index, candidates: p.scanChunk(detectors, job.text)}
	}
}

// scanChunk runs every detector over one chunk, isolating per-detector
// panics: a detector that blows up on one chunk contributes nothing for
// that chunk and the rest proceed.
func (p *Pool) scanChunk(detectors []Detector, text string) []utils.Candidate {
	var out []utils.Candidate

	for _, d := range detectors {
		found := p.safeScan(d, text)
		out = append(out, found...)
	}

	return out
}

func (p *Pool) safeScan(d Detector, text string) (found []utils.Candidate) {
	defer func() {
		if r := recover(); r != nil {
			found = nil
			p.audit.Event(AuditLog{
				EventType: "detector_transient_failure",
				Severity:  SeverityWarning,
				Metadata:  map[string]string{"detector": d.Name(), "panic": fmt.Sprintf("%v", r)},
			})
		}
	}()

	return d.Scan(text)
}

func closeDetectors(detectors []Detector) {
	for _, d := range detectors {
		if c, ok := d.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
