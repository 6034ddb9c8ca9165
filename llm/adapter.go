package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/phi-deid/deid-go/utils"
)

// DetectorName is the source tag carried by extraction candidates.
const DetectorName = "llm"

// defaultConfidence is assigned when the model omits a confidence.
const defaultConfidence = 0.6

// defaultRuleSummary is substituted when no regulatory context blob is
// configured. Absence of a context provider must not break extraction.
const defaultRuleSummary = `Identify personal and medical identifiers: person names, dates,
ages over 89, phone and fax numbers, email addresses, national ID
numbers, medical record numbers, locations, organizations, URLs and
IP addresses.`

// A WindowResult records how one window's extraction was resolved.
type WindowResult struct {
	Outcome    ExtractionOutcome
	Candidates []utils.Candidate
	Raw        string
	Dropped    int // entities lost to offset reconciliation
}

// Adapter turns raw extractor output into candidates with verified
// absolute document offsets. Offset reconciliation is the one place
// protecting downstream code from corrupt offsets: the model is free
// to paraphrase or mis-quote the source, and anything that cannot be
// located verbatim in the document is dropped here.
type Adapter struct {
	extractor   Extractor
	config      ExtractionConfig
	rateLimiter *RateLimiter
	requestLog  *RequestLogger
}

// NewAdapter wraps an extractor with retry, rate limiting, parsing and
// reconciliation.
func NewAdapter(extractor Extractor, config *ExtractionConfig) *Adapter {
	cfg := DefaultExtractionConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.AuditLevel == "" {
		cfg.AuditLevel = "standard"
	}
	if cfg.RateLimitEnabled && cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 60
	}

	var rateLimiter *RateLimiter
	if cfg.RateLimitEnabled {
		rateLimiter = NewRateLimiter(cfg.RequestsPerMinute, 1*time.Minute)
	}

	logger := log.New(os.Stderr, "[deid] ", log.LstdFlags)

	return &Adapter{
		extractor:   extractor,
		config:      cfg,
		rateLimiter: rateLimiter,
		requestLog:  NewRequestLogger(logger, cfg.AuditLevel),
	}
}

// ExtractWindow calls the extractor for one window and returns
// candidates with verified absolute document offsets.
func (a *Adapter) ExtractWindow(ctx context.Context, doc string, window utils.Window) ([]utils.Candidate, error) {
	result, err := a.ExtractWindowDetail(ctx, doc, window)
	if err != nil {
		return nil, err
	}
	return result.Candidates, nil
}

// ExtractWindowDetail is ExtractWindow keeping the outcome tag and the
// raw model output for callers that report on extraction quality.
func (a *Adapter) ExtractWindowDetail(ctx context.Context, doc string, window utils.Window) (*WindowResult, error) {
	requestID := generateRequestID()
	startTime := time.Now()

	a.requestLog.LogRequest(requestID, map[string]interface{}{
		"request_id":   requestID,
		"window_start": window.Start,
		"window_chars": len(window.Text),
	}, "minimal")

	if a.rateLimiter != nil {
		limited, count, resetTime := a.rateLimiter.CheckLimit(a.config.Model)
		if limited {
			return nil, newDeidError(ErrorCategoryRateLimit,
				fmt.Errorf("rate limit exceeded: %d requests (limit: %d)", count, a.config.RequestsPerMinute),
				requestID,
				map[string]interface{}{
					"current_count": count,
					"limit":         a.config.RequestsPerMinute,
					"reset_time":    resetTime.Format(time.RFC3339),
				})
		}
	}

	contextText := a.config.ContextText
	if contextText == "" {
		contextText = defaultRuleSummary
	}

	raw, err := a.callWithRetry(ctx, requestID, window.Text, contextText)
	if err != nil {
		return &WindowResult{Outcome: OutcomeFailed}, err
	}

	entities, outcome := a.parse(raw)
	if outcome == OutcomeFailed {
		// Both parses failed; non-fatal for the document but the
		// window contributes nothing.
		a.requestLog.LogResponse(requestID, map[string]interface{}{
			"outcome":      string(OutcomeFailed),
			"window_start": window.Start,
		}, time.Since(startTime), "standard")
		return &WindowResult{Outcome: OutcomeFailed, Raw: raw}, nil
	}

	result := &WindowResult{Outcome: outcome, Raw: raw}
	for _, ent := range entities {
		cand, ok := a.reconcile(doc, window, ent, requestID)
		if !ok {
			result.Dropped++
			continue
		}
		result.Candidates = append(result.Candidates, cand)
	}

	a.requestLog.LogResponse(requestID, map[string]interface{}{
		"outcome":      string(outcome),
		"window_start": window.Start,
		"entities":     len(result.Candidates),
		"dropped":      result.Dropped,
	}, time.Since(startTime), "standard")

	return result, nil
}

// callWithRetry invokes the extractor with a per-call timeout and
// exponential backoff between attempts.
func (a *Adapter) callWithRetry(ctx context.Context, requestID, windowText, contextText string) (string, error) {
	var raw string
	var err error
	var lastError error

	for attempt := 0; attempt <= a.config.RetryCount; attempt++ {
		if attempt > 0 {
			backoffTime := a.config.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return "", newDeidError(ErrorCategoryTimeout,
					fmt.Errorf("extraction canceled during backoff: %w", ctx.Err()), requestID, nil)
			}
			a.requestLog.LogRequest(requestID, map[string]interface{}{
				"retry_attempt":  attempt,
				"backoff_ms":     backoffTime.Milliseconds(),
				"previous_error": lastError.Error(),
			}, "verbose")
		}

		callCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		raw, err = a.extractor.Extract(callCtx, windowText, contextText)
		cancel()
		lastError = err

		if err == nil {
			return raw, nil
		}

		// Don't retry if the caller's context is done
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return "", newDeidError(ErrorCategoryTimeout,
				fmt.Errorf("extraction canceled: %w", err), requestID, nil)
		}
	}

	return "", newDeidError(categorizeError(err),
		fmt.Errorf("extraction failed after %d attempts: %w", a.config.RetryCount+1, err),
		requestID, nil)
}

// parse attempts the structured schema first, then the free-text
// fallback.
func (a *Adapter) parse(raw string) ([]schemaEntity, ExtractionOutcome) {
	if entities, ok := parseStructured(raw); ok {
		return entities, OutcomeStructured
	}
	if entities, ok := parseFreeText(raw); ok {
		return entities, OutcomeUnstructured
	}
	return nil, OutcomeFailed
}

// parseStructured accepts either the {"entities": [...]} envelope or a
// bare JSON array. Model output is often wrapped in markdown fences, so
// those are stripped first.
func parseStructured(raw string) ([]schemaEntity, bool) {
	trimmed := stripCodeFences(raw)

	var envelope schemaResponse
	if err := json.Unmarshal([]byte(trimmed), &envelope); err == nil && envelope.Entities != nil {
		return validSchemaEntities(envelope.Entities)
	}

	var bare []schemaEntity
	if err := json.Unmarshal([]byte(trimmed), &bare); err == nil {
		return validSchemaEntities(bare)
	}

	return nil, false
}

func validSchemaEntities(entities []schemaEntity) ([]schemaEntity, bool) {
	out := make([]schemaEntity, 0, len(entities))
	for _, e := range entities {
		if e.EntityText == "" || e.Type == "" {
			continue
		}
		out = append(out, e)
	}
	return out, true
}

func stripCodeFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// reconcile locates one extracted entity inside the real document and
// verifies the span verbatim. Lookup order: window text at or after the
// claimed local offset, window text anywhere, then the whole document
// from the window start. An entity that cannot be located is dropped.
func (a *Adapter) reconcile(doc string, window utils.Window, ent schemaEntity, requestID string) (utils.Candidate, bool) {
	text := ent.EntityText

	local := -1
	if ent.LocalStart >= 0 && ent.LocalStart <= len(window.Text) {
		local = strings.Index(window.Text[ent.LocalStart:], text)
		if local >= 0 {
			local += ent.LocalStart
		}
	}
	if local < 0 {
		local = strings.Index(window.Text, text)
	}

	absolute := -1
	if local >= 0 {
		absolute = window.Start + local
	}

	if absolute < 0 || absolute+len(text) > len(doc) || doc[absolute:absolute+len(text)] != text {
		// Retry a document-wide search from the window start
		idx := strings.Index(doc[window.Start:], text)
		if idx < 0 {
			a.requestLog.LogRequest(requestID, map[string]interface{}{
				"event":       "reconciliation_failed",
				"category":    string(ErrorCategoryReconciliation),
				"entity_type": ent.Type,
				"reason":      "entity text not found in document",
			}, "standard")
			return utils.Candidate{}, false
		}
		absolute = window.Start + idx
	}

	confidence := ent.Confidence
	if confidence <= 0 {
		confidence = defaultConfidence
	}

	typ, custom := mapEntityType(ent.Type)
	cand := utils.NewCandidate(text, typ, absolute, DetectorName, confidence)
	if custom {
		cand = cand.WithCustom(utils.CustomInfo{
			Name:        normalizeTypeLabel(ent.Type),
			Description: ent.Reason,
		})
	}
	if ent.Reason != "" {
		cand.Metadata = map[string]string{"reason": ent.Reason}
	}
	return cand, true
}

// knownTypes maps normalized model labels onto the closed tag set.
var knownTypes = map[string]utils.EntityType{
	"NAME":                  utils.TypeName,
	"PERSON":                utils.TypeName,
	"DATE":                  utils.TypeDate,
	"AGE_OVER_89":           utils.TypeAgeOver89,
	"PHONE":                 utils.TypePhone,
	"FAX":                   utils.TypeFax,
	"EMAIL":                 utils.TypeEmail,
	"ID":                    utils.TypeID,
	"NATIONAL_ID":           utils.TypeID,
	"LOCATION":              utils.TypeLocation,
	"MEDICAL_RECORD_NUMBER": utils.TypeMedicalRecordNumber,
	"URL":                   utils.TypeURL,
	"IP_ADDRESS":            utils.TypeIPAddress,
	"ORGANIZATION":          utils.TypeOrganization,
}

// mapEntityType resolves a raw model label; unknown labels become the
// open Custom variant so runtime-discovered categories survive.
func mapEntityType(raw string) (utils.EntityType, bool) {
	if typ, ok := knownTypes[normalizeTypeLabel(raw)]; ok {
		return typ, false
	}
	return utils.TypeCustom, true
}

func normalizeTypeLabel(raw string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(raw)), " ", "_")
}

// generateRequestID creates a unique ID for request tracking
func generateRequestID() string {
	return fmt.Sprintf("%d-%x", time.Now().UnixNano(), time.Now().Nanosecond())
}
