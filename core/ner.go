package core

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/phi-deid/deid-go/utils"
)

// nerDetectorName is the provenance tag on model-backed matches.
const nerDetectorName = "ner"

// nerSeqLen is the fixed sequence length the bundled models expect.
const nerSeqLen = 256

// nerTypeMap converts BIO label families to entity types.
var nerTypeMap = map[string]utils.EntityType{
	"PER":  utils.TypeName,
	"ORG":  utils.TypeOrganization,
	"LOC":  utils.TypeLocation,
	"DATE": utils.TypeDate,
}

// NERDetector wraps a pretrained token-classification model behind the
// Detector interface. Construction fails when the runtime or model
// assets are missing; callers treat that as "detector unavailable" and
// continue without it.
type NERDetector struct {
	session   *ort.AdvancedSession
	tokenizer *wordPieceTokenizer
	labels    []string

	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	output        *ort.Tensor[float32]

	mu sync.Mutex
}

// NewNERDetector initializes the ONNX session and tokenizer from a
// model bundle directory containing ner.onnx, label_map.json, and
// tokenizer/vocab.txt.
func NewNERDetector(modelDir string) (*NERDetector, error) {
	if modelDir == "" {
		return nil, errors.New("ner model dir is empty")
	}

	libPath := resolveSharedLibraryPath(modelDir)
	if libPath == "" {
		return nil, errors.New("onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime")
	}
	ort.SetSharedLibraryPath(libPath)
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	modelPath := filepath.Join(modelDir, "ner.onnx")
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file missing at %s: %w", modelPath, err)
	}

	labels, err := loadNERLabels(filepath.Join(modelDir, "label_map.json"))
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}

	tokenizer, err := loadWordPieceTokenizer(filepath.Join(modelDir, "tokenizer", "vocab.txt"))
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	inputShape := ort.NewShape(1, int64(nerSeqLen))
	inputIDs, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate input_ids tensor: %w", err)
	}
	attnMask, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate attention_mask tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(nerSeqLen), int64(len(labels))))
	if err != nil {
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		[]ort.Value{inputIDs, attnMask},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &NERDetector{
		session:       session,
		tokenizer:     tokenizer,
		labels:        labels,
		inputIDs:      inputIDs,
		attentionMask: attnMask,
		output:        output,
	}, nil
}

// Name implements Detector.
func (d *NERDetector) Name() string {
	return nerDetectorName
}

// Scan implements Detector. One chunk is one forward pass; text beyond
// the model's fixed sequence length is ignored by the tokenizer.
func (d *NERDetector) Scan(text string) []utils.Candidate {
	if d == nil || d.session == nil || text == "" {
		return nil
	}

	tokens := d.tokenizer.tokenize(text, nerSeqLen)
	if len(tokens) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ids := d.inputIDs.GetData()
	mask := d.attentionMask.GetData()
	for i := 0; i < nerSeqLen; i++ {
		if i < len(tokens) {
			ids[i] = tokens[i].id
			mask[i] = 1
		} else {
			ids[i] = d.tokenizer.padID
			mask[i] = 0
		}
	}

	if err := d.session.Run(); err != nil {
		return nil
	}

	return d.decode(text, tokens, d.output.GetData())
}

// Close releases the ONNX session and tensors.
func (d *NERDetector) Close() {
	if d == nil || d.session == nil {
		return
	}
	d.session.Destroy()
	d.inputIDs.Destroy()
	d.attentionMask.Destroy()
	d.output.Destroy()
	d.session = nil
}

// decode merges BIO token labels back into text spans.
func (d *NERDetector) decode(text string, tokens []nerToken, logits []float32) []utils.Candidate {
	var out []utils.Candidate

	spanStart, spanEnd := -1, -1
	spanFamily := ""
	var spanScore float64
	var spanTokens int

	flush := func() {
		if spanStart < 0 || spanEnd <= spanStart {
			return
		}
		typ, ok := nerTypeMap[spanFamily]
		if ok {
			c := utils.NewCandidate(text[spanStart:spanEnd], typ, spanStart, nerDetectorName, spanScore/float64(spanTokens))
			c.Metadata = map[string]string{"label": spanFamily}
			out = append(out, c)
		}
		spanStart, spanEnd, spanFamily, spanScore, spanTokens = -1, -1, "", 0, 0
	}

	for i, tok := range tokens {
		if tok.start < 0 {
			continue // special token
		}

		labelIdx, score := argmaxSoftmax(logits[i*len(d.labels) : (i+1)*len(d.labels)])
		label := d.labels[labelIdx]

		switch {
		case strings.HasPrefix(label, "B-"):
			flush()
			spanFamily = label[2:]
			spanStart, spanEnd = tok.start, tok.end
			spanScore, spanTokens = score, 1
		case strings.HasPrefix(label, "I-") && spanFamily == label[2:] && spanStart >= 0:
			spanEnd = tok.end
			spanScore += score
			spanTokens++
		default:
			flush()
		}
	}
	flush()

	return out
}

func argmaxSoftmax(logits []float32) (int, float64) {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}

	var denom float64
	for _, v := range logits {
		denom += math.Exp(float64(v - logits[best]))
	}
	return best, 1.0 / denom
}

// loadNERLabels reads a label_map.json of either ["O","B-PER",...] or
// {"0":"O","1":"B-PER",...} shape.
func loadNERLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil && len(arr) > 0 {
		return arr, nil
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	out := make([]string, len(m))
	for k, v := range m {
		var idx int
		if _, err := fmt.Sscanf(k, "%d", &idx); err != nil || idx < 0 || idx >= len(m) {
			return nil, fmt.Errorf("invalid label index %q", k)
		}
		out[idx] = v
	}
	return out, nil
}

// resolveSharedLibraryPath locates the onnxruntime shared library. The
// ONNXRUNTIME_SHARED_LIBRARY_PATH environment variable wins; otherwise
// common names and install locations are tried in order.
func resolveSharedLibraryPath(modelDir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}

	names := []string{
		"libonnxruntime.dylib",
		"onnxruntime.dylib",
		"libonnxruntime.so",
		"onnxruntime.so",
		"onnxruntime.dll",
	}
	dirs := []string{
		modelDir,
		filepath.Join(modelDir, "lib"),
		".",
		"/opt/homebrew/lib",
		"/usr/local/lib",
		"/usr/lib",
	}

	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}

// nerToken is one model token with its byte span in the source text.
// Special tokens carry start = -1.
type nerToken struct {
	id    int64
	start int
	end   int
}

// wordPieceTokenizer is a minimal BERT-compatible tokenizer that keeps
// byte offsets so labels can be mapped back to document spans.
type wordPieceTokenizer struct {
	vocab map[string]int64
	clsID int64
	sepID int64
	padID int64
	unkID int64
}

func loadWordPieceTokenizer(path string) (*wordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	sc := bufio.NewScanner(f)
	var idx int64
	for sc.Scan() {
		token := strings.TrimSpace(sc.Text())
		if token == "" {
			continue
		}
		vocab[token] = idx
		idx++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan vocab: %w", err)
	}

	return &wordPieceTokenizer{
		vocab: vocab,
		clsID: vocab["[CLS]"],
		sepID: vocab["[SEP]"],
		padID: vocab["[PAD]"],
		unkID: vocab["[UNK]"],
	}, nil
}

// tokenize splits text into offset-tracked wordpieces, bracketed by
// [CLS]/[SEP], truncated to seqLen.
func (t *wordPieceTokenizer) tokenize(text string, seqLen int) []nerToken {
	tokens := []nerToken{{id: t.clsID, start: -1, end: -1}}

	for _, w := range basicTokens(text) {
		tokens = append(tokens, t.wordpiece(text, w)...)
		if len(tokens) >= seqLen-1 {
			tokens = tokens[:seqLen-1]
			break
		}
	}

	return append(tokens, nerToken{id: t.sepID, start: -1, end: -1})
}

// wordpiece applies greedy longest-match splitting to one word.
func (t *wordPieceTokenizer) wordpiece(text string, span [2]int) []nerToken {
	word := text[span[0]:span[1]]
	var out []nerToken

	pos := 0
	for pos < len(word) {
		end := len(word)
		matched := false
		for end > pos {
			piece := strings.ToLower(word[pos:end])
			if pos > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				out = append(out, nerToken{id: id, start: span[0] + pos, end: span[0] + end})
				pos = end
				matched = true
				break
			}
			end--
			for end > pos && word[end]&0xC0 == 0x80 {
				end--
			}
		}
		if !matched {
			return []nerToken{{id: t.unkID, start: span[0], end: span[1]}}
		}
	}

	return out
}

// basicTokens splits on whitespace and punctuation, treating each CJK
// rune as its own token, and returns byte spans.
func basicTokens(text string) [][2]int {
	var spans [][2]int
	start := -1

	flush := func(end int) {
		if start >= 0 {
			spans = append(spans, [2]int{start, end})
			start = -1
		}
	}

	for i, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush(i)
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.Is(unicode.Han, r):
			flush(i)
			spans = append(spans, [2]int{i, i + utf8.RuneLen(r)})
		default:
			if start < 0 {
				start = i
			}
		}
	}
	flush(len(text))

	return spans
}
