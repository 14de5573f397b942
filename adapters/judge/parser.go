package judge

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"tutorlab/domain/core"
	"tutorlab/domain/rubric"
	"tutorlab/internal"
)

// DefaultMinRescueDimensions gates the pattern-rescue stage: a rescue with
// fewer recovered dimensions is rejected outright. Hand-tuned; kept
// configurable pending empirical re-tuning.
const DefaultMinRescueDimensions = 3

// Strategy is one pure parsing attempt over the extracted candidate text.
// Strategies run in order; the first success wins.
type Strategy struct {
	Name  string
	Apply func(candidate string) (*rubric.RatingSet, error)
}

// Attempt records one strategy's outcome for diagnostics
type Attempt struct {
	Strategy string
	Err      error
}

// Trace reports how a parse was won (or lost)
type Trace struct {
	Winner   string
	Attempts []Attempt
}

// UnparseableError means every strategy failed on the judge's text.
// It unwraps to core.ErrUnparseableJudgeOutput so callers can keep judge
// parsing failures apart from agent invocation failures.
type UnparseableError struct {
	Attempts []Attempt
	Preview  string
}

func (e *UnparseableError) Error() string {
	return fmt.Sprintf("%v after %d strategies (preview: %q)",
		core.ErrUnparseableJudgeOutput, len(e.Attempts), e.Preview)
}

func (e *UnparseableError) Unwrap() error { return core.ErrUnparseableJudgeOutput }

// Parser turns raw judge text into a structured rating set via an ordered,
// increasingly permissive strategy cascade. Judge text is adversarial in
// practice: extra prose, code fences, unescaped inner quotes, trailing
// commas, stray control characters.
type Parser struct {
	minRescueDims int
	strategies    []Strategy
	logger        *internal.Logger
}

// Option configures a Parser
type Option func(*Parser)

// WithMinRescueDimensions overrides the rescue-stage dimension threshold
func WithMinRescueDimensions(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.minRescueDims = n
		}
	}
}

// WithLogger sets the parser's logger
func WithLogger(logger *internal.Logger) Option {
	return func(p *Parser) { p.logger = logger }
}

// NewParser builds the cascade
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		minRescueDims: DefaultMinRescueDimensions,
		logger:        internal.NewDefaultLogger().WithComponent("JudgeParser"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.strategies = []Strategy{
		{Name: "strict", Apply: decodeRatings},
		{Name: "mechanical_cleanup", Apply: func(s string) (*rubric.RatingSet, error) {
			return decodeRatings(stripTrailingCommas(escapeControlChars(s)))
		}},
		{Name: "quote_repair", Apply: func(s string) (*rubric.RatingSet, error) {
			// quote repair runs first: it is position-local and does not
			// depend on in-string tracking, which broken quotes corrupt
			return decodeRatings(stripTrailingCommas(escapeControlChars(repairQuotes(s))))
		}},
		{Name: "structural_repair", Apply: func(s string) (*rubric.RatingSet, error) {
			return decodeRatings(repairStructure(s))
		}},
	}
	return p
}

// Parse runs the cascade and returns a rating set or a typed failure
func (p *Parser) Parse(raw string) (*rubric.RatingSet, error) {
	rs, _, err := p.ParseWithTrace(raw)
	return rs, err
}

// ParseWithTrace runs the cascade and reports which strategy won.
// The result's Confidence field distinguishes a full structural parse from a
// lower-confidence pattern rescue; callers must not treat the two alike.
func (p *Parser) ParseWithTrace(raw string) (*rubric.RatingSet, Trace, error) {
	trace := Trace{}
	candidate := extractCandidate(raw)

	for _, strat := range p.strategies {
		rs, err := strat.Apply(candidate)
		if err == nil {
			rs.Confidence = rubric.ConfidenceFull
			trace.Winner = strat.Name
			p.logger.Debug("parsed %d dimensions via %s", len(rs.Dimensions), strat.Name)
			return rs, trace, nil
		}
		trace.Attempts = append(trace.Attempts, Attempt{Strategy: strat.Name, Err: err})
	}

	// Final rescue: pull individual dimension blocks out of the raw text,
	// ignoring overall structure.
	rs, err := p.rescueDimensions(raw)
	if err == nil {
		trace.Winner = "pattern_rescue"
		p.logger.Warn("structural parse failed; rescued %d dimensions by pattern extraction", len(rs.Dimensions))
		return rs, trace, nil
	}
	trace.Attempts = append(trace.Attempts, Attempt{Strategy: "pattern_rescue", Err: err})

	return nil, trace, &UnparseableError{Attempts: trace.Attempts, Preview: preview(raw)}
}

func preview(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) > 120 {
		return raw[:120] + "..."
	}
	return raw
}

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// extractCandidate picks the best JSON-object candidate out of the raw text:
// fenced-block content when present, else the substring between the first
// '{' and the last '}'.
func extractCandidate(raw string) string {
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return strings.TrimSpace(raw)
}

// reservedKeys are structural members of the judge envelope, not dimensions
var reservedKeys = map[string]bool{
	"ratings":       true,
	"validation":    true,
	"overall":       true,
	"overall_score": true,
	"summary":       true,
}

type dimensionPayload struct {
	Score     json.Number `json:"score"`
	Rationale string      `json:"rationale"`
}

// decodeRatings is the strict structural decode. The judge envelope carries
// per-dimension rating objects (either at the top level or under "ratings"),
// a pass/fail validation block, an overall score, and a summary.
func decodeRatings(content string) (*rubric.RatingSet, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &top); err != nil {
		return nil, err
	}

	container := top
	if raw, ok := top["ratings"]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(raw, &inner); err == nil {
			container = inner
		}
	}

	dims := make(map[string]rubric.Rating)
	for key, raw := range container {
		if reservedKeys[key] {
			continue
		}
		var payload dimensionPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			continue
		}
		score, ok := normalizeScore(payload.Score)
		if !ok {
			continue
		}
		dims[key] = rubric.Rating{Score: score, Rationale: payload.Rationale}
	}
	if len(dims) == 0 {
		return nil, fmt.Errorf("no rubric dimensions found in judge object")
	}

	rs := rubric.NewRatingSet(dims, rubric.ConfidenceFull)
	rs.Validation = decodeValidation(top["validation"])
	rs.Overall = decodeOverall(top)
	if raw, ok := top["summary"]; ok {
		var summary string
		if err := json.Unmarshal(raw, &summary); err == nil {
			rs.Summary = summary
		}
	}
	return rs, nil
}

// normalizeScore accepts integral 1-5 scores, tolerating float renderings
// like 4.0 but rejecting anything out of range.
func normalizeScore(n json.Number) (int, bool) {
	f, err := n.Float64()
	if err != nil {
		return 0, false
	}
	rounded := math.Round(f)
	if rounded != f || rounded < 1 || rounded > 5 {
		return 0, false
	}
	return int(rounded), true
}

// decodeValidation accepts bools or "pass"/"fail" strings per check
func decodeValidation(raw json.RawMessage) map[string]bool {
	if raw == nil {
		return nil
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil
	}
	checks := make(map[string]bool, len(generic))
	for name, v := range generic {
		switch val := v.(type) {
		case bool:
			checks[name] = val
		case string:
			checks[name] = strings.EqualFold(val, "pass") || strings.EqualFold(val, "true")
		}
	}
	if len(checks) == 0 {
		return nil
	}
	return checks
}

func decodeOverall(top map[string]json.RawMessage) float64 {
	for _, key := range []string{"overall_score", "overall"} {
		raw, ok := top[key]
		if !ok {
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			if f, err := n.Float64(); err == nil {
				return f
			}
		}
	}
	return 0
}

var (
	dimensionBlock = regexp.MustCompile(`"([A-Za-z_][A-Za-z0-9_]*)"\s*:\s*\{[^{}]*?"score"\s*:\s*([1-5])\b[^{}]*`)
	rationaleField = regexp.MustCompile(`"rationale"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// rescueDimensions extracts individual dimension blocks directly from the
// raw text, ignoring overall structure. Succeeds only when at least
// minRescueDims dimensions are recovered, and tags the result as a
// lower-confidence rescue rather than a full parse.
func (p *Parser) rescueDimensions(raw string) (*rubric.RatingSet, error) {
	dims := make(map[string]rubric.Rating)
	for _, match := range dimensionBlock.FindAllStringSubmatch(raw, -1) {
		name := match[1]
		if reservedKeys[name] {
			continue
		}
		score := int(match[2][0] - '0')
		rating := rubric.Rating{Score: score}
		if rm := rationaleField.FindStringSubmatch(match[0]); rm != nil {
			rating.Rationale = rm[1]
		}
		dims[name] = rating
	}
	if len(dims) < p.minRescueDims {
		return nil, fmt.Errorf("rescued only %d dimensions (minimum %d)", len(dims), p.minRescueDims)
	}
	return rubric.NewRatingSet(dims, rubric.ConfidenceRescue), nil
}
