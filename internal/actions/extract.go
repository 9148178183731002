package actions

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Source names the strategy that produced an extraction.
type Source string

const (
	SourceMarker    Source = "marker"
	SourceHeuristic Source = "heuristic"
	SourceNone      Source = "none"
)

// Extraction is the result of parsing one model reply.
type Extraction struct {
	Message  string
	Actions  []Action
	Source   Source
	Warnings []string
}

// Strategy claims a reply and parses it. Strategies run in order; the first claim wins.
type Strategy interface {
	Extract(reply string) (Extraction, bool)
}

// Extractor turns a reply into its message prefix and ordered actions. Parse failures never
// surface as errors; they degrade to zero actions and a warning.
type Extractor struct {
	strategies []Strategy
}

// NewExtractor returns the marker strategy followed by a heuristic strategy over rules.
func NewExtractor(logger *zap.Logger, rules ...HintRule) *Extractor {
	return &Extractor{strategies: []Strategy{
		NewMarkerStrategy(logger),
		NewHeuristicStrategy(logger, rules...),
	}}
}

func (e *Extractor) Extract(reply string) Extraction {
	for _, s := range e.strategies {
		if out, ok := s.Extract(reply); ok {
			return out
		}
	}
	return Extraction{Message: strings.TrimSpace(reply), Source: SourceNone}
}

// MarkerStrategy reads the JSON block that follows the marker.
type MarkerStrategy struct {
	logger *zap.Logger
}

func NewMarkerStrategy(logger *zap.Logger) MarkerStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return MarkerStrategy{logger: logger}
}

func (s MarkerStrategy) Extract(reply string) (Extraction, bool) {
	parts := strings.Split(reply, Marker)
	if len(parts) < 2 {
		return Extraction{}, false
	}
	out := Extraction{
		Message: strings.TrimSpace(parts[0]),
		Source:  SourceMarker,
	}
	warn := func(msg string, fields ...zap.Field) {
		s.logger.Warn(msg, fields...)
		out.Warnings = append(out.Warnings, msg)
	}

	block := parts[1]
	start := strings.Index(block, "{")
	end := strings.LastIndex(block, "}")
	if start < 0 || end <= start {
		warn("action block has no JSON object")
		return out, true
	}
	raw := block[start : end+1]
	if !gjson.Valid(raw) {
		warn("action block is not valid JSON", zap.Int("bytes", len(raw)))
		return out, true
	}
	list := gjson.Get(raw, "actions")
	if !list.IsArray() {
		warn("action block has no actions array")
		return out, true
	}

	list.ForEach(func(idx, item gjson.Result) bool {
		typ := Type(strings.TrimSpace(item.Get("type").String()))
		data := item.Get("data")
		if !typ.Known() {
			warn(fmt.Sprintf("skipped action %d: unknown type %q", idx.Int(), typ))
			return true
		}
		if !data.IsObject() {
			warn(fmt.Sprintf("skipped action %d: %s has no data object", idx.Int(), typ))
			return true
		}
		a, err := Decode(typ, []byte(data.Raw))
		if err != nil {
			warn(fmt.Sprintf("skipped action %d: %v", idx.Int(), err))
			return true
		}
		out.Actions = append(out.Actions, a)
		return true
	})
	return out, true
}

// HeuristicStrategy handles replies without a marker by asking each hint rule in order.
type HeuristicStrategy struct {
	logger *zap.Logger
	rules  []HintRule
}

func NewHeuristicStrategy(logger *zap.Logger, rules ...HintRule) HeuristicStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return HeuristicStrategy{logger: logger, rules: rules}
}

func (s HeuristicStrategy) Extract(reply string) (Extraction, bool) {
	if strings.Contains(reply, Marker) {
		return Extraction{}, false
	}
	out := Extraction{Message: strings.TrimSpace(reply), Source: SourceNone}
	for _, rule := range s.rules {
		acts, ok := rule.Match(reply)
		if !ok || len(acts) == 0 {
			continue
		}
		s.logger.Info("recovered actions from reply without action block",
			zap.String("rule", rule.Name()),
			zap.Int("actions", len(acts)),
		)
		out.Actions = acts
		out.Source = SourceHeuristic
		out.Warnings = append(out.Warnings, "reply had no action block; used hint rule "+rule.Name())
		return out, true
	}
	return out, true
}
