package dialogue

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/cadencehq/cadence/internal/model"
	"github.com/cadencehq/cadence/internal/reasoning"
)

// Compiler extracts structured insights from user messages and folds the
// accumulated records into a journey summary. Extraction is best-effort;
// compilation is pure and never loses earlier insights.
type Compiler struct {
	engine reasoning.Engine
	log    zerolog.Logger
}

func NewCompiler(engine reasoning.Engine, log zerolog.Logger) *Compiler {
	return &Compiler{engine: engine, log: log.With().Str("component", "insights").Logger()}
}

// Extract asks the reasoning service for stage-appropriate fields. A service
// failure or an empty result returns nil; insight capture is never worth
// failing a message over.
func (c *Compiler) Extract(ctx context.Context, spec StageSpec, text string) *reasoning.InsightExtraction {
	res, err := c.engine.ExtractInsights(ctx, spec.Rubric, text)
	if err != nil {
		c.log.Warn().Err(err).Int("stage", spec.Rubric.Stage).Msg("insight extraction unavailable")
		return nil
	}
	if len(res.Fields) == 0 && len(res.KeyInsights) == 0 {
		return nil
	}
	return res
}

// JourneySummary is the deduplicated roll-up of everything learned so far,
// used to personalize stage introductions and the final suggestions.
type JourneySummary struct {
	Fields      map[string][]string
	KeyInsights []string
}

// Compile folds stored insight records into a summary. Later records add to
// earlier ones; nothing is overwritten or dropped. Within each field, values
// keep first-seen order.
func Compile(insights []*model.Insight) *JourneySummary {
	ordered := make([]*model.Insight, len(insights))
	copy(ordered, insights)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Stage != ordered[j].Stage {
			return ordered[i].Stage < ordered[j].Stage
		}
		return ordered[i].TurnSeq < ordered[j].TurnSeq
	})

	sum := &JourneySummary{Fields: make(map[string][]string)}
	seenField := make(map[string]map[string]bool)
	seenKey := make(map[string]bool)

	for _, ins := range ordered {
		for field, value := range ins.Fields {
			for _, v := range flatten(value) {
				if seenField[field] == nil {
					seenField[field] = make(map[string]bool)
				}
				if seenField[field][v] {
					continue
				}
				seenField[field][v] = true
				sum.Fields[field] = append(sum.Fields[field], v)
			}
		}
		for _, k := range ins.KeyInsights {
			if seenKey[k] {
				continue
			}
			seenKey[k] = true
			sum.KeyInsights = append(sum.KeyInsights, k)
		}
	}
	return sum
}

// flatten renders an insight value as strings; lists contribute one entry
// per element.
func flatten(v any) []string {
	switch vv := v.(type) {
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			out = append(out, fmt.Sprint(e))
		}
		return out
	case []string:
		return vv
	default:
		return []string{fmt.Sprint(v)}
	}
}
