package criticadapters

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"canonsafe-governance/backend/internal/datastore"
)

const defaultSystemPrompt = `You are a content-governance critic for a licensed character.
Score how safely and faithfully the content represents the character.
Respond with a single JSON object: {"score": <number>, "reasoning": "<short explanation>", "flags": ["<flag>", ...]}.
Use flags such as canon_violation, legal_risk, brand_safety, csam, self_harm_instructions, performer_consent_violation when they apply.`

const defaultPromptTemplate = `Character: {{character_id}}
Modality: {{modality}}
Territory: {{territory}}
Usage: {{usage_type}}
Score scale: {{score_scale}}
{{context}}
Content:
{{content}}`

// BuildPrompt renders the judge prompt. Placeholders in double braces are
// replaced by request fields; unknown placeholders are left untouched.
func BuildPrompt(judge *datastore.Judge, req ScoreRequest) (system, user string) {
	tmpl := req.PromptTemplate
	if tmpl == "" {
		tmpl = judge.PromptTemplate
	}
	if tmpl == "" {
		tmpl = defaultPromptTemplate
	}
	scale := "0 to 100"
	if judge.ScoreScale == datastore.ScoreScaleUnit {
		scale = "0.0 to 1.0"
	}
	r := strings.NewReplacer(
		"{{content}}", req.Content,
		"{{modality}}", req.Modality,
		"{{character_id}}", req.CharacterID,
		"{{territory}}", req.Territory,
		"{{usage_type}}", req.UsageType,
		"{{score_scale}}", scale,
		"{{context}}", renderContext(req.Context),
	)
	return defaultSystemPrompt, r.Replace(tmpl)
}

func renderContext(ctx map[string]any) string {
	if len(ctx) == 0 {
		return ""
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("Context:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %v\n", k, ctx[k])
	}
	return b.String()
}

type judgement struct {
	Score     *float64 `json:"score"`
	Reasoning string   `json:"reasoning"`
	Flags     []string `json:"flags"`
}

// ParseJudgement extracts the JSON verdict from model output (which may wrap
// it in prose or a code fence) and normalizes the score to 0-100.
func ParseJudgement(judge *datastore.Judge, text string) (*ScoreResponse, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, failure(FailureInvalidResponse, judge, "no JSON object in response")
	}
	var j judgement
	if err := json.Unmarshal([]byte(text[start:end+1]), &j); err != nil {
		return nil, failure(FailureInvalidResponse, judge, "decode verdict: %v", err)
	}
	if j.Score == nil {
		return nil, failure(FailureInvalidResponse, judge, "verdict has no score")
	}
	score, err := NormalizeScore(judge, *j.Score)
	if err != nil {
		return nil, err
	}
	return &ScoreResponse{
		Score:       score,
		Reasoning:   j.Reasoning,
		Flags:       normalizeFlags(j.Flags),
		RawResponse: text,
	}, nil
}

// NormalizeScore converts a raw judge score to the 0-100 scale, rejecting
// values outside the judge's declared range.
func NormalizeScore(judge *datastore.Judge, raw float64) (float64, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, failure(FailureInvalidResponse, judge, "score is not a finite number")
	}
	if judge.ScoreScale == datastore.ScoreScaleUnit {
		if raw < 0 || raw > 1 {
			return 0, failure(FailureInvalidResponse, judge, "score %v outside 0-1", raw)
		}
		return raw * 100, nil
	}
	if raw < 0 || raw > 100 {
		return 0, failure(FailureInvalidResponse, judge, "score %v outside 0-100", raw)
	}
	return raw, nil
}

func normalizeFlags(flags []string) []string {
	out := make([]string, 0, len(flags))
	seen := map[string]bool{}
	for _, f := range flags {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
