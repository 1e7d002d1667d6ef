package llm

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Veraticus/bookkeeper/internal/common"
)

// abstainToken is the reply a model gives when it lacks the context to decide.
const abstainToken = "ABSTAIN"

// reply is a parsed model answer.
type reply struct {
	Category   string
	Rationale  string
	Confidence float64
	Abstain    bool
}

// parseReply accepts the JSON object the prompt asks for, and falls back to the
// CATEGORY|CONFIDENCE line format and a bare ABSTAIN.
func parseReply(content string) (reply, error) {
	content = cleanMarkdownWrapper(content)
	if content == "" {
		return reply{}, fmt.Errorf("%w: empty response", common.ErrMalformedResponse)
	}

	if r, ok := parseJSONReply(content); ok {
		return r, nil
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(strings.ToUpper(line), abstainToken) {
			return reply{Abstain: true}, nil
		}

		parts := strings.Split(line, "|")
		if len(parts) < 2 {
			continue
		}
		category := strings.TrimSpace(parts[0])
		score, err := parseScore(parts[1])
		if err != nil || category == "" {
			continue
		}
		r := reply{Category: category, Confidence: score}
		if len(parts) > 2 {
			r.Rationale = strings.TrimSpace(strings.Join(parts[2:], "|"))
		}
		return r, nil
	}

	return reply{}, fmt.Errorf("%w: unable to parse classification response", common.ErrMalformedResponse)
}

func parseJSONReply(content string) (reply, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return reply{}, false
	}

	var raw struct {
		Confidence any    `json:"confidence"`
		Category   string `json:"category"`
		Rationale  string `json:"rationale"`
		Abstain    bool   `json:"abstain"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return reply{}, false
	}

	if raw.Abstain || strings.EqualFold(strings.TrimSpace(raw.Category), abstainToken) {
		return reply{Abstain: true, Rationale: raw.Rationale}, true
	}
	if strings.TrimSpace(raw.Category) == "" {
		return reply{}, false
	}

	var score float64
	switch v := raw.Confidence.(type) {
	case float64:
		score = normalizeScore(v)
	case string:
		s, err := parseScore(v)
		if err != nil {
			return reply{}, false
		}
		score = s
	default:
		return reply{}, false
	}

	return reply{
		Category:   strings.TrimSpace(raw.Category),
		Confidence: score,
		Rationale:  strings.TrimSpace(raw.Rationale),
	}, true
}

// parseScore reads a confidence such as "0.85", "85%" or "0.85 (high)".
func parseScore(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "%") {
		v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
		if err != nil {
			return 0, err
		}
		return clampScore(v / 100), nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Keep the leading number only.
		end := strings.IndexFunc(s, func(r rune) bool {
			return (r < '0' || r > '9') && r != '.'
		})
		if end <= 0 {
			return 0, err
		}
		v, err = strconv.ParseFloat(s[:end], 64)
		if err != nil {
			return 0, err
		}
	}
	return normalizeScore(v), nil
}

// Bare scores above percentFloor are percentages. Scores between 1 and percentFloor are a
// model overshooting the unit range and clamp to 1.
const percentFloor = 1.5

// normalizeScore reads bare values above percentFloor as percentages and clamps into [0,1].
func normalizeScore(v float64) float64 {
	if v > percentFloor {
		v /= 100
	}
	return clampScore(v)
}

func clampScore(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// cleanMarkdownWrapper strips a surrounding ``` fence, with or without a language tag.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if nl := strings.Index(content, "\n"); nl >= 0 {
		content = content[nl+1:]
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}
