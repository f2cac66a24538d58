package snitch

import (
	"regexp"
	"strings"

	logx "snitchbot/pkg/logx"
)

// Detector evaluates message text against the configured groups of a scope.
//
// Words match whole words only, case-insensitive, with configured text
// treated literally (escaped before pattern construction). Groups compile
// independently so one bad word list cannot block the others.
type Detector struct {
	log logx.Logger
}

func NewDetector(log logx.Logger) *Detector {
	return &Detector{log: log}
}

// Evaluate returns, for every group that matched, the subset of its words
// found in text. Matches are deduplicated case-insensitively on the text as
// it appeared in the message, first occurrence wins. Groups with no match
// are omitted; groups with no words are skipped without building a pattern.
func (d *Detector) Evaluate(groups map[string]*Group, text string) map[string][]string {
	if text == "" || len(groups) == 0 {
		return nil
	}

	var hits map[string][]string
	for name, g := range groups {
		if g == nil || len(g.Words) == 0 {
			continue
		}
		re, err := compileWords(g.Words)
		if err != nil {
			d.log.Warn("trigger pattern rejected",
				logx.String("group", name),
				logx.Err(err),
			)
			continue
		}
		if re == nil {
			continue
		}
		found := re.FindAllString(text, -1)
		if len(found) == 0 {
			continue
		}
		matched := dedupeFold(found)
		if hits == nil {
			hits = map[string][]string{}
		}
		hits[name] = matched
	}
	return hits
}

func compileWords(words []string) (*regexp.Regexp, error) {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		parts = append(parts, `\b`+regexp.QuoteMeta(w)+`\b`)
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return regexp.Compile(`(?i)` + strings.Join(parts, "|"))
}

func dedupeFold(found []string) []string {
	out := make([]string, 0, len(found))
	seen := map[string]struct{}{}
	for _, f := range found {
		k := strings.ToLower(f)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, f)
	}
	return out
}
