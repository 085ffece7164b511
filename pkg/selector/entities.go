package selector

import (
	"regexp"
	"sort"
	"strings"
)

// Entity extraction bounds.
const (
	minTokenLen      = 3
	maxTokenLen      = 20
	titleTopN        = 5
	transcriptTopN   = 20
	maxEntities      = 10
	githubContextTag = "github-context"
)

var tokenSplit = regexp.MustCompile(`[^a-z0-9_]+`)

// stoplist drops common English plus streaming/technical filler that
// carries no topical signal.
var stoplist = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "had": {}, "her": {}, "was": {},
	"one": {}, "our": {}, "out": {}, "day": {}, "get": {}, "has": {},
	"him": {}, "his": {}, "how": {}, "man": {}, "new": {}, "now": {},
	"old": {}, "see": {}, "two": {}, "way": {}, "who": {}, "did": {},
	"its": {}, "let": {}, "she": {}, "too": {}, "use": {}, "that": {},
	"with": {}, "have": {}, "this": {}, "will": {}, "your": {}, "from": {},
	"they": {}, "know": {}, "want": {}, "been": {}, "good": {}, "much": {},
	"some": {}, "time": {}, "very": {}, "when": {}, "just": {}, "into": {},
	"than": {}, "them": {}, "then": {}, "were": {}, "what": {}, "about": {},
	"going": {}, "gonna": {}, "okay": {}, "yeah": {}, "like": {}, "really": {},
	"stream": {}, "streaming": {}, "chat": {}, "clip": {}, "video": {},
	"today": {}, "here": {}, "there": {}, "thing": {}, "things": {},
	"stuff": {}, "actually": {}, "basically": {}, "little": {}, "right": {},
}

// ExtractEntities derives up to maxEntities topical tokens for a
// candidate: frequency-ranked tokens from the title and transcript
// summary, preceded by fixed context tags. Order is deterministic.
func ExtractEntities(title, transcriptSummary string, hasGitHubContext bool) []string {
	var ordered []string
	if hasGitHubContext {
		ordered = append(ordered, githubContextTag)
	}
	ordered = append(ordered, topTokens(title, titleTopN)...)
	ordered = append(ordered, topTokens(transcriptSummary, transcriptTopN)...)

	seen := make(map[string]struct{}, len(ordered))
	entities := make([]string, 0, maxEntities)
	for _, tok := range ordered {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		entities = append(entities, tok)
		if len(entities) == maxEntities {
			break
		}
	}
	return entities
}

// topTokens tokenizes text and returns the n most frequent surviving
// tokens, most frequent first, ties broken by first appearance.
func topTokens(text string, n int) []string {
	counts := make(map[string]int)
	firstSeen := make(map[string]int)

	for i, tok := range tokenSplit.Split(strings.ToLower(text), -1) {
		if !keepToken(tok) {
			continue
		}
		if _, ok := counts[tok]; !ok {
			firstSeen[tok] = i
		}
		counts[tok]++
	}

	tokens := make([]string, 0, len(counts))
	for tok := range counts {
		tokens = append(tokens, tok)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if counts[tokens[i]] != counts[tokens[j]] {
			return counts[tokens[i]] > counts[tokens[j]]
		}
		return firstSeen[tokens[i]] < firstSeen[tokens[j]]
	})

	if len(tokens) > n {
		tokens = tokens[:n]
	}
	return tokens
}

func keepToken(tok string) bool {
	if len(tok) < minTokenLen || len(tok) > maxTokenLen {
		return false
	}
	if _, stopped := stoplist[tok]; stopped {
		return false
	}

	numeric := true
	repeated := true
	for i := 0; i < len(tok); i++ {
		if tok[i] < '0' || tok[i] > '9' {
			numeric = false
		}
		if tok[i] != tok[0] {
			repeated = false
		}
	}
	return !numeric && !repeated
}
