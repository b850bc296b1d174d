// Package policy implements the selection policy engine. It turns scraped
// candidate lists into a single index via the reasoning service, with a
// deterministic first-result fallback whenever the service misbehaves: a
// wrong-but-plausible grocery item beats an aborted order.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/atakdnz/fridge-order-agent/internal/catalog"
	"github.com/atakdnz/fridge-order-agent/internal/llm"
	"github.com/atakdnz/fridge-order-agent/internal/logging"
)

var (
	firstInt  = regexp.MustCompile(`\d+`)
	digit1to5 = regexp.MustCompile(`[1-5]`)
)

// Suggestion is one reorder proposal produced by history analysis.
type Suggestion struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason,omitempty"`
}

// Analysis is the outcome of a history review: the filtered suggestions plus
// the raw reasoning trace for display.
type Analysis struct {
	Suggestions []Suggestion `json:"suggestions"`
	Reasoning   string       `json:"reasoning,omitempty"`
}

// Engine selects candidates and analyzes consumption history. All public
// methods degrade instead of failing: Choose falls back to index 0 and
// AnalyzeHistory to an empty list.
type Engine struct {
	client llm.Client

	mu           sync.RWMutex
	instructions string
}

// New creates an engine backed by client.
func New(client llm.Client) *Engine {
	return &Engine{client: client}
}

// SetInstructions installs operator preferences appended to every selection
// prompt ("prefer organic", "cheapest brand", ...). Safe to call while a
// background run is choosing.
func (e *Engine) SetInstructions(s string) {
	e.mu.Lock()
	e.instructions = strings.TrimSpace(s)
	e.mu.Unlock()
}

func (e *Engine) currentInstructions() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.instructions
}

// Choose implements catalog.Chooser. It returns the zero-based index of the
// best candidate for searchTerm. A single candidate is chosen without a
// service call; every failure mode returns 0.
func (e *Engine) Choose(ctx context.Context, candidates []catalog.Candidate, searchTerm, preference, historyContext string) int {
	if len(candidates) == 0 {
		return 0
	}
	if len(candidates) == 1 {
		return 0
	}
	if e.client == nil {
		return 0
	}

	prompt := e.buildSelectionPrompt(candidates, searchTerm, preference, historyContext)

	reply, err := e.client.Complete(ctx, prompt)
	if err != nil {
		logging.Policy("Choose %q: completion failed, using first result: %v", searchTerm, err)
		return 0
	}

	n, ok := parseSelection(reply, len(candidates))
	if !ok {
		logging.Policy("Choose %q: unparseable reply (content=%q), using first result", searchTerm, snippet(reply.Content, 80))
		return 0
	}
	return n - 1
}

func (e *Engine) buildSelectionPrompt(candidates []catalog.Candidate, searchTerm, preference, historyContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a grocery shopping assistant. The user searched for %q and got these products:\n\n", searchTerm)
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, c.DisplayName, c.PriceText)
	}
	if historyContext != "" {
		b.WriteString("\nRecent purchase history:\n")
		b.WriteString(historyContext)
		b.WriteString("\n")
	}
	if preference != "" {
		fmt.Fprintf(&b, "\nUser preference: %s\n", preference)
	}
	if instr := e.currentInstructions(); instr != "" {
		fmt.Fprintf(&b, "\nStanding instructions: %s\n", instr)
	}
	fmt.Fprintf(&b, "\nWhich product best matches what the user wants? Answer with ONLY the product number (1-%d), nothing else.", len(candidates))
	return b.String()
}

// parseSelection extracts a 1-based selection from the reply. The content
// channel wins when it contains a digit; reasoning-only models get the trace
// rescue: the last 1-5 digit near the end of the trace is where such models
// state their conclusion.
func parseSelection(reply llm.Reply, max int) (int, bool) {
	if m := firstInt.FindString(reply.Content); m != "" {
		if n, err := strconv.Atoi(m); err == nil && n >= 1 && n <= max {
			return n, true
		}
		return 0, false
	}

	if reply.Reasoning != "" {
		tail := reply.Reasoning
		if len(tail) > 100 {
			tail = tail[len(tail)-100:]
		}
		matches := digit1to5.FindAllString(tail, -1)
		if len(matches) > 0 {
			n, _ := strconv.Atoi(matches[len(matches)-1])
			if n >= 1 && n <= max {
				logging.Policy("parseSelection: rescued %d from reasoning trace", n)
				return n, true
			}
		}
	}
	return 0, false
}

// AnalyzeHistory asks the service which items look due for reorder. The
// first line of the history block is the current fridge state; older lines
// are consumption evidence. displayNames maps item classes to display names
// and doubles as the allowed vocabulary: suggestions outside it, or naming
// something already on the current-state line, are dropped. Transport and
// parse failures degrade to an empty suggestion list.
func (e *Engine) AnalyzeHistory(ctx context.Context, historyContext string, displayNames map[string]string) Analysis {
	if e.client == nil || strings.TrimSpace(historyContext) == "" {
		return Analysis{}
	}

	var b strings.Builder
	b.WriteString("You are a grocery restocking assistant. Below is a fridge inventory history, newest first. The FIRST line is the current state; the rest show what was stocked before.\n\n")
	b.WriteString(historyContext)
	b.WriteString("\n\nPropose exactly the items that appear in older entries but are missing from the FIRST line. Use quantity 1 for packaged staples, at most a few units for anything else.")
	if len(displayNames) > 0 {
		b.WriteString(" Only these items are allowed: ")
		b.WriteString(strings.Join(sortedValues(displayNames), ", "))
		b.WriteString(".")
	}
	b.WriteString("\n")
	b.WriteString(`Respond with ONLY a JSON array, for example: [{"name": "Süt", "quantity": 1}]. Use an empty array [] if nothing is needed.`)

	reply, err := e.client.Complete(ctx, b.String())
	if err != nil {
		logging.Policy("AnalyzeHistory: completion failed: %v", err)
		return Analysis{}
	}

	raw, ok := ExtractJSONArray(reply.Content)
	if !ok {
		raw, ok = ExtractJSONArray(reply.Reasoning)
	}
	if !ok {
		logging.Policy("AnalyzeHistory: no JSON array in reply (content=%q)", snippet(reply.Content, 80))
		return Analysis{Reasoning: reply.Reasoning}
	}

	var suggestions []Suggestion
	if err := json.Unmarshal([]byte(raw), &suggestions); err != nil {
		logging.Policy("AnalyzeHistory: bad suggestion array: %v", err)
		return Analysis{Reasoning: reply.Reasoning}
	}

	classOf := vocabularyIndex(displayNames)
	current := currentItems(historyContext)

	out := suggestions[:0]
	for _, s := range suggestions {
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			continue
		}
		if len(displayNames) > 0 {
			class, known := classOf[strings.ToLower(s.Name)]
			if !known {
				logging.Policy("AnalyzeHistory: dropping unknown item %q", s.Name)
				continue
			}
			if current[class] {
				logging.Policy("AnalyzeHistory: dropping %q, already in current state", s.Name)
				continue
			}
			s.Name = displayNames[class]
		}
		if s.Quantity < 1 {
			s.Quantity = 1
		}
		if s.Quantity > 5 {
			s.Quantity = 5
		}
		out = append(out, s)
	}
	logging.Policy("AnalyzeHistory: %d suggestions", len(out))
	return Analysis{Suggestions: out, Reasoning: reply.Reasoning}
}

// vocabularyIndex maps lowercased class keys and display names back to the
// class, so suggestions phrased either way resolve.
func vocabularyIndex(displayNames map[string]string) map[string]string {
	idx := make(map[string]string, len(displayNames)*2)
	for class, display := range displayNames {
		idx[strings.ToLower(class)] = class
		idx[strings.ToLower(display)] = class
	}
	return idx
}

// currentItems parses the first line of the rendered history block
// ("- Dec 18: milk x2, eggs x6") into its item classes.
func currentItems(historyContext string) map[string]bool {
	first, _, _ := strings.Cut(historyContext, "\n")
	_, rest, ok := strings.Cut(first, ": ")
	if !ok {
		return nil
	}
	items := make(map[string]bool)
	for _, part := range strings.Split(rest, ", ") {
		name := part
		if i := strings.LastIndex(part, " x"); i > 0 {
			name = part[:i]
		}
		items[strings.ToLower(strings.TrimSpace(name))] = true
	}
	return items
}

func sortedValues(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
