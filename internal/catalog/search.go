package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// DetailLevel controls how much of each spec a search returns.
type DetailLevel string

const (
	DetailName    DetailLevel = "name"
	DetailSummary DetailLevel = "summary"
	DetailFull    DetailLevel = "full"
)

// ParseDetailLevel parses a detail level; empty means summary.
func ParseDetailLevel(s string) (DetailLevel, error) {
	switch DetailLevel(strings.ToLower(strings.TrimSpace(s))) {
	case "", DetailSummary:
		return DetailSummary, nil
	case DetailName:
		return DetailName, nil
	case DetailFull:
		return DetailFull, nil
	}
	return "", fmt.Errorf("invalid detail level %q (want name, summary or full)", s)
}

// SearchResult is one ranked match. Fields beyond Name are populated
// according to the requested detail level.
type SearchResult struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Model       string      `json:"model,omitempty"`
	Score       int         `json:"score,omitempty"`
	Spec        *WorkerSpec `json:"spec,omitempty"`
}

// Search ranks specs by keyword hits across name, description and use
// cases. An empty query returns every spec; no hits returns an empty slice.
// Ties keep declaration order.
func (c *Catalog) Search(query string, level DetailLevel) []SearchResult {
	keywords := strings.Fields(strings.ToLower(query))
	type scored struct {
		spec  WorkerSpec
		score int
	}
	var hits []scored
	for _, s := range c.specs {
		n := score(s, keywords)
		if n == 0 && len(keywords) > 0 {
			continue
		}
		hits = append(hits, scored{s, n})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, project(h.spec, h.score, level))
	}
	return out
}

func score(s WorkerSpec, keywords []string) int {
	if len(keywords) == 0 {
		return 0
	}
	fields := make([]string, 0, 2+len(s.UseCases))
	fields = append(fields, strings.ToLower(s.Name), strings.ToLower(s.Description))
	for _, u := range s.UseCases {
		fields = append(fields, strings.ToLower(u))
	}
	n := 0
	for _, kw := range keywords {
		for _, f := range fields {
			if strings.Contains(f, kw) {
				n++
			}
		}
	}
	return n
}

func project(s WorkerSpec, score int, level DetailLevel) SearchResult {
	switch level {
	case DetailName:
		return SearchResult{Name: s.Name}
	case DetailFull:
		spec := s
		return SearchResult{Name: s.Name, Description: s.Description, Model: s.Model, Score: score, Spec: &spec}
	default:
		return SearchResult{Name: s.Name, Description: s.Description, Model: s.Model, Score: score}
	}
}

// Recommendation is the best-matching worker type for a task.
type Recommendation struct {
	Name        string  `json:"agent"`
	Reason      string  `json:"reason"`
	Model       string  `json:"model"`
	CostPerTask float64 `json:"cost"`
	ReadOnly    bool    `json:"read_only"`
	Score       int     `json:"score"`
}

// Discovery answers catalog queries against the registry's current snapshot.
type Discovery struct {
	Registry *Registry
}

// Search runs Catalog.Search on the current snapshot.
func (d Discovery) Search(query string, level DetailLevel) []SearchResult {
	return d.Registry.Current().Search(query, level)
}

// Recommend returns the top search hit for a task description, or false
// when nothing in the catalog matches.
func (d Discovery) Recommend(task string) (Recommendation, bool) {
	c := d.Registry.Current()
	hits := c.Search(task, DetailSummary)
	if len(hits) == 0 || strings.TrimSpace(task) == "" {
		return Recommendation{}, false
	}
	top := hits[0]
	s, err := c.Lookup(top.Name)
	if err != nil {
		return Recommendation{}, false
	}
	return Recommendation{
		Name:        s.Name,
		Reason:      s.Description,
		Model:       s.Model,
		CostPerTask: s.Cost.PerTask,
		ReadOnly:    s.ReadOnly,
		Score:       top.Score,
	}, true
}

// TypeSummary is the listing row for one worker type.
type TypeSummary struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Model       string  `json:"model"`
	CostPerTask float64 `json:"cost_per_task"`
	ReadOnly    bool    `json:"read_only"`
	Timeout     int     `json:"recommended_timeout_seconds"`
}

// Types lists every worker type in declaration order.
func (d Discovery) Types() []TypeSummary {
	specs := d.Registry.Current().Specs()
	out := make([]TypeSummary, len(specs))
	for i, s := range specs {
		out[i] = TypeSummary{
			Name:        s.Name,
			Description: s.Description,
			Model:       s.Model,
			CostPerTask: s.Cost.PerTask,
			ReadOnly:    s.ReadOnly,
			Timeout:     s.TimeoutSeconds,
		}
	}
	return out
}
