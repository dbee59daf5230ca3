package cluster

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/patrikhermansson/cbir/core"
)

// document is the on-disk layout of an assignment.
type document struct {
	Method   string              `json:"method,omitempty"`
	Metric   string              `json:"metric,omitempty"`
	Clusters map[string][]string `json:"clusters"`
}

// WriteJSON writes the assignment as {"clusters": {"0": [ids...], ...}}.
func (a *Assignment) WriteJSON(w io.Writer) error {
	doc := document{
		Method:   a.method.String(),
		Metric:   a.metric.String(),
		Clusters: make(map[string][]string, len(a.members)),
	}
	for c := range a.members {
		doc.Clusters[strconv.Itoa(c)] = a.Members(c)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(doc)
}

// ReadJSON loads an assignment written by WriteJSON, or by any tool using the
// same layout, and binds it to the corpus. Every corpus record must appear in
// exactly one cluster. method and metric apply when the document names none;
// a document naming a different one is rejected.
func ReadJSON(r io.Reader, c core.Corpus, method Method, metric core.Metric) (*Assignment, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode clusters: %v", core.ErrCorpus, err)
	}
	if doc.Metric != "" {
		m, err := core.ParseMetric(doc.Metric)
		if err != nil {
			return nil, err
		}
		if m != metric {
			return nil, fmt.Errorf("%w: clusters were built with %s, not %s", core.ErrCorpus, m, metric)
		}
	}
	if doc.Method != "" && doc.Method != method.String() {
		return nil, fmt.Errorf("%w: clusters were built with %s, not %s", core.ErrCorpus, doc.Method, method)
	}
	points, err := core.PreparePoints(c, metric)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(points))
	for i, p := range points {
		index[p.ID] = i
	}
	raw := make([]int, len(points))
	for i := range raw {
		raw[i] = -1
	}
	for key, ids := range doc.Clusters {
		label, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("%w: cluster key %q is not a number", core.ErrCorpus, key)
		}
		for _, id := range ids {
			i, ok := index[id]
			if !ok {
				return nil, fmt.Errorf("%w: cluster %d lists unknown record %q", core.ErrCorpus, label, id)
			}
			if raw[i] >= 0 {
				return nil, fmt.Errorf("%w: record %q appears in more than one cluster", core.ErrCorpus, id)
			}
			raw[i] = label
		}
	}
	for i, l := range raw {
		if l < 0 {
			return nil, fmt.Errorf("%w: record %q has no cluster", core.ErrCorpus, points[i].ID)
		}
	}
	return newAssignment(method, metric, points, raw), nil
}
