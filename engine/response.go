package engine

import (
	"errors"
	"net/http"

	"github.com/patrikhermansson/cbir/core"
)

// Response is the wire shape of a query answer. Exactly one of Comparisons
// and Time is set on success.
type Response struct {
	Status      int      `json:"status"`
	Results     []Match  `json:"results"`
	Method      string   `json:"method,omitempty"`
	Cluster     string   `json:"cluster_method,omitempty"`
	Precision   float64  `json:"precision"`
	Recall      float64  `json:"recall"`
	Comparisons *int     `json:"comparisons,omitempty"`
	Time        *float64 `json:"time,omitempty"` // seconds
	RequestID   string   `json:"request_id,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// NewResponse converts a query result, exposing the cost selected by mode.
func NewResponse(res *QueryResult, mode CostMode) Response {
	r := Response{
		Status:    http.StatusOK,
		Results:   res.Matches,
		Method:    res.Method.String(),
		Precision: res.Metrics.Precision,
		Recall:    res.Metrics.Recall,
		RequestID: res.RequestID,
	}
	if r.Results == nil {
		r.Results = []Match{}
	}
	if res.ClusterMethod != nil {
		r.Cluster = res.ClusterMethod.String()
	}
	if mode == CostTime {
		seconds := res.Elapsed.Seconds()
		r.Time = &seconds
	} else {
		comparisons := res.Comparisons
		r.Comparisons = &comparisons
	}
	return r
}

// ErrorResponse converts a failed query.
func ErrorResponse(err error) Response {
	return Response{Status: StatusCode(err), Results: []Match{}, Error: err.Error()}
}

// StatusCode maps the error taxonomy to an HTTP-style status code.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrEmbedding):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrDimensionMismatch),
		errors.Is(err, core.ErrDegenerateVector),
		errors.Is(err, core.ErrUnsupportedMetric),
		errors.Is(err, core.ErrUnknownMethod):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
