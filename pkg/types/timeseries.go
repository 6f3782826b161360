package types

import "encoding/json"

// TimeSeriesDispatchPlan is the single-server dispatch unit of a time-series
// query: a serialized plan plus the evaluation window and the segments each
// plan fragment scans
type TimeSeriesDispatchPlan struct {
	Language       string
	SerializedPlan string
	StartSeconds   int64
	WindowSeconds  int64
	NumElements    int64
	Server         ServerInstance

	// SegmentsByPlanID lists the segments assigned to each plan fragment
	SegmentsByPlanID map[string][]string
}

// EncodeSegmentListKey produces the request-metadata key naming one plan
// fragment's segment list
func EncodeSegmentListKey(planID string) string {
	return "segmentList:" + planID
}

// TimeSeriesResult is the broker-side response shape of a time-series query.
// Exactly one of Series or the error pair is populated.
type TimeSeriesResult struct {
	Status       string          `json:"status,omitempty"`
	ErrorType    string          `json:"errorType,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Series       json.RawMessage `json:"series,omitempty"`
}

// NewTimeSeriesError builds an error-shaped time-series result
func NewTimeSeriesError(errorType, message string) *TimeSeriesResult {
	return &TimeSeriesResult{
		Status:       "error",
		ErrorType:    errorType,
		ErrorMessage: message,
	}
}
