package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prismdb/prism/pkg/metrics"
	"github.com/prismdb/prism/pkg/transport"
	"github.com/prismdb/prism/pkg/types"
)

// timeSeriesQueueCapacity bounds the in-band response queue of a
// time-series request
const timeSeriesQueueCapacity = 10

// SubmitAndGet dispatches a time-series query to its single addressed
// server and waits for the response. Failures of any kind are translated
// into an error-shaped result rather than returned as an error.
func (d *Dispatcher) SubmitAndGet(
	ctx context.Context,
	requestID int64,
	plan *types.TimeSeriesDispatchPlan,
	timeout time.Duration,
) *types.TimeSeriesResult {
	deadline := time.Now().Add(timeout)

	metadata := map[string]string{
		transport.MetadataKeyLanguage:         plan.Language,
		transport.MetadataKeyStartTimeSeconds: strconv.FormatInt(plan.StartSeconds, 10),
		transport.MetadataKeyWindowSeconds:    strconv.FormatInt(plan.WindowSeconds, 10),
		transport.MetadataKeyNumElements:      strconv.FormatInt(plan.NumElements, 10),
		transport.MetadataKeyRequestID:        strconv.FormatInt(requestID, 10),
	}
	for planID, segments := range plan.SegmentsByPlanID {
		metadata[types.EncodeSegmentListKey(planID)] = strings.Join(segments, ",")
	}
	req := &transport.TimeSeriesQueryRequest{
		DispatchPlan: []byte(plan.SerializedPlan),
		Metadata:     metadata,
	}

	client, err := d.timeSeriesClients.Get(plan.Server.Host, plan.Server.Port)
	if err != nil {
		metrics.TimeSeriesQueries.WithLabelValues("error").Inc()
		return types.NewTimeSeriesError(errorKind(err), err.Error())
	}

	sendCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	responses := make(chan asyncResponse[*transport.TimeSeriesResponse], timeSeriesQueueCapacity)
	client.Submit(sendCtx, req, func(resp *transport.TimeSeriesResponse, err error) {
		responses <- asyncResponse[*transport.TimeSeriesResponse]{server: plan.Server, response: resp, err: err}
	})

	wait := time.NewTimer(time.Until(deadline))
	defer wait.Stop()
	select {
	case r := <-responses:
		result := d.translateTimeSeriesResponse(r)
		if result.ErrorMessage != "" {
			metrics.TimeSeriesQueries.WithLabelValues("error").Inc()
		} else {
			metrics.TimeSeriesQueries.WithLabelValues("success").Inc()
		}
		return result
	case <-wait.C:
		metrics.TimeSeriesQueries.WithLabelValues("timeout").Inc()
		return types.NewTimeSeriesError("TimeoutException", "Timed out waiting for response")
	}
}

func (d *Dispatcher) translateTimeSeriesResponse(r asyncResponse[*transport.TimeSeriesResponse]) *types.TimeSeriesResult {
	if r.err != nil {
		return types.NewTimeSeriesError(errorKind(r.err), r.err.Error())
	}
	if msg, ok := r.response.Metadata[transport.MetadataKeyErrorMessage]; ok {
		errorType, ok := r.response.Metadata[transport.MetadataKeyErrorType]
		if !ok {
			errorType = "unknown error-type"
		}
		return types.NewTimeSeriesError(errorType, msg)
	}
	var result types.TimeSeriesResult
	if err := json.Unmarshal(r.response.Payload, &result); err != nil {
		return types.NewTimeSeriesError(errorKind(err), err.Error())
	}
	return &result
}

// errorKind names an error's concrete type for the structured error
// response
func errorKind(err error) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}
