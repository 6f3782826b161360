package dispatcher

import (
	"strconv"
	"time"

	"github.com/prismdb/prism/pkg/transport"
	"github.com/prismdb/prism/pkg/types"
)

// buildRequestMetadata produces the common metadata map attached to every
// per-server request of one submission. User-supplied query options are
// copied verbatim but can never shadow the reserved keys.
func buildRequestMetadata(requestID int64, deadline time.Time, queryOptions map[string]string) map[string]string {
	metadata := make(map[string]string, len(queryOptions)+2)
	for k, v := range queryOptions {
		metadata[k] = v
	}
	remaining := time.Until(deadline).Milliseconds()
	if remaining < 0 {
		remaining = 0
	}
	metadata[transport.MetadataKeyRequestID] = strconv.FormatInt(requestID, 10)
	metadata[transport.MetadataKeyTimeoutMs] = strconv.FormatInt(remaining, 10)
	return metadata
}

// assembleRequest projects the stage list onto one destination server:
// stages the server does not participate in are skipped, and each included
// stage carries only the worker metadata of the workers assigned to this
// server, order preserved. Wire stage ids are the 1-based position in the
// remote stage list; stage 0 is the local reducer and never shipped.
func assembleRequest(
	server types.ServerInstance,
	stages []*types.StagePlan,
	serialized []serializedStageInfo,
	metadata map[string]string,
) (*transport.QueryRequest, error) {
	var plans []transport.StagePlan
	for i, stage := range stages {
		workerIDs, ok := stage.Workers[server]
		if !ok {
			continue
		}
		projected := make([]transport.WorkerMetadata, 0, len(workerIDs))
		for _, id := range workerIDs {
			if id < 0 || id >= len(stage.WorkerMetadata) {
				return nil, invariantf("stage %d assigns worker id %d outside its worker list (len %d)",
					i+1, id, len(stage.WorkerMetadata))
			}
			wm := stage.WorkerMetadata[id]
			projected = append(projected, transport.WorkerMetadata{
				WorkerID:    wm.WorkerID,
				Host:        wm.Server.Host,
				Port:        wm.Server.Port,
				MailboxPort: wm.Server.MailboxPort,
				MailboxInfo: wm.MailboxInfo,
			})
		}
		plans = append(plans, transport.StagePlan{
			RootNode: serialized[i].Root,
			StageMetadata: transport.StageMetadata{
				// The id may differ from the caller's numbering in
				// explain, which passes a single pre-selected stage
				StageID:        i + 1,
				WorkerMetadata: projected,
				CustomProperty: serialized[i].Properties,
			},
		})
	}
	return &transport.QueryRequest{
		Version:    transport.ProtocolVersion,
		StagePlans: plans,
		Metadata:   metadata,
	}, nil
}
