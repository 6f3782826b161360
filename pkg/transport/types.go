package transport

// ProtocolVersion is attached to every query request
const ProtocolVersion = 1

// Request metadata keys
const (
	MetadataKeyRequestID = "requestId"
	MetadataKeyTimeoutMs = "timeoutMs"

	// Time-series request keys
	MetadataKeyLanguage         = "language"
	MetadataKeyStartTimeSeconds = "startTimeSeconds"
	MetadataKeyWindowSeconds    = "windowSeconds"
	MetadataKeyNumElements      = "numElements"
)

// Response metadata keys
const (
	MetadataKeyStatusError  = "STATUS_ERROR"
	MetadataKeyErrorType    = "ERROR_TYPE"
	MetadataKeyErrorMessage = "ERROR_MESSAGE"
)

// WorkerMetadata is the wire form of one logical worker
type WorkerMetadata struct {
	WorkerID    int               `json:"workerId"`
	Host        string            `json:"host"`
	Port        int               `json:"port"`
	MailboxPort int               `json:"mailboxPort"`
	MailboxInfo map[string]string `json:"mailboxInfo,omitempty"`
}

// StageMetadata carries the per-stage routing info of a shipped fragment.
// StageID is 1-based: stage 0 is the local reducer and never sent.
type StageMetadata struct {
	StageID        int              `json:"stageId"`
	WorkerMetadata []WorkerMetadata `json:"workerMetadata"`
	CustomProperty []byte           `json:"customProperty,omitempty"`
}

// StagePlan pairs a serialized fragment root with its stage metadata
type StagePlan struct {
	RootNode      []byte        `json:"rootNode"`
	StageMetadata StageMetadata `json:"stageMetadata"`
}

// QueryRequest is the per-server stage-plan bundle of one submission
type QueryRequest struct {
	Version    int               `json:"version"`
	StagePlans []StagePlan       `json:"stagePlans"`
	Metadata   map[string]string `json:"metadata"`
}

// QueryResponse acknowledges a submit. A MetadataKeyStatusError entry marks
// failure with its value as the message.
type QueryResponse struct {
	Metadata map[string]string `json:"metadata"`
}

// ExplainResponse returns a server's serialized plan trees
type ExplainResponse struct {
	StagePlans []StagePlan       `json:"stagePlans"`
	Metadata   map[string]string `json:"metadata"`
}

// ExplainReply wraps the per-server explain response list
type ExplainReply struct {
	Responses []*ExplainResponse `json:"responses"`
}

// CancelRequest asks a server to abort all work for a request
type CancelRequest struct {
	RequestID int64 `json:"requestId"`
}

// CancelResponse acknowledges a cancel
type CancelResponse struct{}

// TimeSeriesQueryRequest is the single-server time-series dispatch unit;
// DispatchPlan is the UTF-8 encoded serialized plan
type TimeSeriesQueryRequest struct {
	DispatchPlan []byte            `json:"dispatchPlan"`
	Metadata     map[string]string `json:"metadata"`
}

// TimeSeriesResponse carries the JSON result payload of a time-series query
type TimeSeriesResponse struct {
	Payload  []byte            `json:"payload"`
	Metadata map[string]string `json:"metadata"`
}
