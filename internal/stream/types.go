package stream

// Event is one on-chain log entry as delivered by the upstream stream,
// immutable once received. Signature may carry a routing tag prefix
// separated by ":".
type Event struct {
	SubID            string         `json:"subId"`
	Signature        string         `json:"signature"`
	Address          string         `json:"address"`
	BlockNumber      string         `json:"blockNumber"`
	TransactionIndex string         `json:"transactionIndex"`
	TransactionHash  string         `json:"transactionHash"`
	LogIndex         string         `json:"logIndex"`
	Timestamp        string         `json:"timestamp"`
	Data             map[string]any `json:"data"`

	// Original invocation, when the connector could decode it.
	InputMethod string         `json:"inputMethod,omitempty"`
	InputArgs   map[string]any `json:"inputArgs,omitempty"`
}

// Batch is an ordered, non-empty sequence of events plus the batch number
// used for ack correlation. Batch numbers carry no ordering semantics beyond
// "fully acknowledge this batch before the next is requested".
type Batch struct {
	BatchNumber int64   `json:"batchNumber"`
	Events      []Event `json:"events"`
}

// ReceiptHeaders identify the request a receipt replies to.
type ReceiptHeaders struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
}

// Receipt is the asynchronous reply for a submitted transaction.
type Receipt struct {
	Headers         ReceiptHeaders `json:"headers"`
	TransactionHash string         `json:"transactionHash"`
	ErrorMessage    string         `json:"errorMessage,omitempty"`
}

// inboundFrame is the superset shape used to classify upstream frames.
type inboundFrame struct {
	BatchNumber *int64          `json:"batchNumber"`
	Events      []Event         `json:"events"`
	Headers     *ReceiptHeaders `json:"headers"`
}

type controlFrame struct {
	Type        string `json:"type"`
	Topic       string `json:"topic,omitempty"`
	BatchNumber *int64 `json:"batchNumber,omitempty"`
}
