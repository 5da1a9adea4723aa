package ledger

import "time"

// ProofRecord is the canonical on-ledger view of an issued certificate,
// returned by the contract's verify call.
type ProofRecord struct {
	ID              uint64    `json:"id"`
	Destination     string    `json:"destination"`
	StudentID       string    `json:"studentId"`
	CertificateType string    `json:"certificateType"`
	ContentID       string    `json:"contentId"`
	IssuedAt        time.Time `json:"issuedAt"`
	Issuer          string    `json:"issuer"`
	IsValid         bool      `json:"isValid"`
}

// Verification pairs the validity flag with the on-ledger record. An unknown
// proof yields Valid=false and a nil Record without error.
type Verification struct {
	Valid  bool
	Record *ProofRecord
}

// PendingTx is the handle returned by a successful submission. The caller
// owns waiting for inclusion; the submission itself is already permanent.
type PendingTx struct {
	TxID     string
	GasPrice string
}

// Receipt reports inclusion of a submitted call. ProofHash is populated from
// the contract's Issued event when the call was an issuance.
type Receipt struct {
	TxID        string `json:"txId"`
	BlockNumber uint64 `json:"blockNumber"`
	BlockHash   string `json:"blockHash"`
	Status      string `json:"status"`
	GasUsed     int64  `json:"gasUsed"`
	GasPrice    string `json:"gasPrice"`
	ProofHash   string `json:"proofHash,omitempty"`
}

// Receipt status values reported by the ledger node.
const (
	ReceiptStatusIncluded = "included"
	ReceiptStatusReverted = "reverted"
)

// EventKind distinguishes the two contract events.
type EventKind string

const (
	EventKindIssued  EventKind = "issued"
	EventKindRevoked EventKind = "revoked"
)

// Event is one contract-emitted fact, delivered in block order.
type Event struct {
	Kind            EventKind `json:"kind"`
	ProofHash       string    `json:"proofHash"`
	StudentID       string    `json:"studentId"`
	CertificateType string    `json:"certificateType,omitempty"`
	ContentID       string    `json:"contentId,omitempty"`
	TxID            string    `json:"txId"`
	BlockNumber     uint64    `json:"blockNumber"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// ContractInfo is the contract's self-reported metadata.
type ContractInfo struct {
	Owner       string `json:"owner"`
	TotalIssued uint64 `json:"totalIssued"`
}

// IssueParams carries the arguments of the contract's issue call.
type IssueParams struct {
	Destination     string `json:"destination"`
	StudentID       string `json:"studentId"`
	CertificateType string `json:"certificateType"`
	ContentID       string `json:"contentId"`
}

// CostEstimate is the node's prediction for a state-changing call.
type CostEstimate struct {
	GasUnits uint64 `json:"gasUnits"`
	GasPrice string `json:"gasPrice"`
}
