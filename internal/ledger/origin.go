package ledger

import "fmt"

// Origin locates the ledger event that caused a mutation. Origins are totally
// ordered by (Block, LogIndex); a replica applies each origin at most once.
type Origin struct {
	Block    uint64 `json:"blockNumber"`
	LogIndex uint32 `json:"logIndex"`
}

// Before reports whether o strictly precedes other.
func (o Origin) Before(other Origin) bool {
	if o.Block != other.Block {
		return o.Block < other.Block
	}
	return o.LogIndex < other.LogIndex
}

func (o Origin) String() string {
	return fmt.Sprintf("%d:%d", o.Block, o.LogIndex)
}

// At is a shorthand for an origin pointer.
func At(block uint64, logIndex uint32) *Origin {
	return &Origin{Block: block, LogIndex: logIndex}
}
