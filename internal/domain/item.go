package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Trait is one attribute of a token, e.g. {Type: "Hat", Value: "Red"}.
type Trait struct {
	Type  string
	Value string
}

// Item is the per-token metadata cache entry. It is owned by the collection
// sync service and read-only to the engine.
type Item struct {
	Contract common.Address
	TokenID  string
	Traits   []Trait
	Rank     int64
}

// TraitsByType groups the item's traits by trait type. An item may carry
// several values for one type.
func (it Item) TraitsByType() map[string][]string {
	if len(it.Traits) == 0 {
		return nil
	}
	out := make(map[string][]string, len(it.Traits))
	for _, t := range it.Traits {
		out[t.Type] = append(out[t.Type], t.Value)
	}
	return out
}

// CollectionStatus gates whether a contract participates in matching.
type CollectionStatus string

const (
	CollectionStatusReady    CollectionStatus = "ready"
	CollectionStatusSyncing  CollectionStatus = "syncing"
	CollectionStatusDisabled CollectionStatus = "disabled"
)

// Collection carries per-contract operational state. A collection whose
// status is not ready is unconditionally excluded from matching, which is the
// operational escape hatch for pausing a contract.
type Collection struct {
	Contract    common.Address
	Slug        string
	Status      CollectionStatus
	TotalSupply int64
	// RankedCount is how many items of the collection have a populated rank.
	// Rank filters only apply when RankedCount covers TotalSupply.
	RankedCount int64
	UpdatedAt   time.Time
}

// RankIndexComplete reports whether the precomputed rank index covers the
// whole collection. Incomplete coverage disables rank-filtered matching for
// the collection rather than risking a wrong match.
func (c Collection) RankIndexComplete() bool {
	return c.TotalSupply > 0 && c.RankedCount >= c.TotalSupply
}

// Matchable reports whether listings for this collection may be matched.
func (c Collection) Matchable() bool {
	return c.Status == CollectionStatusReady
}
