package model

import "fmt"

// Field names emitted by the price XML flattener.
const (
	FieldChainID    = "ChainId"
	FieldSubChainID = "SubChainId"
	FieldStoreID    = "StoreId"
	FieldBikoretNo  = "BikoretNo"
	FieldDllVerNo   = "DllVerNo"
	FieldItemsCount = "ItemsCount"
)

// GroupKeyFields lists the record fields that form a GroupKey, in key order.
var GroupKeyFields = []string{FieldSubChainID, FieldStoreID, FieldBikoretNo}

// Link is a discovered reference to a remote price file plus its publish date.
// Date is kept in the retailer's native format until a consumer parses it.
type Link struct {
	URL  string `json:"url"`
	Date string `json:"date"`
}

// Record is one flat item record: header fields merged with item fields.
type Record map[string]string

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// GroupKey identifies the partition a record belongs to.
type GroupKey struct {
	SubChainID string `json:"sub_chain_id"`
	StoreID    string `json:"store_id"`
	BikoretNo  string `json:"bikoret_no"`
}

// Less orders keys lexicographically on (SubChainID, StoreID, BikoretNo).
func (k GroupKey) Less(o GroupKey) bool {
	if k.SubChainID != o.SubChainID {
		return k.SubChainID < o.SubChainID
	}
	if k.StoreID != o.StoreID {
		return k.StoreID < o.StoreID
	}
	return k.BikoretNo < o.BikoretNo
}

func (k GroupKey) String() string {
	return fmt.Sprintf("(%s,%s,%s)", k.SubChainID, k.StoreID, k.BikoretNo)
}

// RecordGroup is a partition of records sharing one GroupKey. It is the unit of upload.
type RecordGroup struct {
	Key        GroupKey `json:"key"`
	StorageKey string   `json:"storage_key"`
	Records    []Record `json:"records"`
}

// Product is the relational projection of an item record.
type Product struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}
