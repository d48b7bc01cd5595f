// Package partition groups flat records by their store identity and assigns
// each group an object storage key.
package partition

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricefeed/internal/model"
)

// KeyTimeLayout formats the generation timestamp in storage keys.
const KeyTimeLayout = "2006-01-02_15-04-05"

// GroupingKeyError reports a record that lacks a group key field, or whose
// key field value cannot be used as an object path segment. Value is set only
// in the second case.
type GroupingKeyError struct {
	Index int
	Field string
	Value string
}

func (e *GroupingKeyError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("partition: record %d group key field %q has invalid value %q", e.Index, e.Field, e.Value)
	}
	return fmt.Sprintf("partition: record %d missing group key field %q", e.Index, e.Field)
}

// Grouper partitions records for one pipeline.
type Grouper struct {
	Pipeline string
	Now      func() time.Time
}

// NewGrouper creates a Grouper using the wall clock.
func NewGrouper(pipeline string) *Grouper {
	return &Grouper{Pipeline: pipeline, Now: time.Now}
}

// Partition groups records by GroupKey. Groups are sorted by key; records keep
// their input order inside a group. Every group shares one generation
// timestamp. A record missing any key field fails the whole call.
func (g *Grouper) Partition(records []model.Record) ([]model.RecordGroup, error) {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	ts := now()

	index := make(map[model.GroupKey]int)
	var groups []model.RecordGroup
	for i, rec := range records {
		key, keyErr := keyOf(rec)
		if keyErr != nil {
			keyErr.Index = i
			return nil, keyErr
		}
		pos, ok := index[key]
		if !ok {
			pos = len(groups)
			index[key] = pos
			groups = append(groups, model.RecordGroup{
				Key:        key,
				StorageKey: StorageKey(g.Pipeline, key, ts),
			})
		}
		groups[pos].Records = append(groups[pos].Records, rec)
	}

	slices.SortFunc(groups, func(a, b model.RecordGroup) int {
		switch {
		case a.Key.Less(b.Key):
			return -1
		case b.Key.Less(a.Key):
			return 1
		default:
			return 0
		}
	})
	return groups, nil
}

// keyOf extracts a record's GroupKey. A missing or blank field, or one that
// would add path segments to the storage key, yields an error with Index unset.
func keyOf(rec model.Record) (model.GroupKey, *GroupingKeyError) {
	vals := make([]string, len(model.GroupKeyFields))
	for i, f := range model.GroupKeyFields {
		v := rec[f]
		if strings.TrimSpace(v) == "" {
			return model.GroupKey{}, &GroupingKeyError{Field: f}
		}
		if strings.ContainsAny(v, `/\`) || v == "." || v == ".." {
			return model.GroupKey{}, &GroupingKeyError{Field: f, Value: v}
		}
		vals[i] = v
	}
	return model.GroupKey{SubChainID: vals[0], StoreID: vals[1], BikoretNo: vals[2]}, nil
}

// KeyPrefix is the storage key directory for a group:
// bronze/<pipeline>/sub_chain_id=<v>/store_id=<v>/bikoret_no=<v>/
func KeyPrefix(pipeline string, key model.GroupKey) string {
	return fmt.Sprintf("bronze/%s/sub_chain_id=%s/store_id=%s/bikoret_no=%s/",
		pipeline, key.SubChainID, key.StoreID, key.BikoretNo)
}

// StorageKey builds the object key for a group. The timestamp is rendered in UTC.
func StorageKey(pipeline string, key model.GroupKey, ts time.Time) string {
	return KeyPrefix(pipeline, key) + ts.UTC().Format(KeyTimeLayout) + "_parsed_records.txt"
}

// CheckKey reports whether a caller-supplied storage key names a single object
// directly under the group's KeyPrefix.
func CheckKey(storageKey, pipeline string, key model.GroupKey) error {
	prefix := KeyPrefix(pipeline, key)
	name, ok := strings.CutPrefix(storageKey, prefix)
	if !ok {
		return eris.Errorf("partition: key %q is not under %s", storageKey, prefix)
	}
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return eris.Errorf("partition: key %q has an invalid object name", storageKey)
	}
	return nil
}

// Validate checks that records form exactly one upload group: non-empty,
// every record keyed, and all keys equal.
func Validate(records []model.Record) (model.GroupKey, error) {
	if len(records) == 0 {
		return model.GroupKey{}, eris.New("partition: no records to validate")
	}
	var first model.GroupKey
	for i, rec := range records {
		key, keyErr := keyOf(rec)
		if keyErr != nil {
			keyErr.Index = i
			return model.GroupKey{}, keyErr
		}
		if i == 0 {
			first = key
			continue
		}
		if key != first {
			return model.GroupKey{}, eris.Errorf("partition: record %d has key %s, expected %s", i, key, first)
		}
	}
	return first, nil
}
