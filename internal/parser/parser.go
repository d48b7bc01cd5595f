// Package parser flattens price documents into records.
package parser

import "github.com/sells-group/pricefeed/internal/model"

// Flattener turns one decoded document into flat records. Malformed input
// yields an empty slice, never an error.
type Flattener interface {
	Parse(text string) []model.Record
}
