// Package transformer renders batch events for sinks
package transformer

import (
	"encoding/json"

	"github.com/courier-cdc/courier/publisher"
)

func init() {
	publisher.RegisterTransformer("json", func() publisher.Transformer { return JSON{} })
}

// JSON renders a batch event as one JSON object
type JSON struct{}

// Transform implements publisher.Transformer
func (JSON) Transform(event publisher.BatchEvent) ([]byte, error) {
	return json.Marshal(event)
}
