// Package bus binds the scan scheduler and history harvester to the
// data exchange, and the facade to an AMQP RPC surface, per SPEC_FULL
// §6. The data exchange uses github.com/rabbitmq/amqp091-go (the
// maintained successor client, pulled in transitively by the teacher's
// go.mod); the RPC surface uses github.com/streadway/amqp (the
// teacher's direct dependency) — both members of the teacher's AMQP
// stack get a concrete home rather than picking one and dropping the
// other.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher is the narrow interface the scan scheduler and history
// harvester depend on to deliver a sampled/batched payload to the data
// exchange. Headers carry routing metadata for the headers-matched
// exchange (job_id, data_category, connection, batch_num); the body is
// either canonical JSON (scan publishes) or a §4.4 compressed frame
// blob (historical publishes).
type Publisher interface {
	Publish(ctx context.Context, headers map[string]any, contentType string, body []byte) error
}

// ScanPayload is the canonical JSON body of a periodic scan publish.
type ScanPayload struct {
	SampleID uint64         `json:"sample_id"`
	Data     map[string]any `json:"data"`
}

// MarshalCanonical serializes v with sorted map keys and stringified
// non-JSON-serializable values (e.g. time.Time, which json already
// renders as RFC3339 — any other exotic driver-returned scalar is
// stringified via fmt.Sprint before marshaling), matching the
// "serialize canonically" requirement of SPEC_FULL §4.5 step 3.
func MarshalCanonical(v any) ([]byte, error) {
	sanitized, err := sanitize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sanitized)
}

func sanitize(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			sv, err := sanitize(val)
			if err != nil {
				return nil, err
			}
			out[k] = sv
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			sv, err := sanitize(val)
			if err != nil {
				return nil, err
			}
			out[i] = sv
		}
		return out, nil
	case nil, bool, string, float32, float64, int, int32, int64, uint, uint32, uint64:
		return x, nil
	default:
		if _, err := json.Marshal(x); err == nil {
			return x, nil
		}
		return fmt.Sprint(x), nil
	}
}
