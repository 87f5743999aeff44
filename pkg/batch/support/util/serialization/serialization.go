// Package serialization converts batch metadata values to and from their JSON column form.
package serialization

import (
	"encoding/json"

	config "github.com/tigerroll/csvimport/pkg/batch/core/config"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
)

const module = "serialization"

// MaskedValue replaces sensitive parameter values in rendered output.
const MaskedValue = "********"

// MaskParameters returns a copy of params with every configured sensitive key masked.
// It is used for log and API rendering only; persisted parameters keep their real values
// so that instance hashes stay stable.
func MaskParameters(params map[string]interface{}) map[string]interface{} {
	masked := make(map[string]interface{}, len(params))
	for k, v := range params {
		masked[k] = v
	}
	for _, key := range config.GetMaskedParameterKeys() {
		if _, ok := masked[key]; ok {
			masked[key] = MaskedValue
		}
	}
	return masked
}

// MarshalFailures serializes failure messages into a JSON array.
func MarshalFailures(failures []string) ([]byte, error) {
	if failures == nil {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(failures)
	if err != nil {
		return nil, exception.NewBatchError(module, "Failed to serialize Failures", err, false, false)
	}
	return data, nil
}

// UnmarshalFailures deserializes a JSON array of failure messages.
func UnmarshalFailures(data []byte) ([]string, error) {
	msgs := []string{}
	if len(data) == 0 || string(data) == "null" {
		return msgs, nil
	}
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, exception.NewBatchError(module, "Failed to deserialize Failures", err, false, false)
	}
	return msgs, nil
}
