package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ExecutionContext is the JSON-persisted state bag of a job or step execution.
// Numbers read back from storage are float64.
type ExecutionContext map[string]interface{}

// NewExecutionContext returns an empty ExecutionContext.
func NewExecutionContext() ExecutionContext {
	return make(ExecutionContext)
}

// Value implements driver.Valuer.
func (ec ExecutionContext) Value() (driver.Value, error) {
	if ec == nil {
		return "{}", nil
	}
	data, err := json.Marshal(ec)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (ec *ExecutionContext) Scan(value interface{}) error {
	b, err := scanBytes(value, "ExecutionContext")
	if err != nil {
		return err
	}
	*ec = make(ExecutionContext)
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, ec); err != nil {
		return fmt.Errorf("failed to unmarshal ExecutionContext JSON: %w", err)
	}
	return nil
}

// Put stores value under key.
func (ec ExecutionContext) Put(key string, value interface{}) {
	ec[key] = value
}

// Get returns the value stored under key.
func (ec ExecutionContext) Get(key string) (interface{}, bool) {
	v, ok := ec[key]
	return v, ok
}

// GetString returns the string stored under key.
func (ec ExecutionContext) GetString(key string) (string, bool) {
	s, ok := ec[key].(string)
	return s, ok
}

// GetInt returns the number stored under key as an int.
func (ec ExecutionContext) GetInt(key string) (int, bool) {
	return toInt(ec[key])
}

// GetIntSlice returns the list of numbers stored under key.
func (ec ExecutionContext) GetIntSlice(key string) ([]int, bool) {
	switch v := ec[key].(type) {
	case []int:
		out := make([]int, len(v))
		copy(out, v)
		return out, true
	case []interface{}:
		out := make([]int, 0, len(v))
		for _, item := range v {
			n, ok := toInt(item)
			if !ok {
				return nil, false
			}
			out = append(out, n)
		}
		return out, true
	}
	return nil, false
}

// Copy returns a shallow copy.
func (ec ExecutionContext) Copy() ExecutionContext {
	out := make(ExecutionContext, len(ec))
	for k, v := range ec {
		out[k] = v
	}
	return out
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

func scanBytes(value interface{}, typeName string) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("unsupported Scan type for %s: %T", typeName, value)
}
