package model

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/serialization"
)

// JobParameters identifies a job instance. Two launches with equal parameters
// address the same instance, so Hash must be stable across storage round trips.
type JobParameters struct {
	Params map[string]interface{}
}

// NewJobParameters returns empty parameters.
func NewJobParameters() JobParameters {
	return JobParameters{Params: make(map[string]interface{})}
}

// Value implements driver.Valuer.
func (jp JobParameters) Value() (driver.Value, error) {
	if jp.Params == nil {
		return "{}", nil
	}
	data, err := json.Marshal(jp.Params)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (jp *JobParameters) Scan(value interface{}) error {
	b, err := scanBytes(value, "JobParameters")
	if err != nil {
		return err
	}
	jp.Params = make(map[string]interface{})
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, &jp.Params); err != nil {
		return fmt.Errorf("failed to unmarshal JobParameters JSON: %w", err)
	}
	return nil
}

// Put stores a parameter. It allocates the map when needed.
func (jp *JobParameters) Put(key string, value interface{}) {
	if jp.Params == nil {
		jp.Params = make(map[string]interface{})
	}
	jp.Params[key] = value
}

// Get returns the raw value of key, or nil.
func (jp JobParameters) Get(key string) interface{} {
	return jp.Params[key]
}

// Contains reports whether key is present.
func (jp JobParameters) Contains(key string) bool {
	_, ok := jp.Params[key]
	return ok
}

// GetString returns a string parameter.
func (jp JobParameters) GetString(key string) (string, bool) {
	s, ok := jp.Params[key].(string)
	return s, ok
}

// GetInt64 returns a numeric parameter. Decimal strings are accepted.
func (jp JobParameters) GetInt64(key string) (int64, bool) {
	switch v := jp.Params[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// Copy returns parameters with a copied map.
func (jp JobParameters) Copy() JobParameters {
	out := NewJobParameters()
	for k, v := range jp.Params {
		out.Params[k] = v
	}
	return out
}

// Hash returns the hex SHA-256 of the canonical JSON of the parameters.
func (jp JobParameters) Hash() (string, error) {
	canonical, err := canonicalJSON(jp.Params)
	if err != nil {
		return "", exception.NewBatchError("job_parameters", "failed to build canonical JSON for hashing", err, false, false)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON encodes maps with sorted keys at every level. Numbers go through
// encoding/json, so int64(5) and float64(5) encode identically.
func canonicalJSON(val interface{}) ([]byte, error) {
	m, ok := val.(map[string]interface{})
	if !ok {
		return json.Marshal(val)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := canonicalJSON(m[k])
		if err != nil {
			return nil, err
		}
		sb.Write(kb)
		sb.WriteByte(':')
		sb.Write(vb)
	}
	sb.WriteByte('}')
	return []byte(sb.String()), nil
}

// String renders the parameters as JSON with sensitive keys masked.
func (jp JobParameters) String() string {
	data, err := json.Marshal(serialization.MaskParameters(jp.Params))
	if err != nil {
		return fmt.Sprintf("{[ERROR: failed to marshal parameters: %v]}", err)
	}
	return string(data)
}
