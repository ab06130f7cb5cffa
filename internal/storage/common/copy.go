package common

import "encoding/json"

// CloneRawMap creates a shallow copy of a raw-document map. The JSON
// payloads themselves are shared; callers treat RawMessage as immutable.
func CloneRawMap(src map[string]json.RawMessage) map[string]json.RawMessage {
	if src == nil {
		return nil
	}
	dst := make(map[string]json.RawMessage, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// CloneCounters copies a single usage counter hash.
func CloneCounters(src map[string]int64) map[string]int64 {
	if src == nil {
		return nil
	}
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// CloneUsageMap deep-copies the whole usage table.
func CloneUsageMap(src map[string]map[string]int64) map[string]map[string]int64 {
	if src == nil {
		return nil
	}
	dst := make(map[string]map[string]int64, len(src))
	for k, v := range src {
		dst[k] = CloneCounters(v)
	}
	return dst
}
