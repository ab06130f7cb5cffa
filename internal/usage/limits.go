package usage

import (
	"context"
	"encoding/json"
	"fmt"

	"routecodex-go/internal/storage"
)

// loadLimits reads the daily-limit document. Missing doc means no limits.
func loadLimits(ctx context.Context, backend storage.Backend) (map[string]int64, error) {
	if backend == nil {
		return nil, nil
	}
	raw, err := backend.GetConfigDoc(ctx, LimitsDocKey)
	if err != nil {
		if storage.IsNotFound(err) || storage.IsNotSupported(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load usage limits: %w", err)
	}
	limits := make(map[string]int64)
	if err := json.Unmarshal(raw, &limits); err != nil {
		return nil, fmt.Errorf("decode usage limits: %w", err)
	}
	return limits, nil
}

// saveLimits writes the daily-limit document back.
func saveLimits(ctx context.Context, backend storage.Backend, limits map[string]int64) error {
	if backend == nil {
		return nil
	}
	raw, err := json.Marshal(limits)
	if err != nil {
		return fmt.Errorf("encode usage limits: %w", err)
	}
	if err := backend.SetConfigDoc(ctx, LimitsDocKey, raw); err != nil {
		if storage.IsNotSupported(err) {
			return nil
		}
		return fmt.Errorf("save usage limits: %w", err)
	}
	return nil
}
