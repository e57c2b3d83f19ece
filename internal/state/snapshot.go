package state

import (
	"context"
	"encoding/json"
	"strings"
)

const (
	hedgeKeyPrefix    = "hedge:"
	OperatorOffsetKey = "telegram:operator:last_update_id"
)

// HedgeKey is the store key of the persisted hedge state for pair.
func HedgeKey(pair string) string {
	return hedgeKeyPrefix + strings.ToUpper(pair)
}

// LoadJSON decodes the value at key into out. Missing or blank values report ok=false.
func LoadJSON(ctx context.Context, store Store, key string, out any) (bool, error) {
	if store == nil {
		return false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, err
	}
	return true, nil
}

func SaveJSON(ctx context.Context, store Store, key string, v any) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, string(payload))
}
