package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mikey/phishguard/internal/core"
)

// record is the serialized form of a cache entry
type record struct {
	Verdict    *core.Verdict `json:"verdict"`
	InsertedAt time.Time     `json:"inserted_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
}

func encodeVerdict(v *core.Verdict) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode verdict: %w", err)
	}
	return string(b), nil
}

func decodeVerdict(fp core.Fingerprint, data string) (*core.Verdict, error) {
	var v core.Verdict
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("failed to decode verdict: %w", err)
	}
	v.Fingerprint = fp
	if v.Reasons == nil {
		v.Reasons = []string{}
	}
	return &v, nil
}

// unavailable marks an infrastructure error as a cache outage
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", core.ErrCacheUnavailable, op, err)
}
