package entitlements

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/omniai/payments/app/models"
)

// Unlimited is the limit value plans use for "no cap".
const Unlimited int64 = -1

const (
	FeatureAIInteractions = "ai_interactions_per_month"
	FeatureWorkflows      = "workflows"
	FeatureMaxUsers       = "max_users"
	FeatureSupportLevel   = "support_level"
	FeatureAPIAccess      = "api_access"
)

// Features is the feature map of a plan: numeric limits, boolean flags and
// string levels keyed by feature name.
type Features map[string]interface{}

// ForPlan returns the features of a plan, or an empty map for no plan.
func ForPlan(plan *models.Subscription) Features {
	if plan == nil || plan.Features == nil {
		return Features{}
	}
	out := make(Features, len(plan.Features))
	for k, v := range plan.Features {
		out[k] = v
	}
	return out
}

// Limit returns the numeric limit of a feature. ok is false when the feature
// is absent or not numeric.
func (f Features) Limit(key string) (limit int64, ok bool) {
	switch v := f[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

func (f Features) IsUnlimited(key string) bool {
	n, ok := f.Limit(key)
	return ok && n == Unlimited
}

// Allows reports whether one more use fits under the limit given current
// usage. Unknown features are not allowed.
func (f Features) Allows(key string, used int64) bool {
	n, ok := f.Limit(key)
	if !ok {
		return false
	}
	if n == Unlimited {
		return true
	}
	return used < n
}

// Enabled reports whether a flag feature is on. Non-empty string levels
// other than "none" count as enabled, as do positive or unlimited limits.
func (f Features) Enabled(key string) bool {
	switch v := f[key].(type) {
	case bool:
		return v
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return s != "" && s != "none" && s != "false"
	}
	if n, ok := f.Limit(key); ok {
		return n == Unlimited || n > 0
	}
	return false
}
