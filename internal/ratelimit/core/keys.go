package core

// Coordination-store key suffixes: one per dimension for the sorted sets
// that back an API key's sliding-window counters, per §6's CS key layout,
// plus the suffix of each set's companion cost hash.
const (
	inputKeySuffix  = "input_tokens"
	outputKeySuffix = "output_tokens"
	requestKeySuffix = "requests"
	costKeySuffix    = "cost"
)

// KeyBuilder constructs the stable coordination-store keys for an API key.
// Each of the three dimensions gets a sorted-set key (member=event_id,
// score=timestamp) and a companion hash key (field=event_id, value=cost)
// so Reconcile can rewrite one event's cost without touching the sorted
// set that eviction operates on.
type KeyBuilder struct{}

// SortedSetKey returns the sorted-set key for one dimension of an API key.
func (KeyBuilder) SortedSetKey(apiKey string, dim Dimension) string {
	return "rate_limit:" + apiKey + ":" + dimensionSuffix(dim)
}

// CostKey returns the companion cost-hash key for one dimension.
func (KeyBuilder) CostKey(apiKey string, dim Dimension) string {
	return "rate_limit:" + apiKey + ":" + dimensionSuffix(dim) + ":" + costKeySuffix
}

func dimensionSuffix(dim Dimension) string {
	switch dim {
	case DimensionInputTPM:
		return inputKeySuffix
	case DimensionOutputTPM:
		return outputKeySuffix
	case DimensionRPM:
		return requestKeySuffix
	default:
		return string(dim)
	}
}
