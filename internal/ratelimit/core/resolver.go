package core

import (
	"crypto/sha256"
	"encoding/binary"
)

// Default tier tables (§4.4). Each dimension has its own disjoint table;
// a deployment that wants different values supplies them to NewResolver
// instead of editing these.
var (
	DefaultInputTPMTiers  = []int64{10_000, 20_000, 40_000, 60_000, 100_000, 500_000, 1_000_000}
	DefaultOutputTPMTiers = []int64{5_000, 10_000, 20_000, 30_000, 50_000, 250_000, 500_000}
	DefaultRPMTiers       = []int64{60, 100, 300, 600, 1_000, 5_000, 10_000}
)

// Resolver maps an APIKey to its RateLimitConfig. Two resolvers built from
// the same tier tables and the same override map agree on every key
// without coordination (§4.4).
type Resolver struct {
	inputTiers  []int64
	outputTiers []int64
	rpmTiers    []int64
	overrides   map[string]RateLimitConfig
}

// ResolverOption configures a Resolver at construction.
type ResolverOption func(*Resolver)

// WithTiers overrides the default tier tables.
func WithTiers(input, output, rpm []int64) ResolverOption {
	return func(r *Resolver) {
		if len(input) > 0 {
			r.inputTiers = input
		}
		if len(output) > 0 {
			r.outputTiers = output
		}
		if len(rpm) > 0 {
			r.rpmTiers = rpm
		}
	}
}

// WithOverrides installs a static, read-only key->config mapping that
// takes precedence over the deterministic derivation. The map is never
// mutated after construction.
func WithOverrides(overrides map[string]RateLimitConfig) ResolverOption {
	return func(r *Resolver) {
		r.overrides = overrides
	}
}

// NewResolver constructs a Resolver with the default tier tables, then
// applies opts.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		inputTiers:  DefaultInputTPMTiers,
		outputTiers: DefaultOutputTPMTiers,
		rpmTiers:    DefaultRPMTiers,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the RateLimitConfig for key. If key is present in the
// override map, that value wins; otherwise the config is derived
// deterministically from a uniform hash of the key using disjoint bit
// fields, per §4.4.
func (r *Resolver) Resolve(key string) RateLimitConfig {
	if r == nil {
		return RateLimitConfig{}
	}
	if cfg, ok := r.overrides[key]; ok {
		return cfg
	}
	sum := sha256.Sum256([]byte(key))
	inputField := binary.BigEndian.Uint32(sum[0:4])
	outputField := binary.BigEndian.Uint32(sum[4:8])
	rpmField := binary.BigEndian.Uint32(sum[8:12])
	return RateLimitConfig{
		InputTPM:  pickTier(r.inputTiers, inputField),
		OutputTPM: pickTier(r.outputTiers, outputField),
		RPM:       pickTier(r.rpmTiers, rpmField),
	}
}

func pickTier(tiers []int64, field uint32) int64 {
	if len(tiers) == 0 {
		return 0
	}
	return tiers[field%uint32(len(tiers))]
}
