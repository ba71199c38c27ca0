package shelltune

import (
	"fmt"
	"math/rand"

	"github.com/samber/lo"
)

// Adapter target module names. These are the attention projections of the
// base model; the feed-forward block is left untouched.
const (
	TargetAttnQKV  = "attn_qkv"
	TargetAttnProj = "attn_proj"
)

// BiasNone is the only supported bias-training mode: no bias parameters are
// trained or added by the adapters.
const BiasNone = "none"

// AdapterConfig describes the low-rank adapter injection. It is set once
// before training and never mutated during a run.
type AdapterConfig struct {
	R             int      `yaml:"r"`
	Alpha         float32  `yaml:"lora_alpha"`
	Dropout       float32  `yaml:"lora_dropout"`
	TargetModules []string `yaml:"target_modules"`
	Bias          string   `yaml:"bias"`
}

// DefaultAdapterConfig returns the adapter settings used for the shell
// suggestion fine-tune.
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		R:             8,
		Alpha:         16,
		Dropout:       0.05,
		TargetModules: []string{TargetAttnQKV, TargetAttnProj},
		Bias:          BiasNone,
	}
}

// Validate checks the configuration before any tensors are allocated.
func (c AdapterConfig) Validate() error {
	if c.R <= 0 {
		return fmt.Errorf("adapter rank must be positive, got %d", c.R)
	}
	if c.Alpha <= 0 {
		return fmt.Errorf("adapter alpha must be positive, got %v", c.Alpha)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("adapter dropout must be in [0, 1), got %v", c.Dropout)
	}
	if c.Bias != "" && c.Bias != BiasNone {
		return fmt.Errorf("unsupported adapter bias mode %q", c.Bias)
	}
	if len(c.TargetModules) == 0 {
		return fmt.Errorf("adapter config has no target modules")
	}
	for _, target := range c.TargetModules {
		if target != TargetAttnQKV && target != TargetAttnProj {
			return fmt.Errorf("unknown adapter target module %q", target)
		}
	}
	return nil
}

func (c AdapterConfig) targets(name string) bool {
	return lo.Contains(c.TargetModules, name)
}

// scale is the factor applied to the B@A product, alpha/r.
func (c AdapterConfig) scale() float32 {
	return c.Alpha / float32(c.R)
}

// AdapterTensors holds the trainable low-rank matrices, one A/B pair per
// targeted projection per layer, carved from a single arena. Disabled targets
// get zero-size tensors.
type AdapterTensors struct {
	Memory []float32
	QKVA   tensor // (L, r, C)
	QKVB   tensor // (L, 3*C, r)
	ProjA  tensor // (L, r, C)
	ProjB  tensor // (L, C, r)
}

// Len returns the total number of adapter parameters.
func (a *AdapterTensors) Len() int {
	return len(a.Memory)
}

// Init allocates the adapter arena for the given model shape.
func (a *AdapterTensors) Init(cfg AdapterConfig, L, C int) {
	r := cfg.R
	qkvL, projL := 0, 0
	if cfg.targets(TargetAttnQKV) {
		qkvL = L
	}
	if cfg.targets(TargetAttnProj) {
		projL = L
	}
	a.Memory = make([]float32, qkvL*(r*C+3*C*r)+projL*(r*C+C*r))
	arena := a.Memory
	a.QKVA = carve(&arena, qkvL, r, C)
	a.QKVB = carve(&arena, qkvL, 3*C, r)
	a.ProjA = carve(&arena, projL, r, C)
	a.ProjB = carve(&arena, projL, C, r)
	if len(arena) != 0 {
		panic("adapter arena not fully carved")
	}
}

// randomize applies the standard adapter initialization: A gaussian with a
// small std, B zero, so the injected path starts as an exact no-op.
func (a *AdapterTensors) randomize(rng *rand.Rand) {
	const std = 0.02
	for i := range a.QKVA.data {
		a.QKVA.data[i] = float32(rng.NormFloat64()) * std
	}
	for i := range a.ProjA.data {
		a.ProjA.data[i] = float32(rng.NormFloat64()) * std
	}
}

// adapterActivations holds per-step adapter intermediates: the rank-r hidden
// products and, when dropout is active, the input dropout masks.
type adapterActivations struct {
	Memory     []float32
	QKVHidden  tensor // (L, B, T, r)
	ProjHidden tensor // (L, B, T, r)
	QKVMask    tensor // (L, B, T, C), zero-size without dropout
	ProjMask   tensor // (L, B, T, C), zero-size without dropout
}

func (a *adapterActivations) Init(cfg AdapterConfig, B, T, C, L int) {
	r := cfg.R
	qkvL, projL := 0, 0
	if cfg.targets(TargetAttnQKV) {
		qkvL = L
	}
	if cfg.targets(TargetAttnProj) {
		projL = L
	}
	maskL := 0
	if cfg.Dropout > 0 {
		maskL = 1
	}
	a.Memory = make([]float32, (qkvL+projL)*B*T*r+maskL*(qkvL+projL)*B*T*C)
	arena := a.Memory
	a.QKVHidden = carve(&arena, qkvL, B, T, r)
	a.ProjHidden = carve(&arena, projL, B, T, r)
	a.QKVMask = carve(&arena, maskL*qkvL, B, T, C)
	a.ProjMask = carve(&arena, maskL*projL, B, T, C)
	if len(arena) != 0 {
		panic("adapter activation arena not fully carved")
	}
}

// fillDropoutMask writes an inverted dropout mask: kept entries carry
// 1/(1-p) so activations keep their expected scale.
func fillDropoutMask(mask []float32, p float32, rng *rand.Rand) {
	keep := 1 - p
	inv := 1 / keep
	for i := range mask {
		if rng.Float32() < keep {
			mask[i] = inv
		} else {
			mask[i] = 0
		}
	}
}
