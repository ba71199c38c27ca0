package shelltune

import (
	"errors"
	"fmt"
)

// DefaultMaxNewTokens bounds generation when the caller does not say
// otherwise.
const DefaultMaxNewTokens = 64

// Suggest runs the full inference protocol for one instruction: build the
// partial prompt, generate a bounded continuation, decode, and extract the
// answer between the output markers. The first sampled token is never
// end-of-text, so generation always produces at least one continuation
// token; a model that has learned the protocol turns that into a non-empty
// suggestion.
func (m *Model) Suggest(instruction string, maxNewTokens int) (string, error) {
	if maxNewTokens <= 0 {
		maxNewTokens = DefaultMaxNewTokens
	}
	prompt := FormatPrompt(instruction)
	tokens, err := m.Tokenizer.Encode(prompt)
	if err != nil {
		return "", err
	}
	if len(tokens) >= m.Config.MaxSeqLen {
		return "", fmt.Errorf("prompt is %d tokens, model limit is %d", len(tokens), m.Config.MaxSeqLen)
	}
	generated, err := m.generate(tokens, maxNewTokens)
	if err != nil {
		return "", err
	}
	decoded, err := m.Tokenizer.Decode(generated)
	if err != nil {
		return "", err
	}
	return ExtractResponse(decoded)
}

// generate extends the token sequence by sampling from the model one token
// at a time, recomputing activations each step. Generation stops at
// end-of-text or after maxNewTokens.
func (m *Model) generate(prompt []int32, maxNewTokens int) ([]int32, error) {
	if !m.Tokenizer.init {
		return nil, errors.New("tokenizer not initialised")
	}
	m.SetTraining(false)
	limit := len(prompt) + maxNewTokens
	if limit > m.Config.MaxSeqLen {
		limit = m.Config.MaxSeqLen
	}
	// Allocate activations once at the final length.
	m.ensureActs(1, limit)

	tokens := make([]int32, len(prompt), limit)
	copy(tokens, prompt)
	for step := 0; len(tokens) < limit; step++ {
		m.Forward(tokens, nil, 1, len(tokens))
		probs := m.Acts.Probabilities.data[(len(tokens)-1)*m.Config.V : len(tokens)*m.Config.V]
		if step == 0 {
			probs = suppressToken(probs, m.Config.EOT)
		}
		next := int32(sampleMult(probs, m.Rand.Float32()))
		if next == m.Config.EOT && step > 0 {
			break
		}
		tokens = append(tokens, next)
	}
	return tokens, nil
}

// suppressToken returns a renormalized copy of probs with the given token id
// zeroed out.
func suppressToken(probs []float32, id int32) []float32 {
	out := make([]float32, len(probs))
	var sum float32
	for i, p := range probs {
		if int32(i) == id {
			continue
		}
		out[i] = p
		sum += p
	}
	if sum <= 0 {
		return probs
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
