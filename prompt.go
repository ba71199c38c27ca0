package shelltune

import (
	"errors"
	"fmt"
	"strings"
)

// Prompt section markers. The model is trained on text in this exact shape,
// so both headers must match byte for byte between training and inference.
const (
	instructionHeader = "### Instruction:"
	outputHeader      = "### Output:"
	sectionMarker     = "###"
)

// ErrNoResponseMarker is returned by ExtractResponse when the decoded text
// does not contain the output header at all.
var ErrNoResponseMarker = errors.New("no output marker in generated text")

// FormatExample renders one labeled training example. No escaping and no
// truncation: the instruction and output are embedded verbatim.
func FormatExample(instruction, output string) string {
	return fmt.Sprintf("%s\n%s\n\n%s\n%s", instructionHeader, instruction, outputHeader, output)
}

// FormatPrompt renders the partial prompt used at inference time. It ends
// right after the output header so the model continues with the answer.
func FormatPrompt(instruction string) string {
	return fmt.Sprintf("%s\n%s\n\n%s\n", instructionHeader, instruction, outputHeader)
}

// ExtractResponse pulls the answer out of decoded model output: everything
// after the first output header, trimmed, and cut at the next section marker
// if the model kept going.
func ExtractResponse(decoded string) (string, error) {
	_, after, found := strings.Cut(decoded, outputHeader)
	if !found {
		return "", fmt.Errorf("extracting response from %d bytes of output: %w", len(decoded), ErrNoResponseMarker)
	}
	answer := strings.TrimSpace(after)
	if before, _, found := strings.Cut(answer, sectionMarker); found {
		answer = strings.TrimSpace(before)
	}
	return answer, nil
}
