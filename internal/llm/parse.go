package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// decodeStrict strips markdown fences and decodes the payload,
// surfacing ErrCollaboratorMalformed on anything that does not parse
// or validate.
func decodeStrict[T interface{ Validate() error }](raw string, out T) error {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("%w: %v (raw: %.200s)", domain.ErrCollaboratorMalformed, err, cleaned)
	}
	if err := out.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCollaboratorMalformed, err)
	}
	return nil
}

func formatInteractions(interactions []*domain.Interaction) string {
	var b strings.Builder
	for _, in := range interactions {
		fmt.Fprintf(&b, "User: %s\nAgent: %s\n\n", in.UserMessage, in.AgentResponse)
	}
	return b.String()
}
