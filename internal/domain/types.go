package domain

// Role identifies who authored a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// Message is one conversation turn. Its content lives in blocks owned by the
// conversation store and is referenced here by id, in authoring order.
type Message struct {
	ID       string   `json:"id"`
	Role     Role     `json:"role"`
	BlockIDs []string `json:"blocks"`
}

// Capability is a user-declared model capability that overrides the
// built-in model tables.
type Capability string

const (
	CapabilityVision           Capability = "vision"
	CapabilityImageEnhancement Capability = "image_enhancement"
)

// Model describes the model a conversation is being compiled for.
type Model struct {
	ID           string       `json:"id"`
	Provider     string       `json:"provider,omitempty"`
	Name         string       `json:"name,omitempty"`
	Capabilities []Capability `json:"capabilities,omitempty"`
}

// Has reports whether the model carries an explicit capability override.
func (m *Model) Has(c Capability) bool {
	if m == nil {
		return false
	}
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Request is the compiled, provider-agnostic request payload.
type Request struct {
	Model    string           `json:"model"`
	Messages []RequestMessage `json:"messages"`
}
