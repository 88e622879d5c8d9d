package provider

// Mode identifies the embedding provider that produced a vector.
type Mode string

// Provider mode constants, listed in selection priority order.
const (
	AzureOpenAI Mode = "azure-openai"
	OpenAI      Mode = "openai"
	// Local vectors come from the lexical index vocabulary and have a smaller dimension.
	Local Mode = "local"
)

// Priority is the fixed selection order evaluated at startup.
var Priority = []Mode{AzureOpenAI, OpenAI, Local}

// IsValid checks if the mode is one of the supported values.
func (m Mode) IsValid() bool {
	return m == AzureOpenAI || m == OpenAI || m == Local
}

// IsRemote reports whether the mode calls an external API.
func (m Mode) IsRemote() bool {
	return m == AzureOpenAI || m == OpenAI
}

// Rank returns the position in Priority, or -1 for unknown modes.
func (m Mode) Rank() int {
	for i, p := range Priority {
		if p == m {
			return i
		}
	}
	return -1
}
