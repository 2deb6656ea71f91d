package bindings

// Kind discriminates the resolved descriptor variants the platform accepts.
type Kind string

const (
	KindPlainText Kind = "plain_text"
	KindD1        Kind = "d1"
	KindAI        Kind = "ai"
)

// ImplicitProjectVar is the plain variable every published script receives
// so deployed code can self-identify.
const ImplicitProjectVar = "PROJECT_ID"

// Descriptor is the resolved, concrete form of a binding intent: a provider
// identifier (or literal value) instead of just a declared name.
type Descriptor struct {
	Kind Kind   `json:"type"`
	Name string `json:"name"`
	Text string `json:"text,omitempty"`
	ID   string `json:"id,omitempty"`
}
