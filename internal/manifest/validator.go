package manifest

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Result is the outcome of validating one manifest document. Errors holds
// every violation found, not just the first, so callers can show the full
// list.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

var supportedKinds = map[string]struct{}{
	KindD1:     {},
	KindAI:     {},
	KindAssets: {},
	KindVars:   {},
}

// Validate checks a raw manifest document for structural correctness. It
// never fails with an error of its own; every violation becomes a message
// in the returned Result. Runs at every trust boundary, even when a
// front-end is expected to have validated already.
func Validate(data []byte) Result {
	r := Result{Valid: true}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		r.addf("manifest must be a JSON object")
		return r
	}

	if s, ok := decodeString(doc["entrypoint"]); !ok || s == "" {
		r.addf("entrypoint must be a non-empty string")
	}
	if s, ok := decodeString(doc["compatibility_date"]); !ok || s == "" {
		r.addf("compatibility_date must be a non-empty string")
	}

	raw, ok := doc["bindings"]
	if !ok {
		return r
	}

	var bindings map[string]json.RawMessage
	if err := json.Unmarshal(raw, &bindings); err != nil || bindings == nil {
		r.addf("bindings must be a JSON object")
		return r
	}

	supported := lo.Keys(supportedKinds)
	sort.Strings(supported)
	for _, kind := range sortedKeys(bindings) {
		if _, ok := supportedKinds[kind]; !ok {
			r.addf("unsupported binding kind %q (supported: %s)", kind, strings.Join(supported, ", "))
		}
	}

	if raw, ok := bindings[KindD1]; ok {
		var b DatabaseBinding
		if err := json.Unmarshal(raw, &b); err != nil {
			r.addf("bindings.d1 must be an object with a binding name")
		} else if b.Binding == "" {
			r.addf("bindings.d1.binding must be a non-empty variable name")
		}
	}

	if raw, ok := bindings[KindAI]; ok {
		var b AIBinding
		if err := json.Unmarshal(raw, &b); err != nil {
			r.addf("bindings.ai must be an object with a binding name")
		} else if b.Binding == "" {
			r.addf("bindings.ai.binding must be a non-empty variable name")
		}
	}

	if raw, ok := bindings[KindAssets]; ok {
		var b AssetsBinding
		if err := json.Unmarshal(raw, &b); err != nil {
			r.addf("bindings.assets must be an object with binding and directory")
		} else {
			if b.Binding == "" {
				r.addf("bindings.assets.binding must be a non-empty variable name")
			}
			if b.Directory == "" {
				r.addf("bindings.assets.directory must be a non-empty path")
			}
		}
	}

	if raw, ok := bindings[KindVars]; ok {
		var vars map[string]string
		if err := json.Unmarshal(raw, &vars); err != nil {
			r.addf("bindings.vars must be a flat string-to-string map")
		}
	}

	return r
}

func (r *Result) addf(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func decodeString(raw json.RawMessage) (string, bool) {
	if raw == nil {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
