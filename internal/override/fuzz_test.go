package override

import (
	"context"
	"strings"
	"testing"

	"github.com/agentic-research/derivata/internal/value"
)

func FuzzCoerce(f *testing.F) {
	f.Add("42")
	f.Add("-0.5")
	f.Add("TRUE")
	f.Add(`{"a": [1, 2]}`)
	f.Add("nan")
	f.Add("")

	f.Fuzz(func(t *testing.T, raw string) {
		v := Coerce(raw)
		if _, err := value.Marshal(v); err != nil {
			t.Fatalf("Coerce(%q) produced unmarshalable %T: %v", raw, v, err)
		}
	})
}

func FuzzApplySets(f *testing.F) {
	f.Add("3.inputs.seed=42")
	f.Add("prompt.9.inputs.filename_prefix=x")
	f.Add("a..b=1")
	f.Add("=")
	f.Add("client_id=abc")

	f.Fuzz(func(t *testing.T, set string) {
		root, err := value.ParseObject([]byte(txt2img))
		if err != nil {
			t.Fatal(err)
		}
		before := root.Len()

		_, err = New().Apply(context.Background(), root, Bundle{Sets: []string{set}})
		if !strings.Contains(set, "=") && err == nil {
			t.Fatalf("set %q without '=' was accepted", set)
		}
		if err != nil {
			return
		}
		// Sets never delete nodes.
		if root.Len() < before {
			t.Fatalf("set %q removed nodes", set)
		}
	})
}
