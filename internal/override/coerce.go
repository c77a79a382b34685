package override

import (
	"math"
	"strconv"
	"strings"

	"github.com/agentic-research/derivata/internal/value"
)

// Coerce turns the right-hand side of a KEY=VALUE override into a Value.
// The first matching rule wins:
//
//  1. a complete JSON document ("123", "\"123\"", "[1,2]", "{...}")
//  2. null, true or false in any letter case
//  3. a 64-bit signed integer ("+5", "007")
//  4. a finite 64-bit float ("1.", ".5")
//  5. the raw text as a string
//
// So a bare `sdxl` stays a string while a quoted "123" stays a string too.
func Coerce(raw string) any {
	if v, err := value.Parse([]byte(raw)); err == nil {
		return v
	}
	switch {
	case strings.EqualFold(raw, "null"):
		return nil
	case strings.EqualFold(raw, "true"):
		return true
	case strings.EqualFold(raw, "false"):
		return false
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	return raw
}
