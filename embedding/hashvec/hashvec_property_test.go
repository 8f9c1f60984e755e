package hashvec

import (
	"context"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestEncodeUnitNormProperty verifies P1: for every registered vector v,
// |‖v‖ − 1| ≤ 1e-3, across arbitrary input text and embedding dimension
// rather than a single fixed example.
func TestEncodeUnitNormProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Encode always returns a unit-norm vector", prop.ForAll(
		func(text string, dim int) bool {
			p := New(dim)
			v, err := p.Encode(context.Background(), text)
			if err != nil {
				return false
			}
			var sumSq float64
			for _, x := range v {
				sumSq += float64(x) * float64(x)
			}
			return math.Abs(math.Sqrt(sumSq)-1.0) <= 1e-3
		},
		gen.AnyString(),
		gen.IntRange(1, 256),
	))

	properties.TestingRun(t)
}
