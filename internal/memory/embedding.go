package memory

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/philippgille/chromem-go"
)

const defaultDimensions = 256

// HashEmbedding returns an offline embedding that hashes lower-cased word
// tokens and adjacent token pairs into dims buckets. Vectors are normalized.
func HashEmbedding(dims int) chromem.EmbeddingFunc {
	if dims <= 0 {
		dims = defaultDimensions
	}
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dims)
		tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for i, tok := range tokens {
			addFeature(vec, tok, 1)
			if i > 0 {
				addFeature(vec, tokens[i-1]+" "+tok, 0.5)
			}
		}

		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm == 0 {
			vec[0] = 1
			return vec, nil
		}
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
		return vec, nil
	}
}

func addFeature(vec []float32, feature string, weight float32) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum32()
	idx := int(sum % uint32(len(vec)))
	if sum&(1<<31) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}
