package sealer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/while-basic/celaya-parachain-sub000/internal/report"
)

// Leaves returns the canonical merkle leaves of r, in order: execution id,
// definition id, duration in milliseconds, consensus score and insights.
func Leaves(r *report.Report) ([][]byte, error) {
	consensus := "null"
	if r.ConsensusScore != nil {
		consensus = fmt.Sprintf("%.4f", *r.ConsensusScore)
	}
	insights := r.Insights
	if insights == nil {
		insights = []string{}
	}
	insightBytes, err := json.Marshal(insights)
	if err != nil {
		return nil, fmt.Errorf("encoding insights: %w", err)
	}
	return [][]byte{
		[]byte(r.ExecutionID),
		[]byte(r.DefinitionID),
		[]byte(strconv.FormatInt(r.DurationMS, 10)),
		[]byte(consensus),
		insightBytes,
	}, nil
}

// MerkleRoot computes the hex root over r's leaves. It is a pure function of
// the leaf fields.
func MerkleRoot(r *report.Report) (string, error) {
	leaves, err := Leaves(r)
	if err != nil {
		return "", err
	}
	return RootOf(leaves), nil
}

// RootOf hashes each leaf, then hashes the concatenated hex digests of each
// pair until one remains. An odd last node is paired with itself.
func RootOf(leaves [][]byte) string {
	if len(leaves) == 0 {
		return hexSum(nil)
	}
	level := make([]string, len(leaves))
	for i, leaf := range leaves {
		level[i] = hexSum(leaf)
	}
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hexSum([]byte(level[i]+right)))
		}
		level = next
	}
	return level[0]
}

func hexSum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
