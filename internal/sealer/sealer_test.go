package sealer

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/while-basic/celaya-parachain-sub000/internal/bus"
	"github.com/while-basic/celaya-parachain-sub000/internal/report"
)

func testReport() *report.Report {
	consensus := 72.5
	return &report.Report{
		ResultID:       "result-1",
		ExecutionID:    "exec-1",
		DefinitionID:   "def-1",
		Version:        1,
		Status:         report.StatusSuccess,
		DurationMS:     1234,
		ConsensusScore: &consensus,
		Insights:       []string{"first insight", "second insight"},
		CreatedAt:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newTestSealer(t *testing.T, content ContentStore, ledger Ledger) *Sealer {
	t.Helper()
	signer, err := GenerateSigner()
	require.NoError(t, err)
	return New(content, ledger, signer, Config{MaxAttempts: 3, Backoff: time.Millisecond}, nil)
}

func TestRootOf(t *testing.T) {
	h := hexSum
	a, b, c := []byte("a"), []byte("b"), []byte("c")

	assert.Equal(t, h(a), RootOf([][]byte{a}))
	assert.Equal(t, h([]byte(h(a)+h(b))), RootOf([][]byte{a, b}))

	left := h([]byte(h(a) + h(b)))
	right := h([]byte(h(c) + h(c)))
	assert.Equal(t, h([]byte(left+right)), RootOf([][]byte{a, b, c}))
}

func TestMerkleRoot_Leaves(t *testing.T) {
	r := testReport()
	leaves, err := Leaves(r)
	require.NoError(t, err)
	require.Len(t, leaves, 5)
	assert.Equal(t, "exec-1", string(leaves[0]))
	assert.Equal(t, "def-1", string(leaves[1]))
	assert.Equal(t, "1234", string(leaves[2]))
	assert.Equal(t, "72.5000", string(leaves[3]))
	assert.Equal(t, `["first insight","second insight"]`, string(leaves[4]))

	r.ConsensusScore = nil
	r.Insights = nil
	leaves, err = Leaves(r)
	require.NoError(t, err)
	assert.Equal(t, "null", string(leaves[3]))
	assert.Equal(t, "[]", string(leaves[4]))
}

func TestMerkleRoot_IgnoresNonLeafFields(t *testing.T) {
	r := testReport()
	root, err := MerkleRoot(r)
	require.NoError(t, err)

	r.Version = 7
	r.Integrity = report.Integrity{Sealed: true, LedgerReference: "x"}
	r.Recommendations = []string{"changed"}
	again, err := MerkleRoot(r)
	require.NoError(t, err)
	assert.Equal(t, root, again)

	r.Insights = append(r.Insights, "third")
	changed, err := MerkleRoot(r)
	require.NoError(t, err)
	assert.NotEqual(t, root, changed)
}

func TestSeal_Memory(t *testing.T) {
	content := NewMemoryContentStore()
	ledger := NewMemoryLedger()
	s := newTestSealer(t, content, ledger)

	r := testReport()
	sealed, err := s.Seal(context.Background(), r)
	require.NoError(t, err)

	ig := sealed.Integrity
	assert.True(t, ig.Sealed)
	assert.Empty(t, ig.LastError)
	assert.Equal(t, 3, ig.Attempts)
	assert.NotEmpty(t, ig.ContentReference)
	assert.NotEmpty(t, ig.LedgerReference)
	assert.NotEmpty(t, ig.Signature)
	assert.Equal(t, hex.EncodeToString(s.signer.PublicKey()), ig.PublicKey)
	assert.False(t, r.Integrity.Sealed, "input is not mutated")

	want, err := MerkleRoot(r)
	require.NoError(t, err)
	assert.Equal(t, want, ig.MerkleRoot)

	v, err := s.Verify(context.Background(), sealed)
	require.NoError(t, err)
	assert.True(t, v.Valid, v.Problems)
}

func TestSeal_ResealIsIdempotent(t *testing.T) {
	ledger := NewMemoryLedger()
	s := newTestSealer(t, NewMemoryContentStore(), ledger)

	first, err := s.Seal(context.Background(), testReport())
	require.NoError(t, err)

	// A later version with integrity cleared must land on the same root,
	// content and ledger entry.
	next := first.Clone()
	next.Version = 2
	next.Integrity = report.Integrity{}
	second, err := s.Seal(context.Background(), next)
	require.NoError(t, err)

	assert.Equal(t, first.Integrity.MerkleRoot, second.Integrity.MerkleRoot)
	assert.Equal(t, first.Integrity.ContentReference, second.Integrity.ContentReference)
	assert.Equal(t, first.Integrity.LedgerReference, second.Integrity.LedgerReference)
	assert.Equal(t, 1, ledger.Len())
}

func (s *Sealer) cachedInputs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs)
}

func TestSeal_DropsInputsOnceSealed(t *testing.T) {
	ledger := &flakyLedger{MemoryLedger: NewMemoryLedger()}
	ledger.failures.Store(100)
	s := newTestSealer(t, NewMemoryContentStore(), ledger)

	out, err := s.Seal(context.Background(), testReport())
	require.Error(t, err)
	assert.Equal(t, 1, s.cachedInputs(), "unsealed results keep their inputs for reseal")

	ledger.failures.Store(0)
	sealed, err := s.Seal(context.Background(), out)
	require.NoError(t, err)
	assert.Zero(t, s.cachedInputs())

	// a reseal after the cache is dropped lands on the same root
	again := sealed.Unsealed()
	resealed, err := s.Seal(context.Background(), again)
	require.NoError(t, err)
	assert.Equal(t, sealed.Integrity.MerkleRoot, resealed.Integrity.MerkleRoot)
	assert.Equal(t, sealed.Integrity.ContentReference, resealed.Integrity.ContentReference)
	assert.Zero(t, s.cachedInputs())
}

type flakyLedger struct {
	*MemoryLedger
	failures atomic.Int32
	calls    atomic.Int32
}

func (l *flakyLedger) Submit(ctx context.Context, payload []byte) (string, error) {
	l.calls.Add(1)
	if l.failures.Load() > 0 {
		l.failures.Add(-1)
		return "", errors.New("ledger unavailable")
	}
	return l.MemoryLedger.Submit(ctx, payload)
}

func TestSeal_RetriesThenSucceeds(t *testing.T) {
	ledger := &flakyLedger{MemoryLedger: NewMemoryLedger()}
	ledger.failures.Store(2)
	s := newTestSealer(t, NewMemoryContentStore(), ledger)

	sealed, err := s.Seal(context.Background(), testReport())
	require.NoError(t, err)
	assert.True(t, sealed.Integrity.Sealed)
	assert.Equal(t, int32(3), ledger.calls.Load())
	assert.Equal(t, 5, sealed.Integrity.Attempts)
}

func TestSeal_ExhaustedLeavesUnsealed(t *testing.T) {
	content := NewMemoryContentStore()
	ledger := &flakyLedger{MemoryLedger: NewMemoryLedger()}
	ledger.failures.Store(100)
	s := newTestSealer(t, content, ledger)

	out, err := s.Seal(context.Background(), testReport())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSealing)

	var serr *SealingError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StepLedger, serr.Step)
	assert.Equal(t, 3, serr.Attempts)

	require.NotNil(t, out)
	assert.False(t, out.Integrity.Sealed)
	assert.Contains(t, out.Integrity.LastError, "ledger unavailable")
	assert.NotEmpty(t, out.Integrity.ContentReference, "completed steps are kept")
	assert.Empty(t, out.Integrity.LedgerReference)
	assert.Empty(t, out.Integrity.Signature)

	// Resealing resumes at the ledger step.
	ledger.failures.Store(0)
	ledger.calls.Store(0)
	resealed, err := s.Seal(context.Background(), out)
	require.NoError(t, err)
	assert.True(t, resealed.Integrity.Sealed)
	assert.Equal(t, out.Integrity.ContentReference, resealed.Integrity.ContentReference)
	assert.Equal(t, int32(1), ledger.calls.Load())
}

func TestSeal_ContextCancelledDuringBackoff(t *testing.T) {
	ledger := &flakyLedger{MemoryLedger: NewMemoryLedger()}
	ledger.failures.Store(100)
	signer, err := GenerateSigner()
	require.NoError(t, err)
	s := New(NewMemoryContentStore(), ledger, signer, Config{MaxAttempts: 5, Backoff: time.Hour}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Seal(ctx, testReport())
	assert.ErrorIs(t, err, ErrSealing)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestVerify_DetectsTampering(t *testing.T) {
	s := newTestSealer(t, NewMemoryContentStore(), NewMemoryLedger())
	sealed, err := s.Seal(context.Background(), testReport())
	require.NoError(t, err)

	tampered := sealed.Clone()
	tampered.Insights[0] = "rewritten"
	v, err := s.Verify(context.Background(), tampered)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.False(t, v.RootMatches)
	assert.False(t, v.SignatureValid)
	assert.False(t, v.ContentMatches)

	recOnly := sealed.Clone()
	recOnly.Recommendations = []string{"not in the root"}
	v, err = s.Verify(context.Background(), recOnly)
	require.NoError(t, err)
	assert.True(t, v.RootMatches)
	assert.False(t, v.ContentMatches)
	assert.False(t, v.Valid)

	unsealed := testReport()
	v, err = s.Verify(context.Background(), unsealed)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Contains(t, v.Problems, "no ledger reference")
}

func TestVerifyIntegrity_Offline(t *testing.T) {
	s := newTestSealer(t, NewMemoryContentStore(), NewMemoryLedger())
	sealed, err := s.Seal(context.Background(), testReport())
	require.NoError(t, err)

	v, err := VerifyIntegrity(sealed)
	require.NoError(t, err)
	assert.True(t, v.RootMatches)
	assert.True(t, v.SignatureValid)
	assert.Empty(t, v.Problems)
	assert.False(t, v.Valid, "stores are not consulted")

	tampered := sealed.Clone()
	other, err := GenerateSigner()
	require.NoError(t, err)
	tampered.Integrity.PublicKey = hex.EncodeToString(other.PublicKey())
	v, err = VerifyIntegrity(tampered)
	require.NoError(t, err)
	assert.True(t, v.RootMatches)
	assert.False(t, v.SignatureValid)
}

func TestLoadOrGenerateSigner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "seal.key")

	first, err := LoadOrGenerateSigner(path)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := LoadOrGenerateSigner(path)
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey(), second.PublicKey())

	sig, err := second.Sign([]byte("root"))
	require.NoError(t, err)
	assert.True(t, VerifySignature(hex.EncodeToString(first.PublicKey()), hex.EncodeToString(sig), []byte("root")))
	assert.False(t, VerifySignature(hex.EncodeToString(first.PublicKey()), hex.EncodeToString(sig), []byte("other")))
	assert.False(t, VerifySignature("zz", "zz", []byte("root")))

	require.NoError(t, os.WriteFile(path, []byte("not hex"), 0o600))
	_, err = LoadOrGenerateSigner(path)
	assert.Error(t, err)
}

func TestMemoryLedger(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	ref, err := l.Submit(ctx, []byte("a"))
	require.NoError(t, err)
	dup, err := l.Submit(ctx, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, ref, dup)

	ok, err := l.Confirm(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Confirm(ctx, "memledger:99")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = l.Fetch(ctx, "garbage")
	assert.ErrorIs(t, err, ErrLedgerNotFound)
}

func TestJetStream_SealAndVerify(t *testing.T) {
	nc := bus.StartTestServer(t)

	ledger, err := NewJetStreamLedger(nc, "TEST_LEDGER")
	require.NoError(t, err)
	content, err := NewObjectContentStore(nc, "test-reports")
	require.NoError(t, err)

	// Rebinding to existing resources succeeds.
	_, err = NewJetStreamLedger(nc, "TEST_LEDGER")
	require.NoError(t, err)
	_, err = NewObjectContentStore(nc, "test-reports")
	require.NoError(t, err)

	s := newTestSealer(t, content, ledger)
	ctx := context.Background()

	sealed, err := s.Seal(ctx, testReport())
	require.NoError(t, err)
	assert.Equal(t, "TEST_LEDGER/1", sealed.Integrity.LedgerReference)

	v, err := s.Verify(ctx, sealed)
	require.NoError(t, err)
	assert.True(t, v.Valid, v.Problems)

	// The same payload is deduplicated by message id.
	payload, err := ledger.Fetch(ctx, sealed.Integrity.LedgerReference)
	require.NoError(t, err)
	ref, err := ledger.Submit(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, sealed.Integrity.LedgerReference, ref)

	ok, err := ledger.Confirm(ctx, "TEST_LEDGER/42")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = content.Get(ctx, "test-reports/"+hexSum([]byte("missing")))
	assert.ErrorIs(t, err, ErrContentNotFound)
	_, err = content.Get(ctx, "other-bucket/x")
	assert.ErrorIs(t, err, ErrContentNotFound)
}
