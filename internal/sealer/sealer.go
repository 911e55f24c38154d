// Package sealer makes cognition reports tamper-evident.
//
// Sealing computes a merkle root over a report's canonical leaves, stores
// the report content, records {merkle_root, content_reference} on a ledger
// and signs the root. Each step is skipped when the report already carries
// its result, so resealing a partially sealed report resumes where the last
// attempt stopped.
package sealer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/while-basic/celaya-parachain-sub000/internal/report"
)

// ErrSealing matches SealingError.
var ErrSealing = errors.New("report sealing failed")

// Step names one sealing step.
type Step string

const (
	StepContent Step = "content"
	StepLedger  Step = "ledger"
	StepSign    Step = "sign"
)

// SealingError reports a step whose attempts were exhausted.
type SealingError struct {
	Step     Step
	Attempts int
	Err      error
}

func (e *SealingError) Error() string {
	return fmt.Sprintf("sealing step %s failed after %d attempts: %v", e.Step, e.Attempts, e.Err)
}

func (e *SealingError) Unwrap() error { return e.Err }

func (e *SealingError) Is(target error) bool { return target == ErrSealing }

// Config holds retry settings.
type Config struct {
	MaxAttempts int
	Backoff     time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff < 0 {
		c.Backoff = 0
	}
}

// ledgerPayload is what the ledger records for a report.
type ledgerPayload struct {
	MerkleRoot       string `json:"merkle_root"`
	ContentReference string `json:"content_reference"`
}

// sealInput is computed once per result and reused across retries and
// reseals until the result is fully sealed. Both fields are pure functions
// of the report, so a later reseal recomputes the same values.
type sealInput struct {
	root    string
	content []byte
}

// Sealer seals and verifies reports.
type Sealer struct {
	content ContentStore
	ledger  Ledger
	signer  Signer
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics

	mu     sync.Mutex
	inputs map[string]sealInput
}

// New creates a sealer.
func New(content ContentStore, ledger Ledger, signer Signer, cfg Config, logger *zap.Logger) *Sealer {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	return &Sealer{
		content: content,
		ledger:  ledger,
		signer:  signer,
		cfg:     cfg,
		logger:  logger,
		metrics: NewMetrics(logger),
		inputs:  make(map[string]sealInput),
	}
}

// Content returns the canonical content bytes of r: the report with its
// integrity block and version cleared.
func Content(r *report.Report) ([]byte, error) {
	c := r.Unsealed()
	c.Version = 0
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding report content: %w", err)
	}
	return b, nil
}

func inputKey(r *report.Report) string {
	return r.ExecutionID + "/" + r.ResultID
}

func (s *Sealer) input(r *report.Report) (sealInput, error) {
	key := inputKey(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if in, ok := s.inputs[key]; ok {
		return in, nil
	}
	root, err := MerkleRoot(r)
	if err != nil {
		return sealInput{}, err
	}
	content, err := Content(r)
	if err != nil {
		return sealInput{}, err
	}
	in := sealInput{root: root, content: content}
	s.inputs[key] = in
	return in, nil
}

// Seal returns a copy of r with its integrity block filled in. When a step
// exhausts its attempts the copy is returned unsealed, with LastError set,
// alongside a *SealingError.
func (s *Sealer) Seal(ctx context.Context, r *report.Report) (*report.Report, error) {
	begin := time.Now()
	out := r.Clone()
	logger := s.logger.With(zap.String("execution_id", r.ExecutionID), zap.Int("version", r.Version))

	in, err := s.input(r)
	if err != nil {
		return out, &SealingError{Step: StepContent, Err: err}
	}
	out.Integrity.MerkleRoot = in.root

	err = s.seal(ctx, out, in, logger)
	if err != nil {
		out.Integrity.Sealed = false
		out.Integrity.LastError = err.Error()
		logger.Error("report left unsealed", zap.Error(err), zap.Int("attempts", out.Integrity.Attempts))
	} else {
		out.Integrity.Sealed = true
		out.Integrity.LastError = ""
		s.mu.Lock()
		delete(s.inputs, inputKey(r))
		s.mu.Unlock()
		logger.Info("report sealed",
			zap.String("merkle_root", in.root),
			zap.String("ledger_reference", out.Integrity.LedgerReference),
			zap.Int("attempts", out.Integrity.Attempts))
	}
	s.metrics.sealed(ctx, time.Since(begin), err == nil)
	return out, err
}

func (s *Sealer) seal(ctx context.Context, out *report.Report, in sealInput, logger *zap.Logger) error {
	ig := &out.Integrity

	if ig.ContentReference == "" {
		ref, err := s.retry(ctx, StepContent, ig, logger, func() (string, error) {
			return s.content.Put(ctx, in.content)
		})
		if err != nil {
			return err
		}
		ig.ContentReference = ref
	}

	if ig.LedgerReference == "" {
		payload, err := json.Marshal(ledgerPayload{MerkleRoot: in.root, ContentReference: ig.ContentReference})
		if err != nil {
			return &SealingError{Step: StepLedger, Err: err}
		}
		ref, err := s.retry(ctx, StepLedger, ig, logger, func() (string, error) {
			ref, err := s.ledger.Submit(ctx, payload)
			if err != nil {
				return "", err
			}
			ok, err := s.ledger.Confirm(ctx, ref)
			if err != nil {
				return "", fmt.Errorf("confirm %s: %w", ref, err)
			}
			if !ok {
				return "", fmt.Errorf("ledger did not confirm %s", ref)
			}
			return ref, nil
		})
		if err != nil {
			return err
		}
		ig.LedgerReference = ref
	}

	if ig.Signature == "" {
		sig, err := s.retry(ctx, StepSign, ig, logger, func() (string, error) {
			b, err := s.signer.Sign([]byte(in.root))
			if err != nil {
				return "", err
			}
			return hex.EncodeToString(b), nil
		})
		if err != nil {
			return err
		}
		ig.Signature = sig
		ig.PublicKey = hex.EncodeToString(s.signer.PublicKey())
	}
	return nil
}

// retry runs op up to MaxAttempts times with a fixed backoff between attempts.
func (s *Sealer) retry(ctx context.Context, step Step, ig *report.Integrity, logger *zap.Logger, op func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		ig.Attempts++
		v, err := op()
		if err == nil {
			s.metrics.attempt(ctx, step, "ok")
			if attempt > 1 {
				logger.Info("sealing step recovered after retries", zap.String("step", string(step)), zap.Int("attempt", attempt))
			}
			return v, nil
		}
		lastErr = err
		s.metrics.attempt(ctx, step, "error")
		logger.Warn("sealing step failed",
			zap.String("step", string(step)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.cfg.MaxAttempts),
			zap.Error(err))

		if attempt == s.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", &SealingError{Step: step, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(s.cfg.Backoff):
		}
	}
	return "", &SealingError{Step: step, Attempts: s.cfg.MaxAttempts, Err: lastErr}
}

// Verification is the outcome of checking a sealed report.
type Verification struct {
	MerkleRoot      string   `json:"merkle_root"`
	RootMatches     bool     `json:"root_matches"`
	SignatureValid  bool     `json:"signature_valid"`
	ContentMatches  bool     `json:"content_matches"`
	LedgerConfirmed bool     `json:"ledger_confirmed"`
	Valid           bool     `json:"valid"`
	Problems        []string `json:"problems,omitempty"`
}

// VerifyIntegrity recomputes the root and checks the signature without
// consulting any store. Content and ledger checks are left unset.
func VerifyIntegrity(r *report.Report) (*Verification, error) {
	v := &Verification{}
	ig := r.Integrity

	root, err := MerkleRoot(r)
	if err != nil {
		return nil, err
	}
	v.MerkleRoot = root
	v.RootMatches = root == ig.MerkleRoot
	if !v.RootMatches {
		v.Problems = append(v.Problems, fmt.Sprintf("merkle root mismatch: recorded %q, computed %q", ig.MerkleRoot, root))
	}

	v.SignatureValid = VerifySignature(ig.PublicKey, ig.Signature, []byte(root))
	if !v.SignatureValid {
		v.Problems = append(v.Problems, "signature does not verify against the computed root")
	}
	return v, nil
}

// Verify recomputes the root, checks the signature, compares stored content
// and confirms the ledger entry. Store failures are returned as errors;
// mismatches are reported as problems.
func (s *Sealer) Verify(ctx context.Context, r *report.Report) (*Verification, error) {
	v, err := VerifyIntegrity(r)
	if err != nil {
		return nil, err
	}
	ig := r.Integrity
	root := v.MerkleRoot

	if ig.ContentReference == "" {
		v.Problems = append(v.Problems, "no content reference")
	} else {
		stored, err := s.content.Get(ctx, ig.ContentReference)
		switch {
		case errors.Is(err, ErrContentNotFound):
			v.Problems = append(v.Problems, "content not found: "+ig.ContentReference)
		case err != nil:
			return nil, fmt.Errorf("fetching content: %w", err)
		default:
			want, err := Content(r)
			if err != nil {
				return nil, err
			}
			v.ContentMatches = bytes.Equal(stored, want)
			if !v.ContentMatches {
				v.Problems = append(v.Problems, "stored content differs from report")
			}
		}
	}

	if ig.LedgerReference == "" {
		v.Problems = append(v.Problems, "no ledger reference")
	} else {
		ok, err := s.ledger.Confirm(ctx, ig.LedgerReference)
		if err != nil {
			return nil, fmt.Errorf("confirming ledger entry: %w", err)
		}
		v.LedgerConfirmed = ok
		if !ok {
			v.Problems = append(v.Problems, "ledger entry not found: "+ig.LedgerReference)
		} else if lr, isReader := s.ledger.(LedgerReader); isReader {
			if payload, err := lr.Fetch(ctx, ig.LedgerReference); err == nil {
				var p ledgerPayload
				if json.Unmarshal(payload, &p) != nil || p.MerkleRoot != root || p.ContentReference != ig.ContentReference {
					v.LedgerConfirmed = false
					v.Problems = append(v.Problems, "ledger payload does not match report")
				}
			}
		}
	}

	v.Valid = v.RootMatches && v.SignatureValid && v.ContentMatches && v.LedgerConfirmed
	return v, nil
}
