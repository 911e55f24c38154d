package sealer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// ledgerDedupWindow bounds how long JetStream remembers a submission id.
	ledgerDedupWindow = 24 * time.Hour
	requestTimeout    = 5 * time.Second
)

// bounded applies requestTimeout when ctx carries no deadline.
func bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, requestTimeout)
}

// JetStreamLedger records sealing payloads in a JetStream stream. Each
// payload is published with its digest as the message id, so retried
// submissions are acknowledged with the original sequence.
type JetStreamLedger struct {
	js      nats.JetStreamContext
	stream  string
	subject string
}

// NewJetStreamLedger binds to stream, creating it when missing.
func NewJetStreamLedger(nc *nats.Conn, stream string) (*JetStreamLedger, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	subject := strings.ToLower(stream) + ".entries"
	_, err = js.AddStream(&nats.StreamConfig{
		Name:       stream,
		Subjects:   []string{subject},
		Storage:    nats.FileStorage,
		Duplicates: ledgerDedupWindow,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, fmt.Errorf("create ledger stream %s: %w", stream, err)
	}
	return &JetStreamLedger{js: js, stream: stream, subject: subject}, nil
}

// Submit publishes payload and returns "<stream>/<sequence>".
func (l *JetStreamLedger) Submit(ctx context.Context, payload []byte) (string, error) {
	ctx, cancel := bounded(ctx)
	defer cancel()
	ack, err := l.js.Publish(l.subject, payload, nats.MsgId(hexSum(payload)), nats.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("ledger publish: %w", err)
	}
	return l.stream + "/" + strconv.FormatUint(ack.Sequence, 10), nil
}

// Confirm reports whether ref names a stored ledger message.
func (l *JetStreamLedger) Confirm(ctx context.Context, ref string) (bool, error) {
	_, err := l.Fetch(ctx, ref)
	if errors.Is(err, ErrLedgerNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Fetch returns the payload stored under ref.
func (l *JetStreamLedger) Fetch(ctx context.Context, ref string) ([]byte, error) {
	stream, seqText, ok := strings.Cut(ref, "/")
	if !ok || stream != l.stream {
		return nil, fmt.Errorf("%w: malformed reference %q", ErrLedgerNotFound, ref)
	}
	seq, err := strconv.ParseUint(seqText, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed reference %q", ErrLedgerNotFound, ref)
	}
	ctx, cancel := bounded(ctx)
	defer cancel()
	msg, err := l.js.GetMsg(l.stream, seq, nats.Context(ctx))
	if errors.Is(err, nats.ErrMsgNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrLedgerNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger get %s: %w", ref, err)
	}
	return msg.Data, nil
}

// ObjectContentStore keeps report content in a JetStream object store
// bucket, named by content digest.
type ObjectContentStore struct {
	obs    nats.ObjectStore
	bucket string
}

// NewObjectContentStore binds to bucket, creating it when missing.
func NewObjectContentStore(nc *nats.Conn, bucket string) (*ObjectContentStore, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	obs, err := js.ObjectStore(bucket)
	if err != nil {
		obs, err = js.CreateObjectStore(&nats.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "sealed cognition report content",
			Storage:     nats.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("create object store %s: %w", bucket, err)
		}
	}
	return &ObjectContentStore{obs: obs, bucket: bucket}, nil
}

// Put stores content and returns "<bucket>/<sha256>".
func (s *ObjectContentStore) Put(ctx context.Context, content []byte) (string, error) {
	name := hexSum(content)
	ctx, cancel := bounded(ctx)
	defer cancel()
	if _, err := s.obs.PutBytes(name, content, nats.Context(ctx)); err != nil {
		return "", fmt.Errorf("object put: %w", err)
	}
	return s.bucket + "/" + name, nil
}

// Get returns the content stored under ref.
func (s *ObjectContentStore) Get(ctx context.Context, ref string) ([]byte, error) {
	bucket, name, ok := strings.Cut(ref, "/")
	if !ok || bucket != s.bucket {
		return nil, fmt.Errorf("%w: malformed reference %q", ErrContentNotFound, ref)
	}
	ctx, cancel := bounded(ctx)
	defer cancel()
	b, err := s.obs.GetBytes(name, nats.Context(ctx))
	if errors.Is(err, nats.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrContentNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("object get %s: %w", ref, err)
	}
	return b, nil
}
