package encryption

import (
	"context"
	"encoding/base64"
	"errors"

	vaulterrors "github.com/flow-hydraulics/credential-vault/errors"
	"github.com/flow-hydraulics/credential-vault/keys"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.uber.org/ratelimit"
)

const tracerName = "github.com/flow-hydraulics/credential-vault/keys/encryption"

var (
	ErrMissingKey    = errors.New("no encryption key for user")
	ErrUnexpectedKey = errors.New("insecure codec cannot seal values for a keyed user")
)

var encoding = base64.StdEncoding

var (
	_ Codec = (*KMSCodec)(nil)
	_ Codec = (*InsecureCodec)(nil)
)

// KMSCodec seals payloads with the key management service and stores the
// ciphertext base64 encoded.
type KMSCodec struct {
	kms     keys.KMS
	limiter ratelimit.Limiter
}

type CodecOption func(*KMSCodec)

// WithRateLimiter throttles the requests sent to the key management service.
func WithRateLimiter(limiter ratelimit.Limiter) CodecOption {
	return func(c *KMSCodec) {
		c.limiter = limiter
	}
}

func NewKMSCodec(kms keys.KMS, opts ...CodecOption) *KMSCodec {
	c := &KMSCodec{kms: kms, limiter: ratelimit.NewUnlimited()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *KMSCodec) Encrypt(ctx context.Context, ref *keys.Ref, plaintext []byte) ([]byte, error) {
	if ref == nil {
		return nil, &vaulterrors.KeyManagementError{Op: "encrypt", Err: ErrMissingKey}
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "kms.encrypt")
	defer span.End()

	c.limiter.Take()
	ciphertext, err := c.kms.EncryptSymmetric(ctx, *ref, plaintext)
	if err != nil {
		span.RecordError(err)
		return nil, asKeyManagementError("encrypt", ref, err)
	}

	out := make([]byte, encoding.EncodedLen(len(ciphertext)))
	encoding.Encode(out, ciphertext)
	return out, nil
}

func (c *KMSCodec) Decrypt(ctx context.Context, ref *keys.Ref, stored []byte) ([]byte, error) {
	if ref == nil {
		return nil, &vaulterrors.KeyManagementError{Op: "decrypt", Err: ErrMissingKey}
	}

	ciphertext, err := decode(stored)
	if err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "kms.decrypt")
	defer span.End()

	c.limiter.Take()
	plaintext, err := c.kms.DecryptSymmetric(ctx, *ref, ciphertext)
	if err != nil {
		span.RecordError(err)
		return nil, asKeyManagementError("decrypt", ref, err)
	}

	return plaintext, nil
}

// InsecureCodec only base64 encodes payloads. It exists for local
// development where no key management service is available.
type InsecureCodec struct{}

func NewInsecureCodec() *InsecureCodec {
	log.Warn("Using the insecure codec, stored credentials are NOT encrypted")
	return &InsecureCodec{}
}

func (InsecureCodec) Encrypt(ctx context.Context, ref *keys.Ref, plaintext []byte) ([]byte, error) {
	if ref != nil {
		return nil, ErrUnexpectedKey
	}
	out := make([]byte, encoding.EncodedLen(len(plaintext)))
	encoding.Encode(out, plaintext)
	return out, nil
}

func (InsecureCodec) Decrypt(ctx context.Context, ref *keys.Ref, stored []byte) ([]byte, error) {
	if ref != nil {
		return nil, ErrUnexpectedKey
	}
	return decode(stored)
}

// NewCodec returns the insecure codec in local mode and a KMS backed codec
// otherwise.
func NewCodec(local bool, kms keys.KMS, opts ...CodecOption) Codec {
	if local {
		return NewInsecureCodec()
	}
	return NewKMSCodec(kms, opts...)
}

func decode(stored []byte) ([]byte, error) {
	out := make([]byte, encoding.DecodedLen(len(stored)))
	n, err := encoding.Decode(out, stored)
	if err != nil {
		return nil, &vaulterrors.EncodingError{Err: err}
	}
	return out[:n], nil
}

func asKeyManagementError(op string, ref *keys.Ref, err error) error {
	var kmErr *vaulterrors.KeyManagementError
	if errors.As(err, &kmErr) {
		return err
	}
	return &vaulterrors.KeyManagementError{Op: op, Key: ref.ResourceName(), Err: err}
}
