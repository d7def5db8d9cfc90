package envelope

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// KMSAPI is the subset of the KMS client used by the sealer.
type KMSAPI interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSSealer delegates encryption to AWS KMS. The encryption context
// (service name, purpose, truncated session hash) is enforced by KMS
// itself: a ciphertext cannot be decrypted outside its original context.
type KMSSealer struct {
	client KMSAPI
	keyID  string
}

// NewKMSSealer creates a sealer over the given KMS key.
func NewKMSSealer(client KMSAPI, keyID string) (*KMSSealer, error) {
	if keyID == "" {
		return nil, fmt.Errorf("KMS key ID is required")
	}
	return &KMSSealer{client: client, keyID: keyID}, nil
}

// Backend returns the metrics label for this implementation
func (s *KMSSealer) Backend() string {
	return "kms"
}

// Seal encrypts plaintext via the KMS Encrypt API.
func (s *KMSSealer) Seal(ctx context.Context, plaintext []byte, ectx map[string]string) (*Envelope, error) {
	out, err := s.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             aws.String(s.keyID),
		Plaintext:         plaintext,
		EncryptionContext: ectx,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: kms encrypt: %v", ErrUpstream, err)
	}

	return &Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(out.CiphertextBlob),
	}, nil
}

// Open decrypts an envelope via the KMS Decrypt API. An invalid-ciphertext
// response (tampered blob or wrong encryption context) maps to ErrIntegrity;
// any other failure is an upstream fault.
func (s *KMSSealer) Open(ctx context.Context, env *Envelope, ectx map[string]string) ([]byte, error) {
	if env == nil {
		return nil, ErrIntegrity
	}

	blob, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, ErrIntegrity
	}

	out, err := s.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:             aws.String(s.keyID),
		CiphertextBlob:    blob,
		EncryptionContext: ectx,
	})
	if err != nil {
		var invalid *kmstypes.InvalidCiphertextException
		if errors.As(err, &invalid) {
			return nil, ErrIntegrity
		}
		return nil, fmt.Errorf("%w: kms decrypt: %v", ErrUpstream, err)
	}

	return out.Plaintext, nil
}
