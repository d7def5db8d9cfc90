package envelope

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKMS records the last call and echoes plaintext back through a trivial
// reversible transform so round trips can be asserted without a real key.
type fakeKMS struct {
	lastEncryptContext map[string]string
	lastDecryptContext map[string]string
	encryptErr         error
	decryptErr         error
}

func (f *fakeKMS) Encrypt(_ context.Context, params *kms.EncryptInput, _ ...func(*kms.Options)) (*kms.EncryptOutput, error) {
	if f.encryptErr != nil {
		return nil, f.encryptErr
	}
	f.lastEncryptContext = params.EncryptionContext
	blob := append([]byte("sealed:"), params.Plaintext...)
	return &kms.EncryptOutput{CiphertextBlob: blob}, nil
}

func (f *fakeKMS) Decrypt(_ context.Context, params *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	if f.decryptErr != nil {
		return nil, f.decryptErr
	}
	f.lastDecryptContext = params.EncryptionContext
	return &kms.DecryptOutput{Plaintext: params.CiphertextBlob[len("sealed:"):]}, nil
}

func TestNewKMSSealerRequiresKeyID(t *testing.T) {
	_, err := NewKMSSealer(&fakeKMS{}, "")
	assert.Error(t, err)
}

func TestKMSSealRoundTrip(t *testing.T) {
	fake := &fakeKMS{}
	sealer, err := NewKMSSealer(fake, "alias/dashborion-sessions")
	require.NoError(t, err)

	ctx := context.Background()
	ectx := map[string]string{
		"service":             "dashborion-auth",
		"purpose":             "session-record",
		"session_hash_prefix": "a1b2c3d4",
	}

	env, err := sealer.Seal(ctx, []byte("payload"), ectx)
	require.NoError(t, err)
	assert.Empty(t, env.Nonce, "KMS envelopes carry only the ciphertext blob")
	assert.Empty(t, env.Tag)
	assert.Equal(t, ectx, fake.lastEncryptContext)

	opened, err := sealer.Open(ctx, env, ectx)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), opened)
	assert.Equal(t, ectx, fake.lastDecryptContext)
}

func TestKMSSealUpstreamFailure(t *testing.T) {
	fake := &fakeKMS{encryptErr: errors.New("connection reset")}
	sealer, err := NewKMSSealer(fake, "alias/dashborion-sessions")
	require.NoError(t, err)

	_, err = sealer.Seal(context.Background(), []byte("payload"), nil)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestKMSOpenFailureMapping(t *testing.T) {
	tests := []struct {
		name       string
		decryptErr error
		want       error
	}{
		{
			name:       "invalid ciphertext maps to integrity",
			decryptErr: &kmstypes.InvalidCiphertextException{},
			want:       ErrIntegrity,
		},
		{
			name:       "transport failure maps to upstream",
			decryptErr: errors.New("dial tcp: i/o timeout"),
			want:       ErrUpstream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealer, err := NewKMSSealer(&fakeKMS{decryptErr: tt.decryptErr}, "alias/dashborion-sessions")
			require.NoError(t, err)

			env := &Envelope{Ciphertext: base64.StdEncoding.EncodeToString([]byte("sealed:payload"))}
			_, err = sealer.Open(context.Background(), env, nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestKMSOpenRejectsMalformedEnvelope(t *testing.T) {
	sealer, err := NewKMSSealer(&fakeKMS{}, "alias/dashborion-sessions")
	require.NoError(t, err)

	_, err = sealer.Open(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrIntegrity)

	_, err = sealer.Open(context.Background(), &Envelope{Ciphertext: "!!!"}, nil)
	assert.ErrorIs(t, err, ErrIntegrity)
}
