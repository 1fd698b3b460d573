package adapter

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/domain/domaintest"
)

type stubSMClient struct {
	secrets map[string]string
	err     error
}

func (s *stubSMClient) GetSecretValue(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if s.err != nil {
		return nil, s.err
	}
	v, ok := s.secrets[aws.ToString(params.SecretId)]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

// stubSSMClient serves parameters from a map. GetParametersByPath returns
// one parameter per page to exercise pagination.
type stubSSMClient struct {
	params    map[string]string
	pathCalls int
}

func (s *stubSSMClient) GetParameter(_ context.Context, params *awsssm.GetParameterInput, _ ...func(*awsssm.Options)) (*awsssm.GetParameterOutput, error) {
	v, ok := s.params[aws.ToString(params.Name)]
	if !ok {
		return nil, errors.New("ParameterNotFound")
	}
	return &awsssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Name: params.Name, Value: aws.String(v)}}, nil
}

func (s *stubSSMClient) GetParametersByPath(_ context.Context, params *awsssm.GetParametersByPathInput, _ ...func(*awsssm.Options)) (*awsssm.GetParametersByPathOutput, error) {
	s.pathCalls++
	var names []string
	for name := range s.params {
		if strings.HasPrefix(name, *params.Path) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	start := 0
	if params.NextToken != nil {
		for i, n := range names {
			if n == *params.NextToken {
				start = i
			}
		}
	}
	out := &awsssm.GetParametersByPathOutput{}
	if start < len(names) {
		out.Parameters = []ssmtypes.Parameter{{Name: aws.String(names[start]), Value: aws.String(s.params[names[start]])}}
	}
	if start+1 < len(names) {
		out.NextToken = aws.String(names[start+1])
	}
	return out, nil
}

func pemKeyPair(t *testing.T) (*rsa.PrivateKey, string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	priv := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pub := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return key, string(priv), string(pub)
}

type keystoreFixture struct {
	key   *rsa.PrivateKey
	sm    *stubSMClient
	ssm   *stubSSMClient
	clock *domaintest.FakeClock
}

func newKeystoreFixture(t *testing.T) *keystoreFixture {
	t.Helper()
	key, priv, pub := pemKeyPair(t)
	return &keystoreFixture{
		key: key,
		sm:  &stubSMClient{secrets: map[string]string{"otp-auth/jwt/signing-key/k1": priv}},
		ssm: &stubSSMClient{params: map[string]string{
			"/otp-auth/jwt/current-key-id":  "k1",
			"/otp-auth/jwt/public-keys/k1": pub,
		}},
		clock: domaintest.NewFakeClock(time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)),
	}
}

func (f *keystoreFixture) open(t *testing.T) *AWSKeyStore {
	t.Helper()
	ks, err := NewAWSKeyStore(context.Background(), AWSKeyStoreConfig{
		SecretsManager: f.sm,
		SSM:            f.ssm,
		Clock:          f.clock,
	})
	require.NoError(t, err)
	return ks
}

func TestAWSKeyStore_Load(t *testing.T) {
	t.Run("loads current signing key and its public key", func(t *testing.T) {
		f := newKeystoreFixture(t)
		ks := f.open(t)

		priv, kid, err := ks.SigningKey()
		require.NoError(t, err)
		assert.Equal(t, "k1", kid)
		assert.True(t, f.key.Equal(priv))

		pub, err := ks.PublicKey("k1")
		require.NoError(t, err)
		assert.True(t, f.key.PublicKey.Equal(pub))
	})

	t.Run("follows pagination across public keys", func(t *testing.T) {
		f := newKeystoreFixture(t)
		_, _, pub2 := pemKeyPair(t)
		f.ssm.params["/otp-auth/jwt/public-keys/k0"] = pub2
		ks := f.open(t)

		_, err := ks.PublicKey("k0")
		require.NoError(t, err)
		_, err = ks.PublicKey("k1")
		require.NoError(t, err)
	})

	t.Run("missing current key ID fails startup", func(t *testing.T) {
		f := newKeystoreFixture(t)
		delete(f.ssm.params, "/otp-auth/jwt/current-key-id")
		_, err := NewAWSKeyStore(context.Background(), AWSKeyStoreConfig{SecretsManager: f.sm, SSM: f.ssm, Clock: f.clock})
		assert.ErrorContains(t, err, "current key ID")
	})

	t.Run("unparseable signing key fails startup", func(t *testing.T) {
		f := newKeystoreFixture(t)
		f.sm.secrets["otp-auth/jwt/signing-key/k1"] = "not a pem"
		_, err := NewAWSKeyStore(context.Background(), AWSKeyStoreConfig{SecretsManager: f.sm, SSM: f.ssm, Clock: f.clock})
		assert.ErrorContains(t, err, "parse signing key")
	})

	t.Run("custom prefixes", func(t *testing.T) {
		f := newKeystoreFixture(t)
		_, priv, pub := pemKeyPair(t)
		f.sm.secrets["keys/k9"] = priv
		f.ssm.params["/custom/current-key-id"] = "k9"
		f.ssm.params["/custom/public-keys/k9"] = pub

		ks, err := NewAWSKeyStore(context.Background(), AWSKeyStoreConfig{
			SecretsManager: f.sm,
			SSM:            f.ssm,
			Clock:          f.clock,
			ParamPrefix:    "/custom/",
			SecretPrefix:   "keys/",
		})
		require.NoError(t, err)
		_, kid, _ := ks.SigningKey()
		assert.Equal(t, "k9", kid)
	})
}

func TestAWSKeyStore_Refresh(t *testing.T) {
	t.Run("unknown kid refreshes at most once per cooldown", func(t *testing.T) {
		f := newKeystoreFixture(t)
		ks := f.open(t)
		calls := f.ssm.pathCalls

		_, err := ks.PublicKey("rotated")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Equal(t, calls+1, f.ssm.pathCalls)

		_, err = ks.PublicKey("rotated")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Equal(t, calls+1, f.ssm.pathCalls)

		f.clock.Advance(defaultKidCooldown + time.Second)
		_, _, pub := pemKeyPair(t)
		f.ssm.params["/otp-auth/jwt/public-keys/rotated"] = pub
		_, err = ks.PublicKey("rotated")
		require.NoError(t, err)
	})

	t.Run("known kid is served from cache until stale", func(t *testing.T) {
		f := newKeystoreFixture(t)
		ks := f.open(t)
		calls := f.ssm.pathCalls

		_, err := ks.PublicKey("k1")
		require.NoError(t, err)
		assert.Equal(t, calls, f.ssm.pathCalls)

		f.clock.Advance(defaultKeyCacheTTL + time.Second)
		_, err = ks.PublicKey("k1")
		require.NoError(t, err)
		assert.Equal(t, calls+1, f.ssm.pathCalls)
	})

	t.Run("retired key disappears after refresh", func(t *testing.T) {
		f := newKeystoreFixture(t)
		ks := f.open(t)
		delete(f.ssm.params, "/otp-auth/jwt/public-keys/k1")

		f.clock.Advance(defaultKeyCacheTTL + time.Second)
		_, err := ks.PublicKey("k1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestLoadSecret(t *testing.T) {
	sm := &stubSMClient{secrets: map[string]string{"otp-auth/pepper": "s3cr3t", "otp-auth/empty": ""}}

	v, err := LoadSecret(context.Background(), sm, "otp-auth/pepper")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", v.Expose())
	assert.NotContains(t, v.String(), "s3cr3t")

	_, err = LoadSecret(context.Background(), sm, "otp-auth/empty")
	assert.ErrorIs(t, err, domain.ErrConfigRequired)

	_, err = LoadSecret(context.Background(), sm, "otp-auth/missing")
	assert.ErrorContains(t, err, "otp-auth/missing")
}
