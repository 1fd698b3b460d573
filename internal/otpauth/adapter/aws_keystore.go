package adapter

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/aelexs/otp-auth/internal/auth"
	"github.com/aelexs/otp-auth/internal/domain"
)

// smClient is the narrow consumer-defined interface for Secrets Manager operations.
type smClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ssmClient is the narrow consumer-defined interface for SSM Parameter Store operations.
type ssmClient interface {
	GetParameter(ctx context.Context, params *awsssm.GetParameterInput, optFns ...func(*awsssm.Options)) (*awsssm.GetParameterOutput, error)
	GetParametersByPath(ctx context.Context, params *awsssm.GetParametersByPathInput, optFns ...func(*awsssm.Options)) (*awsssm.GetParametersByPathOutput, error)
}

// Compile-time check: AWSKeyStore implements auth.KeyStore.
var _ auth.KeyStore = (*AWSKeyStore)(nil)

const (
	defaultKeyParamPrefix  = "/otp-auth/jwt"
	defaultKeySecretPrefix = "otp-auth/jwt/signing-key/"
	defaultKeyCacheTTL     = 5 * time.Minute
	defaultKidCooldown     = 30 * time.Second
)

// AWSKeyStoreConfig locates the token keys in AWS.
//
// Layout under ParamPrefix:
//
//	{prefix}/current-key-id        active signing key ID
//	{prefix}/public-keys/{kid}     PEM public key per kid
//
// The private key for kid lives in Secrets Manager at SecretPrefix+kid.
type AWSKeyStoreConfig struct {
	SecretsManager smClient
	SSM            ssmClient
	Clock          domain.Clock
	ParamPrefix    string
	SecretPrefix   string
	CacheTTL       time.Duration
	KidCooldown    time.Duration
}

// AWSKeyStore implements auth.KeyStore with the signing key from Secrets
// Manager and verification keys from SSM Parameter Store.
//
// The signing key is loaded once at construction; the service does not
// start without it. Public keys are cached and refreshed lazily on read:
// when the cache is stale, or at most once per cooldown for an unknown kid.
type AWSKeyStore struct {
	ssm         ssmClient
	clock       domain.Clock
	publicPath  string
	cacheTTL    time.Duration
	kidCooldown time.Duration

	privateKey *rsa.PrivateKey
	keyID      string

	mu         sync.RWMutex
	publicKeys map[string]*rsa.PublicKey
	loadedAt   time.Time
	lastMissAt time.Time
}

// NewAWSKeyStore loads the current signing key and all public keys.
func NewAWSKeyStore(ctx context.Context, cfg AWSKeyStoreConfig) (*AWSKeyStore, error) {
	if cfg.ParamPrefix == "" {
		cfg.ParamPrefix = defaultKeyParamPrefix
	}
	if cfg.SecretPrefix == "" {
		cfg.SecretPrefix = defaultKeySecretPrefix
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultKeyCacheTTL
	}
	if cfg.KidCooldown <= 0 {
		cfg.KidCooldown = defaultKidCooldown
	}
	prefix := strings.TrimSuffix(cfg.ParamPrefix, "/")

	currentKeyPath := prefix + "/current-key-id"
	param, err := cfg.SSM.GetParameter(ctx, &awsssm.GetParameterInput{Name: aws.String(currentKeyPath)})
	if err != nil {
		return nil, fmt.Errorf("fetch current key ID: %w", err)
	}
	if param.Parameter == nil || aws.ToString(param.Parameter.Value) == "" {
		return nil, fmt.Errorf("SSM parameter %s has no value: %w", currentKeyPath, domain.ErrConfigRequired)
	}
	keyID := aws.ToString(param.Parameter.Value)

	pemData, err := LoadSecret(ctx, cfg.SecretsManager, cfg.SecretPrefix+keyID)
	if err != nil {
		return nil, fmt.Errorf("fetch signing key %q: %w", keyID, err)
	}
	privateKey, err := auth.ParseRSAPrivateKeyPEM([]byte(pemData.Expose()))
	if err != nil {
		return nil, fmt.Errorf("parse signing key %q: %w", keyID, err)
	}

	ks := &AWSKeyStore{
		ssm:         cfg.SSM,
		clock:       cfg.Clock,
		publicPath:  prefix + "/public-keys/",
		cacheTTL:    cfg.CacheTTL,
		kidCooldown: cfg.KidCooldown,
		privateKey:  privateKey,
		keyID:       keyID,
	}
	if err := ks.refresh(ctx, false); err != nil {
		return nil, err
	}
	return ks, nil
}

// SigningKey returns the signing key loaded at startup.
func (ks *AWSKeyStore) SigningKey() (*rsa.PrivateKey, string, error) {
	return ks.privateKey, ks.keyID, nil
}

// PublicKey returns the verification key for kid.
//
// auth.KeyStore carries no context, so refreshes run under
// context.Background().
func (ks *AWSKeyStore) PublicKey(kid string) (*rsa.PublicKey, error) {
	now := ks.clock.Now()

	ks.mu.RLock()
	pk, ok := ks.publicKeys[kid]
	stale := now.Sub(ks.loadedAt) > ks.cacheTTL
	coolingDown := now.Sub(ks.lastMissAt) <= ks.kidCooldown
	ks.mu.RUnlock()

	switch {
	case ok && !stale:
		return pk, nil
	case !ok && !stale && coolingDown:
		return nil, fmt.Errorf("unknown key ID %q: %w", kid, domain.ErrNotFound)
	}

	if err := ks.refresh(context.Background(), !ok); err != nil {
		return nil, err
	}

	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if pk, ok := ks.publicKeys[kid]; ok {
		return pk, nil
	}
	return nil, fmt.Errorf("unknown key ID %q: %w", kid, domain.ErrNotFound)
}

// refresh reloads every public key under the SSM path. miss records the
// call against the unknown-kid cooldown.
func (ks *AWSKeyStore) refresh(ctx context.Context, miss bool) error {
	keys := make(map[string]*rsa.PublicKey)
	input := &awsssm.GetParametersByPathInput{
		Path:      aws.String(ks.publicPath),
		Recursive: aws.Bool(true),
	}
	for {
		out, err := ks.ssm.GetParametersByPath(ctx, input)
		if err != nil {
			return fmt.Errorf("load public keys from %s: %w", ks.publicPath, err)
		}
		for _, p := range out.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}
			kid := strings.TrimPrefix(*p.Name, ks.publicPath)
			pk, err := auth.ParseRSAPublicKeyPEM([]byte(*p.Value))
			if err != nil {
				return fmt.Errorf("parse public key %q: %w", kid, err)
			}
			keys[kid] = pk
		}
		if aws.ToString(out.NextToken) == "" {
			break
		}
		input.NextToken = out.NextToken
	}

	now := ks.clock.Now()
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.publicKeys = keys
	ks.loadedAt = now
	if miss {
		ks.lastMissAt = now
	}
	return nil
}

// LoadSecret reads a Secrets Manager secret as a string. Used for the
// signing key, the OTP hash pepper and the app shared secret.
func LoadSecret(ctx context.Context, sm smClient, name string) (domain.SecretString, error) {
	out, err := sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("get secret %q: %w", name, err)
	}
	if aws.ToString(out.SecretString) == "" {
		return "", fmt.Errorf("secret %q is empty: %w", name, domain.ErrConfigRequired)
	}
	return domain.SecretString(*out.SecretString), nil
}
