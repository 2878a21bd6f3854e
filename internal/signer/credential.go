package signer

import (
	"context"
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	solana "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// ErrCredentialUnavailable is returned when a source cannot produce key material.
var ErrCredentialUnavailable = errors.New("credential unavailable")

// Credential is key material scoped to one signing call.
// The zero value is unusable; Close wipes the key and may be called more than once.
type Credential struct {
	key solana.PrivateKey
}

// newCredential validates a 64-byte ed25519 keypair and takes ownership of raw.
func newCredential(raw []byte) (*Credential, error) {
	if len(raw) != ed25519.PrivateKeySize {
		clear(raw)
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrCredentialUnavailable, ed25519.PrivateKeySize, len(raw))
	}
	derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	ok := subtle.ConstantTimeCompare(derived[ed25519.SeedSize:], raw[ed25519.SeedSize:]) == 1
	clear(derived)
	if !ok {
		clear(raw)
		return nil, fmt.Errorf("%w: public half does not match seed", ErrCredentialUnavailable)
	}
	return &Credential{key: solana.PrivateKey(raw)}, nil
}

// PublicKey returns the identity of the credential.
func (c *Credential) PublicKey() solana.PublicKey {
	return c.key.PublicKey()
}

// Close wipes the key material.
func (c *Credential) Close() {
	if c == nil {
		return
	}
	clear(c.key)
	c.key = nil
}

// wiped reports whether Close has run. Used by tests.
func (c *Credential) wiped() bool {
	return c.key == nil
}

// Source opens a fresh Credential for each signing call.
type Source interface {
	Open(ctx context.Context) (*Credential, error)
}

func decodeBase58Key(s string) (*Credential, error) {
	raw, err := base58.Decode(strings.TrimSpace(s))
	if err != nil {
		// decoder errors quote the offending character
		return nil, fmt.Errorf("%w: malformed base58 key", ErrCredentialUnavailable)
	}
	return newCredential(raw)
}

// EnvSource reads a base58 encoded keypair from an environment variable.
type EnvSource struct {
	Var string
}

// Open implements Source.
func (s EnvSource) Open(context.Context) (*Credential, error) {
	v, ok := os.LookupEnv(s.Var)
	if !ok || v == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrCredentialUnavailable, s.Var)
	}
	return decodeBase58Key(v)
}

// KeypairFileSource reads a solana-keygen JSON keypair file.
type KeypairFileSource struct {
	Path string
}

// Open implements Source.
func (s KeypairFileSource) Open(context.Context) (*Credential, error) {
	content, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: read keypair file: %v", ErrCredentialUnavailable, err)
	}
	defer clear(content)

	var ints []int
	if err := json.Unmarshal(content, &ints); err != nil {
		return nil, fmt.Errorf("%w: keypair file is not a JSON byte array", ErrCredentialUnavailable)
	}
	defer clear(ints)

	raw := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			clear(raw)
			return nil, fmt.Errorf("%w: keypair file holds a non-byte value", ErrCredentialUnavailable)
		}
		raw[i] = byte(v)
	}
	return newCredential(raw)
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerSource fetches the keypair from AWS Secrets Manager on every Open.
// Binary secrets hold the raw 64 bytes; string secrets are either a base58 key
// or a JSON object whose Field holds a base58 key.
type SecretsManagerSource struct {
	Client   SecretsManagerAPI
	SecretID string
	Field    string
}

// NewSecretsManagerSource builds a source using the default AWS credential chain.
func NewSecretsManagerSource(ctx context.Context, region, secretID, field string) (*SecretsManagerSource, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if field == "" {
		field = "private_key"
	}
	return &SecretsManagerSource{
		Client:   secretsmanager.NewFromConfig(cfg),
		SecretID: secretID,
		Field:    field,
	}, nil
}

// Open implements Source.
func (s *SecretsManagerSource) Open(ctx context.Context) (*Credential, error) {
	out, err := s.Client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.SecretID),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: fetch secret [%s]: %v", ErrCredentialUnavailable, s.SecretID, err)
	}

	if len(out.SecretBinary) > 0 {
		raw := make([]byte, len(out.SecretBinary))
		copy(raw, out.SecretBinary)
		clear(out.SecretBinary)
		return newCredential(raw)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("%w: secret [%s] is empty", ErrCredentialUnavailable, s.SecretID)
	}

	value := strings.TrimSpace(*out.SecretString)
	if !strings.HasPrefix(value, "{") {
		return decodeBase58Key(value)
	}
	var fields map[string]string
	if err := json.Unmarshal([]byte(value), &fields); err != nil {
		return nil, fmt.Errorf("%w: invalid secret format for [%s]", ErrCredentialUnavailable, s.SecretID)
	}
	key, ok := fields[s.Field]
	if !ok {
		return nil, fmt.Errorf("%w: secret [%s] has no field %q", ErrCredentialUnavailable, s.SecretID, s.Field)
	}
	return decodeBase58Key(key)
}
