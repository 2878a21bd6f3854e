package signer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-swap-engine/internal/domain"
)

const keyVar = "SWAP_SIGNER_TEST_KEY"

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

func unsigned(t *testing.T, payer solana.PublicKey, dataSize, count int) *domain.UnsignedTransaction {
	t.Helper()
	program := solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")
	var instrs []solana.Instruction
	for i := 0; i < count; i++ {
		instrs = append(instrs, solana.NewInstruction(program, solana.AccountMetaSlice{
			{PublicKey: payer, IsSigner: true, IsWritable: true},
		}, make([]byte, dataSize)))
	}
	tx, err := solana.NewTransaction(instrs, solana.Hash{9}, solana.TransactionPayer(payer))
	require.NoError(t, err)
	return &domain.UnsignedTransaction{
		Tx:      tx,
		Payer:   payer,
		Context: domain.ChainContext{Blockhash: solana.Hash{9}.String(), LastValidBlockHeight: 300},
	}
}

func TestSigner_Sign(t *testing.T) {
	key := newKey(t)
	t.Setenv(keyVar, key.String())

	s, err := New(context.Background(), EnvSource{Var: keyVar}, nil)
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), s.PublicKey())

	var closed []*Credential
	s.onClose = func(c *Credential) { closed = append(closed, c) }

	utx := unsigned(t, s.PublicKey(), 8, 1)
	signed, err := s.Sign(context.Background(), utx)
	require.NoError(t, err)

	require.NoError(t, utx.Tx.VerifySignatures())
	assert.Equal(t, utx.Tx.Signatures[0].String(), signed.Signature)
	assert.Equal(t, uint64(300), signed.Context.LastValidBlockHeight)
	assert.LessOrEqual(t, len(signed.Wire), domain.MaxTransactionSize)

	require.Len(t, closed, 1)
	assert.True(t, closed[0].wiped())
}

func TestSigner_OversizedFailsAndWipes(t *testing.T) {
	key := newKey(t)
	t.Setenv(keyVar, key.String())

	s, err := New(context.Background(), EnvSource{Var: keyVar}, nil)
	require.NoError(t, err)
	var closed []*Credential
	s.onClose = func(c *Credential) { closed = append(closed, c) }

	_, err = s.Sign(context.Background(), unsigned(t, s.PublicKey(), 400, 4))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSigningFailed)
	assert.Contains(t, err.Error(), "limit 1232")

	require.Len(t, closed, 1)
	assert.True(t, closed[0].wiped())
}

func TestSigner_RejectsForeignPayer(t *testing.T) {
	t.Setenv(keyVar, newKey(t).String())
	s, err := New(context.Background(), EnvSource{Var: keyVar}, nil)
	require.NoError(t, err)

	_, err = s.Sign(context.Background(), unsigned(t, newKey(t).PublicKey(), 8, 1))
	assert.ErrorIs(t, err, domain.ErrSigningFailed)

	_, err = s.Sign(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrSigningFailed)
}

func TestSigner_CredentialRemoved(t *testing.T) {
	t.Setenv(keyVar, newKey(t).String())
	s, err := New(context.Background(), EnvSource{Var: keyVar}, nil)
	require.NoError(t, err)

	require.NoError(t, os.Unsetenv(keyVar))
	_, err = s.Sign(context.Background(), unsigned(t, s.PublicKey(), 8, 1))
	assert.ErrorIs(t, err, domain.ErrSigningFailed)
	assert.ErrorIs(t, err, ErrCredentialUnavailable)
}

func TestSigner_Canceled(t *testing.T) {
	t.Setenv(keyVar, newKey(t).String())
	s, err := New(context.Background(), EnvSource{Var: keyVar}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Sign(ctx, unsigned(t, s.PublicKey(), 8, 1))
	assert.ErrorIs(t, err, domain.ErrCanceled)
}

func TestSigner_Serialized(t *testing.T) {
	src := &countingSource{key: newKey(t)}
	s, err := New(context.Background(), src, nil)
	require.NoError(t, err)
	src.reset()
	s.onClose = func(*Credential) { src.closed() }

	txs := make([]*domain.UnsignedTransaction, 8)
	for i := range txs {
		txs[i] = unsigned(t, s.PublicKey(), 8, 1)
	}

	var wg sync.WaitGroup
	for _, utx := range txs {
		wg.Add(1)
		go func(utx *domain.UnsignedTransaction) {
			defer wg.Done()
			_, err := s.Sign(context.Background(), utx)
			assert.NoError(t, err)
		}(utx)
	}
	wg.Wait()
	assert.Equal(t, 1, src.maxOpen)
	assert.Equal(t, 0, src.open)
}

type countingSource struct {
	mu      sync.Mutex
	key     solana.PrivateKey
	open    int
	maxOpen int
}

func (c *countingSource) Open(context.Context) (*Credential, error) {
	c.mu.Lock()
	c.open++
	if c.open > c.maxOpen {
		c.maxOpen = c.open
	}
	c.mu.Unlock()

	raw := make([]byte, len(c.key))
	copy(raw, c.key)
	return newCredential(raw)
}

func (c *countingSource) reset() {
	c.mu.Lock()
	c.open, c.maxOpen = 0, 0
	c.mu.Unlock()
}

func (c *countingSource) closed() {
	c.mu.Lock()
	c.open--
	c.mu.Unlock()
}

func TestEnvSource_Malformed(t *testing.T) {
	t.Setenv(keyVar, "0OIl")
	_, err := EnvSource{Var: keyVar}.Open(context.Background())
	require.ErrorIs(t, err, ErrCredentialUnavailable)
	assert.NotContains(t, err.Error(), "0OIl")

	t.Setenv(keyVar, solana.NewWallet().PublicKey().String())
	_, err = EnvSource{Var: keyVar}.Open(context.Background())
	assert.ErrorIs(t, err, ErrCredentialUnavailable)
}

func TestNewCredential_RejectsMismatchedHalves(t *testing.T) {
	key := newKey(t)
	raw := make([]byte, len(key))
	copy(raw, key)
	raw[40] ^= 0xff

	_, err := newCredential(raw)
	require.ErrorIs(t, err, ErrCredentialUnavailable)
	assert.Equal(t, make([]byte, len(raw)), raw)
}

func TestKeypairFileSource(t *testing.T) {
	key := newKey(t)
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	content, err := json.Marshal(ints)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cred, err := KeypairFileSource{Path: path}.Open(context.Background())
	require.NoError(t, err)
	defer cred.Close()
	assert.Equal(t, key.PublicKey(), cred.PublicKey())

	require.NoError(t, os.WriteFile(path, []byte(`[1, 2, 300]`), 0o600))
	_, err = KeypairFileSource{Path: path}.Open(context.Background())
	assert.ErrorIs(t, err, ErrCredentialUnavailable)

	_, err = KeypairFileSource{Path: filepath.Join(t.TempDir(), "missing.json")}.Open(context.Background())
	assert.ErrorIs(t, err, ErrCredentialUnavailable)
}

type fakeSecrets struct {
	out *secretsmanager.GetSecretValueOutput
	err error
}

func (f *fakeSecrets) GetSecretValue(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return f.out, f.err
}

func TestSecretsManagerSource(t *testing.T) {
	key := newKey(t)
	asJSON := `{"private_key":"` + key.String() + `"}`
	plain := key.String()
	wrongField := `{"other":"x"}`

	tests := []struct {
		name    string
		out     *secretsmanager.GetSecretValueOutput
		err     error
		wantErr bool
	}{
		{"json field", &secretsmanager.GetSecretValueOutput{SecretString: &asJSON}, nil, false},
		{"plain base58", &secretsmanager.GetSecretValueOutput{SecretString: &plain}, nil, false},
		{"binary", &secretsmanager.GetSecretValueOutput{SecretBinary: append([]byte{}, key...)}, nil, false},
		{"missing field", &secretsmanager.GetSecretValueOutput{SecretString: &wrongField}, nil, true},
		{"empty", &secretsmanager.GetSecretValueOutput{}, nil, true},
		{"fetch error", nil, errors.New("AccessDenied"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &SecretsManagerSource{Client: &fakeSecrets{out: tt.out, err: tt.err}, SecretID: "swap/payer", Field: "private_key"}
			cred, err := src.Open(context.Background())
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrCredentialUnavailable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, key.PublicKey(), cred.PublicKey())
			cred.Close()
			assert.True(t, cred.wiped())
		})
	}
}
