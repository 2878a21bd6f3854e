// Package signer attaches the payer signature to built transactions.
// It is the only package that touches key material.
package signer

import (
	"context"
	"fmt"
	"sync"

	solana "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"solana-swap-engine/internal/domain"
)

// Signer signs transactions with a credential opened per call.
// Calls are serialized.
type Signer struct {
	mu     sync.Mutex
	source Source
	pub    solana.PublicKey
	logger *zap.Logger

	// onClose observes wiped credentials in tests.
	onClose func(*Credential)
}

// New opens the source once to learn the payer identity, then wipes the key.
func New(ctx context.Context, source Source, logger *zap.Logger) (*Signer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cred, err := source.Open(ctx)
	if err != nil {
		return nil, err
	}
	pub := cred.PublicKey()
	cred.Close()

	if err := domain.ValidateWallet(pub.String()); err != nil {
		return nil, fmt.Errorf("signer identity: %w", err)
	}
	return &Signer{source: source, pub: pub, logger: logger}, nil
}

// PublicKey is the payer identity. It carries no key material.
func (s *Signer) PublicKey() solana.PublicKey {
	return s.pub
}

// Sign signs utx and serializes it. The credential is wiped before Sign returns.
func (s *Signer) Sign(ctx context.Context, utx *domain.UnsignedTransaction) (*domain.SignedTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewError(domain.KindCanceled, "sign", err)
	}
	if utx == nil || utx.Tx == nil {
		return nil, domain.NewError(domain.KindSigningFailed, "no transaction", nil)
	}
	if !utx.Payer.Equals(s.pub) {
		return nil, domain.Errorf(domain.KindSigningFailed, "payer %s is not the signer identity", utx.Payer)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.source.Open(ctx)
	if err != nil {
		return nil, domain.NewError(domain.KindSigningFailed, "open credential", err)
	}
	defer s.closeCredential(cred)

	if !cred.PublicKey().Equals(s.pub) {
		return nil, domain.NewError(domain.KindSigningFailed, "credential identity changed", nil)
	}

	_, err = utx.Tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.pub) {
			return &cred.key
		}
		return nil
	})
	if err != nil {
		return nil, domain.NewError(domain.KindSigningFailed, "sign message", err)
	}

	wire, err := utx.Tx.MarshalBinary()
	if err != nil {
		return nil, domain.NewError(domain.KindSigningFailed, "serialize", err)
	}
	if len(wire) > domain.MaxTransactionSize {
		return nil, domain.Errorf(domain.KindSigningFailed,
			"transaction is %d bytes, limit %d", len(wire), domain.MaxTransactionSize)
	}

	sig := utx.Tx.Signatures[0].String()
	s.logger.Debug("signer.signed", zap.String("signature", sig), zap.Int("size", len(wire)))

	return &domain.SignedTransaction{
		Signature:  sig,
		Wire:       wire,
		Payer:      s.pub.String(),
		OutputMint: utx.OutputMint,
		Context:    utx.Context,
	}, nil
}

func (s *Signer) closeCredential(c *Credential) {
	c.Close()
	if s.onClose != nil {
		s.onClose(c)
	}
}
