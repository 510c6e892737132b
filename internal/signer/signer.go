// Package signer wraps the single private key the searcher submits
// transactions with. Loading follows the teacher's cmd/main.go flow:
// ENC_PK and KEY come from the environment (godotenv-loaded .env in
// development), and util.Decrypt(key, encryptedPk) recovers the raw hex
// private key before it is ever parsed into an *ecdsa.PrivateKey. The key
// itself never leaves this package: Address() and SignTx() are the only
// exported surface.
package signer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	coretypes "github.com/mev-labs/searcher-core/internal/types"
)

// Signer holds one loaded private key and signs type-2 transactions.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// Decrypt reverses a key AES-GCM-encrypted by the operator's key-management
// tooling, mirroring the teacher's internal/util.Decrypt([]byte(key),
// encryptedPk) shape: key is a 32-byte AES key, ciphertext is
// nonce||sealed.
func Decrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", err)
	}
	return plain, nil
}

// FromHex parses a raw hex private key (the decrypted output of Decrypt, or
// a key read directly from an already-secure source) into a Signer.
func FromHex(hexKey string, chainID *big.Int) (*Signer, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, coretypes.Wrap(coretypes.ErrSignatureFailure, fmt.Errorf("parse private key: %w", err))
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}, nil
}

func (s *Signer) Address() common.Address { return s.address }

// SignTx signs a type-2 (EIP-1559) transaction with this signer's key.
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signer := types.NewLondonSigner(s.chainID)
	signed, err := types.SignTx(tx, signer, s.key)
	if err != nil {
		return nil, coretypes.Wrap(coretypes.ErrSignatureFailure, err)
	}
	return signed, nil
}
