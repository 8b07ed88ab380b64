package common

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

const SignatureLength = crypto.SignatureLength

// PersonalSign produces the 65-byte recoverable signature a wallet returns for
// personal_sign: keccak256 over the EIP-191 prefixed message, V in {27, 28}.
func PersonalSign(privateKey *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	signature, err := crypto.Sign(accounts.TextHash(message), privateKey)
	if err != nil {
		return nil, fmt.Errorf("error signing the hash: %v", err)
	}
	signature[crypto.RecoveryIDOffset] += 27
	return signature, nil
}

// EthSign signs the given message using the provided private key in hex format.
// It returns the message hash, the 65-byte signature, and any error encountered.
func EthSign(privateKeyHex string, message []byte) ([]byte, []byte, error) {
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, nil, fmt.Errorf("error converting private key: %v", err)
	}
	signature, err := PersonalSign(privateKey, message)
	if err != nil {
		return nil, nil, err
	}
	return accounts.TextHash(message), signature, nil
}

// RecoverPersonal returns the address that produced a personal_sign signature over message.
func RecoverPersonal(message, signature []byte) (Address, error) {
	if len(signature) != SignatureLength {
		return Address{}, fmt.Errorf("invalid signature length %d", len(signature))
	}
	sig := bytes.Clone(signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return Address{}, errors.New("error recovering public key from signature")
	}
	return Address(crypto.PubkeyToAddress(*pub)), nil
}

// VerifyEthSignature verifies the Ethereum signature against the provided public key and message hash.
// Returns an error if the signature is invalid or does not match.
func VerifyEthSignature(publicKey *ecdsa.PublicKey, messageHash, signature []byte) error {
	if len(signature) != SignatureLength {
		return fmt.Errorf("invalid signature length %d", len(signature))
	}
	sig := bytes.Clone(signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	recoveredPubKey, err := crypto.SigToPub(messageHash, sig)
	if err != nil {
		return errors.New("error recovering public key from signature")
	}

	sigPublicKeyBytes := crypto.FromECDSAPub(recoveredPubKey)
	publicKeyBytes := crypto.FromECDSAPub(publicKey)
	if !bytes.Equal(sigPublicKeyBytes, publicKeyBytes) {
		return errors.New("public key does not match")
	}

	signatureNoRecoverID := sig[:len(sig)-1] // remove recovery id
	if !crypto.VerifySignature(publicKeyBytes, messageHash, signatureNoRecoverID) {
		return errors.New("signature verification failed")
	}
	return nil
}

// PubkeyToAddress derives the H160 account of a secp256k1 key.
func PubkeyToAddress(pub ecdsa.PublicKey) Address {
	return Address(crypto.PubkeyToAddress(pub))
}
