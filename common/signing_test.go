package common

import (
	"crypto/rand"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEthSign(t *testing.T) {
	privateKeyHex := "4c0883a69102937d6231471b5dbb6204fe5129617082790e20c3a52a9e7efed2"
	authToken := make([]byte, 32)
	_, err := rand.Read(authToken)
	assert.NoError(t, err, "Error generating authToken")

	messageHash, signature, err := EthSign(privateKeyHex, authToken)
	assert.NoError(t, err, "Error during EthSign")
	assert.Equal(t, accounts.TextHash(authToken), messageHash)

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	assert.NoError(t, err, "Error converting private key")

	err = VerifyEthSignature(&privateKey.PublicKey, messageHash, signature)
	assert.NoError(t, err, "Signature verification failed")
}

func TestPersonalSignRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	msg := []byte("federated round 7")

	sig, err := PersonalSign(key, msg)
	require.NoError(t, err)
	require.Len(t, sig, SignatureLength)
	assert.Contains(t, []byte{27, 28}, sig[64], "wallet-style V")

	who, err := RecoverPersonal(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, PubkeyToAddress(key.PublicKey), who)

	other, err := RecoverPersonal([]byte("tampered"), sig)
	require.NoError(t, err)
	assert.NotEqual(t, who, other)

	_, err = RecoverPersonal(msg, sig[:64])
	assert.Error(t, err)
}
