package wallet

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
)

func TestHmacKeyJSONRoundTrip(t *testing.T) {
	var key HmacKey
	_, err := rand.Read(key[:])
	require.NoError(t, err)

	data, err := json.Marshal(key)
	require.NoError(t, err)

	var decoded HmacKey
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, key, decoded)
}

func TestHmacKeyJSONRoundTripZeroValue(t *testing.T) {
	var key HmacKey
	data, err := json.Marshal(key)
	require.NoError(t, err)

	var decoded HmacKey
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, key, decoded)
}

func testRootKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	root, err := ecdsa.GenerateKey(btcec.S256(), rand.Reader)
	require.NoError(t, err)
	return root
}

func TestPublicKeychainJSONRoundTrip(t *testing.T) {
	root := testRootKey(t)
	keychain, err := DeriveKeychain(root, scalar.FromUint64(7))
	require.NoError(t, err)

	data, err := json.Marshal(keychain.Public)
	require.NoError(t, err)

	var decoded PublicKeychain
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.True(t, decoded.PkRoot.X.Cmp(keychain.Public.PkRoot.X) == 0)
	require.True(t, decoded.PkRoot.Y.Cmp(keychain.Public.PkRoot.Y) == 0)
	require.Equal(t, keychain.Public.PkMatch, decoded.PkMatch)
	require.Equal(t, keychain.Public.Nonce, decoded.Nonce)
}

func TestPrivateKeychainJSONRoundTrip(t *testing.T) {
	root := testRootKey(t)
	keychain, err := DeriveKeychain(root, scalar.FromUint64(9))
	require.NoError(t, err)

	data, err := json.Marshal(keychain.Private)
	require.NoError(t, err)

	var decoded PrivateKeychain
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.True(t, decoded.SkRoot.D.Cmp(keychain.Private.SkRoot.D) == 0)
	require.True(t, decoded.SkRoot.PublicKey.X.Cmp(keychain.Private.SkRoot.PublicKey.X) == 0)
	require.True(t, decoded.SkRoot.PublicKey.Y.Cmp(keychain.Private.SkRoot.PublicKey.Y) == 0)
	require.Equal(t, keychain.Private.SkMatch, decoded.SkMatch)
	require.Equal(t, keychain.Private.SymmetricKey, decoded.SymmetricKey)
}

func TestPublicKeychainJSONRoundTripZeroRoot(t *testing.T) {
	k := PublicKeychain{PkMatch: scalar.FromUint64(1), Nonce: scalar.FromUint64(2)}

	data, err := json.Marshal(k)
	require.NoError(t, err)

	var decoded PublicKeychain
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Nil(t, decoded.PkRoot.X)
	require.Nil(t, decoded.PkRoot.Y)
	require.Equal(t, k.PkMatch, decoded.PkMatch)
}

func TestDeriveKeychainDiffersAcrossNonce(t *testing.T) {
	root := testRootKey(t)
	k1, err := DeriveKeychain(root, scalar.FromUint64(1))
	require.NoError(t, err)
	k2, err := DeriveKeychain(root, scalar.FromUint64(2))
	require.NoError(t, err)

	require.NotEqual(t, k1.Public.PkMatch, k2.Public.PkMatch)
	require.NotEqual(t, k1.Private.SymmetricKey, k2.Private.SymmetricKey)
}
