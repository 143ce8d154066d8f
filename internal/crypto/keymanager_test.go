package crypto

import (
	"os"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	require.Equal(t, testKeyHex, got)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	_, err := EncryptKey(testKeyHex, "")
	require.Error(t, err)

	_, err = EncryptKey("not-hex", "hunter2")
	require.Error(t, err)

	_, err = EncryptKey("abcd", "hunter2")
	require.Error(t, err)
}

func TestLoadECDSAKeyFromEncryptedFile(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "relay_key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	key, err := LoadECDSAKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)

	want, err := ethcrypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	require.Equal(t, want.D, key.D)
}

func TestLoadKeyRawTakesPrecedence(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex, EncryptedKeyPath: "/does/not/exist"})
	require.NoError(t, err)
	require.Equal(t, testKeyHex, got)

	_, err = LoadKey(KeyConfig{})
	require.Error(t, err)
}
