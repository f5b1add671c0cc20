package target

import (
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestGenerateKeyPair(t *testing.T) {
	pubKey, privKey, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NotEmpty(t, pubKey)
	require.NotEmpty(t, privKey)

	block, _ := pem.Decode(privKey)
	require.NotNil(t, block, "private key must be valid PEM")
	assert.Equal(t, "PRIVATE KEY", block.Type)

	parsed, _, _, _, err := ssh.ParseAuthorizedKey(pubKey)
	require.NoError(t, err, "public key must be valid OpenSSH format")
	assert.Equal(t, "ssh-ed25519", parsed.Type())
}

func TestGenerateKeyPairUniqueness(t *testing.T) {
	pub1, priv1, err := GenerateKeyPair()
	require.NoError(t, err)
	pub2, priv2, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.NotEqual(t, pub1, pub2)
	assert.NotEqual(t, priv1, priv2)
}

func TestParsePrivateKey(t *testing.T) {
	_, privKey, err := GenerateKeyPair()
	require.NoError(t, err)

	signer, err := ParsePrivateKey(privKey)
	require.NoError(t, err)
	assert.Equal(t, "ssh-ed25519", signer.PublicKey().Type())

	_, err = ParsePrivateKey([]byte("not a key"))
	assert.Error(t, err)
}

func TestSaveKeyPair(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	pubKey, privKey, err := GenerateKeyPair()
	require.NoError(t, err)

	require.NoError(t, SaveKeyPair(dir, privKey, pubKey))

	info, err := os.Stat(filepath.Join(dir, "ssh_key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := os.ReadFile(filepath.Join(dir, "ssh_key"))
	require.NoError(t, err)
	assert.Equal(t, privKey, loaded)
}

func TestCredentialsMethods(t *testing.T) {
	_, privKey, err := GenerateKeyPair()
	require.NoError(t, err)

	keyFile := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyFile, privKey, 0600))

	tests := []struct {
		name    string
		creds   Credentials
		methods int
		wantErr bool
	}{
		{"inline pem", Credentials{KeyPEM: string(privKey)}, 1, false},
		{"key path", Credentials{KeyPath: keyFile}, 1, false},
		{"password only", Credentials{Password: "hunter2"}, 1, false},
		{"key and password", Credentials{KeyPEM: string(privKey), Password: "hunter2"}, 2, false},
		{"nothing", Credentials{}, 0, true},
		{"bad pem", Credentials{KeyPEM: "garbage"}, 0, true},
		{"missing key file", Credentials{KeyPath: "/nonexistent/key"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			methods, err := tt.creds.Methods()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, methods, tt.methods)
		})
	}
}

func TestCredentialsMerge(t *testing.T) {
	fallback := Credentials{KeyPath: "/etc/termgate/key"}

	merged := Credentials{}.Merge(fallback)
	assert.Equal(t, fallback, merged)

	own := Credentials{Password: "hunter2"}
	assert.Equal(t, own, own.Merge(fallback))
}

func TestClientConfig(t *testing.T) {
	_, privKey, err := GenerateKeyPair()
	require.NoError(t, err)

	tgt := Target{Host: "10.0.0.4", Port: 22, User: "deploy"}
	cfg, err := ClientConfig(tgt, Credentials{KeyPEM: string(privKey)}, "", 10*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "deploy", cfg.User)
	assert.Len(t, cfg.Auth, 1)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.NotNil(t, cfg.HostKeyCallback)
}

func TestClientConfigNoAuth(t *testing.T) {
	tgt := Target{Host: "h", Port: 22, User: "u"}
	_, err := ClientConfig(tgt, Credentials{}, "", time.Second)
	assert.Error(t, err)
}
