package target

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Key file names written by SaveKeyPair.
const (
	PrivateKeyFile = "ssh_key"
	PublicKeyFile  = "ssh_key.pub"
)

// Credentials holds the authentication material for a target.
// Resolution order: inline PEM, then key path, then password.
type Credentials struct {
	KeyPath  string `yaml:"key_path" json:"key_path,omitempty"`
	KeyPEM   string `yaml:"key_pem" json:"-"`
	Password string `yaml:"password" json:"-"`
}

// Empty reports whether no authentication material is present
func (c Credentials) Empty() bool {
	return c.KeyPath == "" && c.KeyPEM == "" && c.Password == ""
}

// Merge fills missing fields from fallback credentials
func (c Credentials) Merge(fallback Credentials) Credentials {
	if c.Empty() {
		return fallback
	}
	return c
}

// Methods converts the credentials into SSH auth methods
func (c Credentials) Methods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if c.KeyPEM != "" {
		signer, err := ParsePrivateKey([]byte(c.KeyPEM))
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	} else if c.KeyPath != "" {
		data, err := os.ReadFile(c.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		signer, err := ParsePrivateKey(data)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if c.Password != "" {
		methods = append(methods, ssh.Password(c.Password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication material for target")
	}
	return methods, nil
}

// ClientConfig assembles the ssh.ClientConfig for a target.
// An empty knownHostsPath disables host key verification.
func ClientConfig(t Target, creds Credentials, knownHostsPath string, timeout time.Duration) (*ssh.ClientConfig, error) {
	methods, err := creds.Methods()
	if err != nil {
		return nil, err
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if knownHostsPath != "" {
		cb, err := knownhosts.New(knownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKeys = cb
	}

	return &ssh.ClientConfig{
		User:            t.User,
		Auth:            methods,
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	}, nil
}

// GenerateKeyPair generates an ED25519 key pair and returns the OpenSSH-format
// public key and PEM-encoded private key.
func GenerateKeyPair() (publicKey, privateKeyPEM []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal private key: %w", err)
	}

	privateKeyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privBytes,
	})

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("create ssh public key: %w", err)
	}
	publicKey = ssh.MarshalAuthorizedKey(sshPub)

	return publicKey, privateKeyPEM, nil
}

// SaveKeyPair writes the key files to the given directory.
// The private key is written with mode 0600 and the public key with mode 0644.
func SaveKeyPair(dir string, privateKeyPEM, publicKey []byte) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, PrivateKeyFile), privateKeyPEM, 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, PublicKeyFile), publicKey, 0644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

// ParsePrivateKey parses a PEM-encoded private key into an ssh.Signer
func ParsePrivateKey(privateKeyPEM []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}
