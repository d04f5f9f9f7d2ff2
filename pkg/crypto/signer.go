package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/zeebo/blake3"
)

var ErrInvalidSignature = errors.New("invalid signature")

// artifactKey separates artifact digests from any other BLAKE3 use. It is
// the ASCII domain name zero-padded to 32 bytes.
var artifactKey = [32]byte{
	'm', 'u', 'l', 'e', '_', 'a', 'n', 'a', 'l', 'y', 'z', 'e', 'r', '.',
	'a', 'r', 't', 'i', 'f', 'a', 'c', 't',
}

// Signer signs artifact digests and manifests with HMAC-SHA256.
type Signer struct {
	secretKey []byte
	logger    *slog.Logger
}

func NewSigner(secretKey string, logger *slog.Logger) *Signer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signer{
		secretKey: []byte(secretKey),
		logger:    logger,
	}
}

// Enabled reports whether a key was configured. Without one, signatures
// are empty.
func (s *Signer) Enabled() bool {
	return len(s.secretKey) > 0
}

func (s *Signer) Sign(data []byte) string {
	if !s.Enabled() {
		return ""
	}
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write(data)
	signature := mac.Sum(nil)
	return hex.EncodeToString(signature)
}

func (s *Signer) Verify(data []byte, signature string) (bool, error) {
	expectedSignature := s.Sign(data)

	if !hmac.Equal([]byte(expectedSignature), []byte(signature)) {
		s.logger.Warn("Signature verification failed",
			slog.Int("data_bytes", len(data)))
		return false, ErrInvalidSignature
	}

	return true, nil
}

func (s *Signer) SignArtifact(name, digest string, size int64) string {
	data := fmt.Sprintf("%s:%s:%d", name, digest, size)
	return s.Sign([]byte(data))
}

func (s *Signer) VerifyArtifact(name, digest string, size int64, signature string) (bool, error) {
	data := fmt.Sprintf("%s:%s:%d", name, digest, size)
	return s.Verify([]byte(data), signature)
}

// Digest returns the hex keyed BLAKE3 digest of r and the number of bytes
// read.
func Digest(r io.Reader) (string, int64, error) {
	hasher, err := blake3.NewKeyed(artifactKey[:])
	if err != nil {
		return "", 0, fmt.Errorf("failed to init hasher: %w", err)
	}
	n, err := io.Copy(hasher, r)
	if err != nil {
		return "", n, fmt.Errorf("failed to hash: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

func DigestFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return Digest(f)
}
