package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// verifyHMACSignature verifies signature against the request body
// using the bucket endpoint's configured secret and algorithm.
//
// This function uses constant-time comparison (crypto/subtle) to
// prevent timing attacks. It supports the signature formats common
// webhook providers use:
//   - "sha256=<hex>" or "sha1=<hex>" (prefixed, GitHub style)
//   - "<hex>" (plain hex, using the endpoint's configured algorithm)
//
// Returns nil if signature is valid, error otherwise. All errors are
// generic to prevent information leakage.
func verifyHMACSignature(body []byte, signature, secret, algorithm string) error {
	if secret == "" {
		return fmt.Errorf("webhook verification failed")
	}
	if signature == "" {
		return fmt.Errorf("webhook verification failed")
	}

	newHash, err := hasherFor(algorithm)
	if err != nil {
		return fmt.Errorf("webhook verification failed")
	}

	actualMAC, prefixAlgo, err := parseSignature(signature)
	if err != nil {
		return fmt.Errorf("webhook verification failed")
	}
	if prefixAlgo != "" {
		newHash, err = hasherFor(prefixAlgo)
		if err != nil {
			return fmt.Errorf("webhook verification failed")
		}
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	expectedMAC := mac.Sum(nil)

	if subtle.ConstantTimeCompare(expectedMAC, actualMAC) != 1 {
		return fmt.Errorf("webhook verification failed")
	}
	return nil
}

// hasherFor resolves an algorithm name to a hash.Hash constructor. ""
// defaults to sha256.
func hasherFor(algorithm string) (func() hash.Hash, error) {
	switch strings.ToLower(algorithm) {
	case "", "sha256":
		return sha256.New, nil
	case "sha1":
		return sha1.New, nil
	default:
		return nil, fmt.Errorf("webhook: unsupported signature algorithm %q", algorithm)
	}
}

// parseSignature extracts and decodes the HMAC signature from various
// formats, also returning the algorithm named by a "sha256="/"sha1="
// prefix if present ("" if the signature was plain hex).
func parseSignature(signature string) ([]byte, string, error) {
	for _, prefix := range []string{"sha256=", "sha1="} {
		if strings.HasPrefix(signature, prefix) {
			algo := strings.TrimSuffix(prefix, "=")
			sig, err := hex.DecodeString(strings.TrimPrefix(signature, prefix))
			return sig, algo, err
		}
	}
	sig, err := hex.DecodeString(signature)
	return sig, "", err
}

// computeExpectedSignature computes the HMAC signature for a body.
// Used for testing and validation. Returns hex-encoded signature.
func computeExpectedSignature(body []byte, secret, algorithm string) string {
	newHash, err := hasherFor(algorithm)
	if err != nil {
		newHash = sha256.New
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// formatGitHubSignature formats a hex signature in GitHub's
// X-Hub-Signature-256 style prefix for the given algorithm.
func formatGitHubSignature(hexSig, algorithm string) string {
	if algorithm == "" {
		algorithm = "sha256"
	}
	return strings.ToLower(algorithm) + "=" + hexSig
}
