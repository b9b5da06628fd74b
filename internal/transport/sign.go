package transport

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"
)

// HMACSHA256Hex signs payload with secret, hex-encoded. Binance-family.
func HMACSHA256Hex(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// HMACSHA256Base64 signs payload with secret, base64-encoded. OKX, KuCoin,
// Bitget and Coinbase all sign this way over their own prehash strings.
func HMACSHA256Base64(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// NormalizeRSAKey canonicalizes a PEM private key that traveled through an
// environment variable: literal "\n" sequences become newlines and header
// lines are re-broken. Binance RSA API keys routinely arrive mangled.
func NormalizeRSAKey(key string) string {
	key = strings.ReplaceAll(key, `\n`, "\n")
	key = strings.ReplaceAll(key, "\r\n", "\n")
	if !strings.Contains(key, "\n") {
		// Single-line paste: newline-split everything, then repair the
		// spaces that belong inside the armor phrases.
		key = strings.ReplaceAll(key, " ", "\n")
		for _, phrase := range []string{"BEGIN RSA PRIVATE KEY", "END RSA PRIVATE KEY",
			"BEGIN PRIVATE KEY", "END PRIVATE KEY"} {
			key = strings.ReplaceAll(key, strings.ReplaceAll(phrase, " ", "\n"), phrase)
		}
	}
	return strings.TrimSpace(key) + "\n"
}

// RSASHA256Base64 signs payload with a PEM-encoded RSA private key, as
// Binance requires for RSA API keys.
func RSASHA256Base64(pemKey, payload string) (string, error) {
	block, _ := pem.Decode([]byte(NormalizeRSAKey(pemKey)))
	if block == nil {
		return "", fmt.Errorf("rsa key: no PEM block found")
	}
	var priv *rsa.PrivateKey
	if k, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := k.(*rsa.PrivateKey)
		if !ok {
			return "", fmt.Errorf("rsa key: PKCS8 block is not RSA")
		}
		priv = rsaKey
	} else if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		priv = k
	} else {
		return "", fmt.Errorf("rsa key: parse: %w", err)
	}
	digest := sha256.Sum256([]byte(payload))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("rsa sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}
