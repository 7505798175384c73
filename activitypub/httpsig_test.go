package activitypub

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"testing"
	"time"
)

// generateTestKeyPair generates an RSA key pair for testing
func generateTestKeyPair() (*rsa.PrivateKey, *rsa.PublicKey, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}
	return privateKey, &privateKey.PublicKey, nil
}

// calculateDigest calculates SHA-256 digest for request body
func calculateDigest(body []byte) string {
	hash := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])
}

// privateKeyToPEM converts private key to PEM string
func privateKeyToPEM(key *rsa.PrivateKey) string {
	keyBytes := x509.MarshalPKCS1PrivateKey(key)
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: keyBytes,
	})
	return string(keyPEM)
}

// publicKeyToPEM converts public key to PEM string
func publicKeyToPEM(key *rsa.PublicKey) (string, error) {
	keyBytes, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: keyBytes,
	})
	return string(keyPEM), nil
}

func TestParsePrivateKey(t *testing.T) {
	privateKey, _, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	pemString := privateKeyToPEM(privateKey)

	parsed, err := ParsePrivateKey(pemString)
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}

	if parsed == nil {
		t.Fatal("ParsePrivateKey returned nil")
	}

	// Verify the key can be used for signing
	if parsed.N.Cmp(privateKey.N) != 0 {
		t.Error("Parsed key doesn't match original")
	}
}

func TestParsePrivateKeyInvalidPEM(t *testing.T) {
	_, err := ParsePrivateKey("not a valid PEM")
	if err == nil {
		t.Error("Expected error for invalid PEM")
	}
}

func TestParsePrivateKeyEmptyString(t *testing.T) {
	_, err := ParsePrivateKey("")
	if err == nil {
		t.Error("Expected error for empty string")
	}
}

func TestParsePublicKey(t *testing.T) {
	_, publicKey, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	pemString, err := publicKeyToPEM(publicKey)
	if err != nil {
		t.Fatalf("Failed to convert public key to PEM: %v", err)
	}

	parsed, err := ParsePublicKey(pemString)
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}

	if parsed == nil {
		t.Fatal("ParsePublicKey returned nil")
	}

	// Verify the key matches
	if parsed.N.Cmp(publicKey.N) != 0 {
		t.Error("Parsed key doesn't match original")
	}
}

func TestParsePublicKeyInvalidPEM(t *testing.T) {
	_, err := ParsePublicKey("not a valid PEM")
	if err == nil {
		t.Error("Expected error for invalid PEM")
	}
}

func TestParsePublicKeyEmptyString(t *testing.T) {
	_, err := ParsePublicKey("")
	if err == nil {
		t.Error("Expected error for empty string")
	}
}

func TestVerifyRequestKeyIdExtraction(t *testing.T) {
	privateKey, publicKey, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	publicPEM, err := publicKeyToPEM(publicKey)
	if err != nil {
		t.Fatalf("Failed to convert public key to PEM: %v", err)
	}

	// Create and sign a request
	body := []byte(`{"type":"Create"}`)
	req, err := http.NewRequest("POST", "https://example.com/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", "example.com")
	// Calculate and set digest
	req.Header.Set("Digest", calculateDigest(body))

	keyId := "https://myserver.com/users/alice#main-key"

	err = SignRequest(req, privateKey, keyId)
	if err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}

	// For verification, we need to recreate the request with the body
	// because SignRequest consumes it
	req2, err := http.NewRequest("POST", "https://example.com/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to recreate request: %v", err)
	}
	// Copy headers from signed request
	req2.Header = req.Header.Clone()

	// Verify the request
	actorURI, err := VerifyRequest(req2, publicPEM)
	if err != nil {
		t.Fatalf("VerifyRequest failed: %v", err)
	}

	expectedActor := "https://myserver.com/users/alice"
	if actorURI != expectedActor {
		t.Errorf("Expected actor URI '%s', got '%s'", expectedActor, actorURI)
	}
}

func TestVerifyRequestInvalidSignature(t *testing.T) {
	// Generate two different key pairs
	privateKey1, _, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair 1: %v", err)
	}

	_, publicKey2, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair 2: %v", err)
	}

	publicPEM2, err := publicKeyToPEM(publicKey2)
	if err != nil {
		t.Fatalf("Failed to convert public key to PEM: %v", err)
	}

	// Sign with privateKey1
	body := []byte(`{"type":"Create"}`)
	req, err := http.NewRequest("POST", "https://example.com/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", "example.com")
	req.Header.Set("Digest", calculateDigest(body))

	keyId := "https://myserver.com/users/alice#main-key"

	err = SignRequest(req, privateKey1, keyId)
	if err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}

	// Recreate request with body for verification
	req2, err := http.NewRequest("POST", "https://example.com/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to recreate request: %v", err)
	}
	req2.Header = req.Header.Clone()

	// Try to verify with publicKey2 (should fail)
	_, err = VerifyRequest(req2, publicPEM2)
	if err == nil {
		t.Error("Expected verification to fail with wrong public key")
	}
}

func TestVerifyRequestInvalidPEM(t *testing.T) {
	req, err := http.NewRequest("POST", "https://example.com/inbox", nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	_, err = VerifyRequest(req, "invalid PEM")
	if err == nil {
		t.Error("Expected error with invalid PEM")
	}
}

func TestVerifyRequestEmptyPEM(t *testing.T) {
	req, err := http.NewRequest("POST", "https://example.com/inbox", nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	_, err = VerifyRequest(req, "")
	if err == nil {
		t.Error("Expected error with empty PEM")
	}
}

func TestSignAndVerifyRoundtrip(t *testing.T) {
	privateKey, publicKey, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	publicPEM, err := publicKeyToPEM(publicKey)
	if err != nil {
		t.Fatalf("Failed to convert public key to PEM: %v", err)
	}

	tests := []struct {
		name   string
		method string
		url    string
		body   []byte
	}{
		{
			name:   "POST with body",
			method: "POST",
			url:    "https://example.com/inbox",
			body:   []byte(`{"type":"Create","object":{}}`),
		},
		{
			name:   "GET without body",
			method: "GET",
			url:    "https://example.com/users/alice",
			body:   nil,
		},
		{
			name:   "POST to different path",
			method: "POST",
			url:    "https://example.com/users/bob/inbox",
			body:   []byte(`{"type":"Follow"}`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			var err error

			if tt.body != nil {
				req, err = http.NewRequest(tt.method, tt.url, bytes.NewReader(tt.body))
				if err != nil {
					t.Fatalf("Failed to create request: %v", err)
				}
				req.Header.Set("Digest", calculateDigest(tt.body))
			} else {
				req, err = http.NewRequest(tt.method, tt.url, nil)
				if err != nil {
					t.Fatalf("Failed to create request: %v", err)
				}
				req.Header.Set("Digest", calculateDigest([]byte{}))
			}

			req.Header.Set("Content-Type", "application/activity+json")
			req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
			req.Header.Set("Host", "example.com")

			keyId := "https://myserver.com/users/testuser#main-key"

			// Sign the request
			err = SignRequest(req, privateKey, keyId)
			if err != nil {
				t.Fatalf("SignRequest failed: %v", err)
			}

			// Recreate request with body for verification
			var req2 *http.Request
			if tt.body != nil {
				req2, err = http.NewRequest(tt.method, tt.url, bytes.NewReader(tt.body))
			} else {
				req2, err = http.NewRequest(tt.method, tt.url, nil)
			}
			if err != nil {
				t.Fatalf("Failed to recreate request: %v", err)
			}
			req2.Header = req.Header.Clone()

			// Verify the request
			actorURI, err := VerifyRequest(req2, publicPEM)
			if err != nil {
				t.Fatalf("VerifyRequest failed: %v", err)
			}

			expectedActor := "https://myserver.com/users/testuser"
			if actorURI != expectedActor {
				t.Errorf("Expected actor URI '%s', got '%s'", expectedActor, actorURI)
			}
		})
	}
}

func TestKeyIdWithoutFragment(t *testing.T) {
	privateKey, publicKey, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	publicPEM, err := publicKeyToPEM(publicKey)
	if err != nil {
		t.Fatalf("Failed to convert public key to PEM: %v", err)
	}

	body := []byte(`{"type":"Create"}`)
	req, err := http.NewRequest("POST", "https://example.com/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", "example.com")
	req.Header.Set("Digest", calculateDigest(body))

	// keyId without #fragment
	keyId := "https://myserver.com/users/alice"

	err = SignRequest(req, privateKey, keyId)
	if err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}

	// Recreate request with body for verification
	req2, err := http.NewRequest("POST", "https://example.com/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to recreate request: %v", err)
	}
	req2.Header = req.Header.Clone()

	actorURI, err := VerifyRequest(req2, publicPEM)
	if err != nil {
		t.Fatalf("VerifyRequest failed: %v", err)
	}

	// Should still extract the actor URI correctly
	if actorURI != keyId {
		t.Errorf("Expected actor URI '%s', got '%s'", keyId, actorURI)
	}
}

// signMessageSignature builds a Signature-Input/Signature header pair
// over the given request the way our verifier reconstructs it.
func signMessageSignature(t *testing.T, req *http.Request, privateKey *rsa.PrivateKey, keyId string) {
	t.Helper()

	components := []string{"@method", "@authority", "date"}
	params := `created=1700000000;keyid="` + keyId + `";alg="rsa-v1_5-sha256"`

	var base bytes.Buffer
	for _, component := range components {
		var value string
		switch component {
		case "@method":
			value = req.Method
		case "@authority":
			value = req.Host
		default:
			value = req.Header.Get(component)
		}
		fmt.Fprintf(&base, "%q: %s\n", component, value)
	}
	fmt.Fprintf(&base, "%q: %s", "@signature-params",
		`("@method" "@authority" "date");`+params)

	hashed := sha256.Sum256(base.Bytes())
	signature, err := rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, hashed[:])
	if err != nil {
		t.Fatalf("Failed to sign: %v", err)
	}

	req.Header.Set("Signature-Input", `sig1=("@method" "@authority" "date");`+params)
	req.Header.Set("Signature", "sig1=:"+base64.StdEncoding.EncodeToString(signature)+":")
}

func TestVerifyRequestMessageSignature(t *testing.T) {
	privateKey, publicKey, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	publicPEM, err := publicKeyToPEM(publicKey)
	if err != nil {
		t.Fatalf("Failed to convert public key to PEM: %v", err)
	}

	req, err := http.NewRequest("POST", "https://example.com/inbox", bytes.NewReader([]byte(`{"type":"Create"}`)))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Host = "example.com"
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	keyId := "https://myserver.com/users/alice#main-key"
	signMessageSignature(t, req, privateKey, keyId)

	actorURI, err := VerifyRequest(req, publicPEM)
	if err != nil {
		t.Fatalf("VerifyRequest failed: %v", err)
	}
	if actorURI != "https://myserver.com/users/alice" {
		t.Errorf("Expected actor URI 'https://myserver.com/users/alice', got '%s'", actorURI)
	}
}

func TestVerifyRequestMessageSignatureTampered(t *testing.T) {
	privateKey, publicKey, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	publicPEM, err := publicKeyToPEM(publicKey)
	if err != nil {
		t.Fatalf("Failed to convert public key to PEM: %v", err)
	}

	req, err := http.NewRequest("POST", "https://example.com/inbox", nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Host = "example.com"
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	signMessageSignature(t, req, privateKey, "https://myserver.com/users/alice#main-key")

	// Change a covered header after signing.
	req.Header.Set("Date", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))

	if _, err := VerifyRequest(req, publicPEM); err == nil {
		t.Error("Expected verification to fail for tampered request")
	}
}

func TestVerifyRequestMessageSignatureWrongKey(t *testing.T) {
	privateKey, _, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair 1: %v", err)
	}
	_, otherPublicKey, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair 2: %v", err)
	}
	otherPEM, err := publicKeyToPEM(otherPublicKey)
	if err != nil {
		t.Fatalf("Failed to convert public key to PEM: %v", err)
	}

	req, err := http.NewRequest("POST", "https://example.com/inbox", nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Host = "example.com"
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	signMessageSignature(t, req, privateKey, "https://myserver.com/users/alice#main-key")

	if _, err := VerifyRequest(req, otherPEM); err == nil {
		t.Error("Expected verification to fail with wrong public key")
	}
}

func TestParseSignatureInputMalformed(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"no equals", "sig1"},
		{"no component list", "sig1=created=123"},
		{"unclosed list", `sig1=("@method"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, _, err := parseSignatureInput(tt.header); err == nil {
				t.Errorf("Expected error for %q", tt.header)
			}
		})
	}
}

func TestCheckDigest(t *testing.T) {
	body := []byte(`{"type":"Create"}`)

	if err := CheckDigest(calculateDigest(body), body); err != nil {
		t.Errorf("Expected matching digest to pass: %v", err)
	}

	if err := CheckDigest(calculateDigest(body), []byte("tampered")); err == nil {
		t.Error("Expected mismatched digest to fail")
	}

	if err := CheckDigest("", body); err != nil {
		t.Errorf("Expected absent digest header to pass: %v", err)
	}

	if err := CheckDigest("MD5=abc", body); err == nil {
		t.Error("Expected unsupported algorithm to fail")
	}
}
