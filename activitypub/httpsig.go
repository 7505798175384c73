package activitypub

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"

	"code.superseriousbusiness.org/httpsig"
)

// SignRequest signs an outgoing HTTP request with the given private key.
// keyId format: "https://example.com/users/alice#main-key"
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{"(request-target)", "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	return signer.SignRequest(privateKey, keyId, req, nil)
}

// VerifyRequest verifies the HTTP signature on an incoming request.
// Both signature conventions in the wild are accepted: the legacy
// cavage-style Signature header, and the Signature-Input form. Returns
// the key id's actor URI if valid, error otherwise.
func VerifyRequest(req *http.Request, publicKeyPem string) (string, error) {
	rsaPubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}

	if req.Header.Get("Signature-Input") != "" {
		return verifyMessageSignature(req, rsaPubKey)
	}

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to create verifier: %w", err)
	}

	keyId := verifier.KeyId()
	if err := verifier.Verify(rsaPubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}

	// keyId is usually "https://example.com/users/alice#main-key",
	// we want "https://example.com/users/alice"
	return strings.Split(keyId, "#")[0], nil
}

// verifyMessageSignature checks a Signature-Input/Signature pair
// (RFC 9421). Only the rsa-v1_5-sha256 profile is supported, which is
// what the servers sending this form actually use.
func verifyMessageSignature(req *http.Request, pubKey *rsa.PublicKey) (string, error) {
	label, components, params, err := parseSignatureInput(req.Header.Get("Signature-Input"))
	if err != nil {
		return "", err
	}

	signature, err := extractSignature(req.Header.Get("Signature"), label)
	if err != nil {
		return "", err
	}

	base, err := signatureBase(req, components, params)
	if err != nil {
		return "", err
	}

	hashed := sha256.Sum256([]byte(base))
	if err := rsa.VerifyPKCS1v15(pubKey, crypto.SHA256, hashed[:], signature); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}

	keyId := paramValue(params, "keyid")
	if keyId == "" {
		return "", fmt.Errorf("signature input missing keyid")
	}
	return strings.Split(keyId, "#")[0], nil
}

// parseSignatureInput splits `sig1=("@method" "host");created=...;keyid="..."`
// into its label, covered components and parameter string.
func parseSignatureInput(header string) (string, []string, string, error) {
	if header == "" {
		return "", nil, "", fmt.Errorf("empty Signature-Input header")
	}

	label, rest, found := strings.Cut(header, "=")
	if !found {
		return "", nil, "", fmt.Errorf("malformed Signature-Input header")
	}
	label = strings.TrimSpace(label)

	open := strings.Index(rest, "(")
	end := strings.Index(rest, ")")
	if open != 0 || end < open {
		return "", nil, "", fmt.Errorf("malformed component list in Signature-Input")
	}

	var components []string
	for _, entry := range strings.Fields(rest[open+1 : end]) {
		component := strings.Trim(entry, `"`)
		if component == "" {
			return "", nil, "", fmt.Errorf("empty component in Signature-Input")
		}
		components = append(components, component)
	}

	params := strings.TrimPrefix(rest[end+1:], ";")
	return label, components, params, nil
}

// extractSignature pulls the base64 signature bytes for the given label
// out of a `sig1=:BASE64:` Signature header.
func extractSignature(header, label string) ([]byte, error) {
	if header == "" {
		return nil, fmt.Errorf("empty Signature header")
	}

	for _, entry := range strings.Split(header, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(entry), "=")
		if !found || name != label {
			continue
		}
		value = strings.Trim(value, ":")
		signature, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("failed to decode signature: %w", err)
		}
		return signature, nil
	}

	return nil, fmt.Errorf("no signature found for label %q", label)
}

// signatureBase reconstructs the canonical string the sender signed:
// one line per covered component, then the @signature-params line.
func signatureBase(req *http.Request, components []string, params string) (string, error) {
	var builder strings.Builder

	for _, component := range components {
		var value string
		switch component {
		case "@method":
			value = req.Method
		case "@target-uri":
			value = req.URL.String()
		case "@authority":
			value = req.Host
		case "@scheme":
			value = req.URL.Scheme
		case "@path":
			value = req.URL.Path
		case "@query":
			value = "?" + req.URL.RawQuery
		case "@request-target":
			value = req.URL.RequestURI()
		default:
			if strings.HasPrefix(component, "@") {
				return "", fmt.Errorf("unsupported derived component %q", component)
			}
			value = req.Header.Get(component)
			if value == "" && strings.EqualFold(component, "host") {
				value = req.Host
			}
		}
		fmt.Fprintf(&builder, "%q: %s\n", component, value)
	}

	quoted := make([]string, len(components))
	for i, component := range components {
		quoted[i] = fmt.Sprintf("%q", component)
	}
	paramsLine := "(" + strings.Join(quoted, " ") + ")"
	if params != "" {
		paramsLine += ";" + params
	}
	fmt.Fprintf(&builder, "%q: %s", "@signature-params", paramsLine)

	return builder.String(), nil
}

// paramValue reads a single `name="value"` or `name=value` parameter
// out of the Signature-Input parameter string.
func paramValue(params, name string) string {
	for _, entry := range strings.Split(params, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(entry), "=")
		if found && key == name {
			return strings.Trim(value, `"`)
		}
	}
	return ""
}

// CheckDigest recomputes the SHA-256 digest over the stored body and
// compares it to the captured Digest header. An absent header passes;
// a present header must match.
func CheckDigest(digestHeader string, body []byte) error {
	if digestHeader == "" {
		return nil
	}

	algo, expected, found := strings.Cut(digestHeader, "=")
	if !found {
		return fmt.Errorf("malformed digest header")
	}
	if !strings.EqualFold(algo, "SHA-256") {
		return fmt.Errorf("unsupported digest algorithm %q", algo)
	}

	sum := sha256.Sum256(body)
	actual := base64.StdEncoding.EncodeToString(sum[:])
	if actual != expected {
		return fmt.Errorf("digest mismatch")
	}
	return nil
}

// ParsePrivateKey converts PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return privateKey, nil
}

// ParsePublicKey converts PEM string to *rsa.PublicKey
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaPubKey, nil
}
