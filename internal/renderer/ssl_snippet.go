package renderer

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// SSLSnippet is an nginx include that points server blocks at a stored certificate
type SSLSnippet struct {
	Name        string
	ServerNames []string
	CertFile    string
	KeyFile     string
	Thumbprint  string
}

// Render returns the include content and its content hash
func (s SSLSnippet) Render() (string, string) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# certagent: %s\n", s.Name))
	if len(s.ServerNames) > 0 {
		sb.WriteString(fmt.Sprintf("# server_name %s\n", strings.Join(s.ServerNames, " ")))
	}
	if s.Thumbprint != "" {
		sb.WriteString(fmt.Sprintf("# thumbprint %s\n", s.Thumbprint))
	}
	sb.WriteString(fmt.Sprintf("ssl_certificate %s;\n", quote(s.CertFile)))
	sb.WriteString(fmt.Sprintf("ssl_certificate_key %s;\n", quote(s.KeyFile)))

	content := sb.String()
	return content, contentHash(content)
}

// quote wraps paths nginx would otherwise split
func quote(path string) string {
	if strings.ContainsAny(path, " \t;{}#\"'") {
		return `"` + strings.ReplaceAll(path, `"`, `\"`) + `"`
	}
	return path
}

// contentHash is the hex SHA-256 of rendered content
func contentHash(content string) string {
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", hash)
}

// ContentHash hashes existing file content for comparison with a render
func ContentHash(content []byte) string {
	return contentHash(string(content))
}
