package chatstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/go-go-golems/reelchat/pkg/chat"
)

// MessageContentHashAlgorithmV1 identifies the canonical hash material/version.
//
// The canonical material is JSON over:
//   - role
//   - content
//   - payload
//
// with a nil payload treated as an empty object.
const MessageContentHashAlgorithmV1 = "sha256-canonical-json-v1"

type canonicalMessageMaterial struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Payload any    `json:"payload"`
}

// CanonicalMessageMaterialJSON returns the canonical JSON bytes used for message hashing.
func CanonicalMessageMaterialJSON(m chat.Message) ([]byte, error) {
	mat := canonicalMessageMaterial{
		Role:    strings.TrimSpace(string(m.Role)),
		Content: m.Content,
		Payload: map[string]any{},
	}
	if !m.Payload.IsEmpty() {
		mat.Payload = m.Payload
	}
	return json.Marshal(mat)
}

// ComputeMessageContentHash computes the lowercase-hex SHA-256 hash over canonical message material.
func ComputeMessageContentHash(m chat.Message) (string, error) {
	b, err := CanonicalMessageMaterialJSON(m)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
