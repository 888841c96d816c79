package parser

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNoBlobID is returned when an image URL carries no storage blob id.
var ErrNoBlobID = errors.New("no blob id in image url")

// BlobKey derives an image key from a Rails Active Storage URL. Signed blob
// ids look like <base64 json>--<digest>; the JSON names the blob either
// directly (_rails.data) or through an encoded message (_rails.message).
// The key survives signature rotation because the digest is ignored.
func BlobKey(imageURL string) (string, error) {
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return "", fmt.Errorf("parse image url: %w", err)
	}

	signed := signedBlobSegment(parsed.Path)
	if signed == "" {
		return "", fmt.Errorf("%w: %s", ErrNoBlobID, imageURL)
	}

	payload, _, _ := strings.Cut(signed, "--")
	decoded, err := decodeBase64(payload)
	if err != nil {
		return "", fmt.Errorf("decode signed blob id: %w", err)
	}
	if !gjson.ValidBytes(decoded) {
		return "", fmt.Errorf("%w: signed id is not json", ErrNoBlobID)
	}

	if data := gjson.GetBytes(decoded, "_rails.data"); data.Exists() {
		return "blob:" + data.String(), nil
	}
	if msg := gjson.GetBytes(decoded, "_rails.message"); msg.Exists() && msg.String() != "" {
		return "blob:m:" + msg.String(), nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoBlobID, imageURL)
}

func signedBlobSegment(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		if seg != "blobs" && seg != "representations" {
			continue
		}
		rest := segments[i+1:]
		if len(rest) > 0 && (rest[0] == "redirect" || rest[0] == "proxy") {
			rest = rest[1:]
		}
		if len(rest) > 0 && strings.Contains(rest[0], "--") {
			return rest[0]
		}
	}
	return ""
}

func decodeBase64(s string) ([]byte, error) {
	if out, err := base64.StdEncoding.DecodeString(s); err == nil {
		return out, nil
	}
	if out, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return out, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
