package offsite

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"
)

// emptyPayloadHash is the SHA-256 of a zero-length body.
var emptyPayloadHash = sha256Hex(nil)

// signer adds AWS SigV4 headers to bucket requests. R2 and MinIO accept the
// "auto" region.
type signer struct {
	keyID   string
	secret  string
	region  string
	service string
}

func newSigner(keyID, secret string) signer {
	return signer{keyID: keyID, secret: secret, region: "auto", service: "s3"}
}

// sign sets x-amz-date, x-amz-content-sha256 and Authorization on req.
// Only host and the two x-amz headers are signed; query strings are not
// used by this client.
func (s signer) sign(req *http.Request, payloadHash string, at time.Time) {
	at = at.UTC()
	stamp := at.Format("20060102T150405Z")
	day := stamp[:8]

	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", stamp)

	headers := [][2]string{
		{"host", req.URL.Host},
		{"x-amz-content-sha256", payloadHash},
		{"x-amz-date", stamp},
	}
	var canon, names strings.Builder
	for i, h := range headers {
		canon.WriteString(h[0] + ":" + h[1] + "\n")
		if i > 0 {
			names.WriteByte(';')
		}
		names.WriteString(h[0])
	}

	creq := req.Method + "\n" +
		req.URL.EscapedPath() + "\n" +
		"\n" +
		canon.String() + "\n" +
		names.String() + "\n" +
		payloadHash
	scope := day + "/" + s.region + "/" + s.service + "/aws4_request"
	toSign := "AWS4-HMAC-SHA256\n" + stamp + "\n" + scope + "\n" + sha256Hex([]byte(creq))

	key := []byte("AWS4" + s.secret)
	for _, part := range []string{day, s.region, s.service, "aws4_request"} {
		key = hmacSum(key, part)
	}
	sig := hex.EncodeToString(hmacSum(key, toSign))

	req.Header.Set("Authorization", "AWS4-HMAC-SHA256 Credential="+s.keyID+"/"+scope+
		", SignedHeaders="+names.String()+", Signature="+sig)
}

func hmacSum(key []byte, msg string) []byte {
	m := hmac.New(sha256.New, key)
	io.WriteString(m, msg)
	return m.Sum(nil)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
