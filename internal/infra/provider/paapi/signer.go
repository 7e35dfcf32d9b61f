package paapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Signer produces the authentication headers for one upstream request.
// Injected so tests can stub signing without real credentials.
type Signer interface {
	Sign(method, path, target string, payload []byte, now time.Time) map[string]string
}

const (
	signAlgorithm = "AWS4-HMAC-SHA256"
	signService   = "ProductAdvertisingAPI"
)

// V4Signer signs requests with the AWS Signature Version 4 scheme the
// Product Advertising API requires.
type V4Signer struct {
	accessKey string
	secretKey string
	region    string
	host      string
}

// NewV4Signer creates a signer bound to one host and region.
func NewV4Signer(accessKey, secretKey, region, host string) *V4Signer {
	return &V4Signer{
		accessKey: accessKey,
		secretKey: secretKey,
		region:    region,
		host:      host,
	}
}

// Sign builds the signed header set for a request. The signature
// covers the content-encoding, host, x-amz-date and x-amz-target
// headers plus the payload hash.
func (s *V4Signer) Sign(method, path, target string, payload []byte, now time.Time) map[string]string {
	amzDate := now.UTC().Format("20060102T150405Z")
	dateStamp := now.UTC().Format("20060102")

	payloadHash := hexSHA256(payload)

	canonicalHeaders := strings.Join([]string{
		"content-encoding:amz-1.0",
		"host:" + s.host,
		"x-amz-date:" + amzDate,
		"x-amz-target:" + target,
	}, "\n") + "\n"
	signedHeaders := "content-encoding;host;x-amz-date;x-amz-target"

	canonicalRequest := strings.Join([]string{
		method,
		path,
		"", // query string
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := strings.Join([]string{dateStamp, s.region, signService, "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		signAlgorithm,
		amzDate,
		scope,
		hexSHA256([]byte(canonicalRequest)),
	}, "\n")

	signingKey := hmacSHA256(
		hmacSHA256(
			hmacSHA256(
				hmacSHA256([]byte("AWS4"+s.secretKey), dateStamp),
				s.region),
			signService),
		"aws4_request")
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	authorization := fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		signAlgorithm, s.accessKey, scope, signedHeaders, signature)

	return map[string]string{
		"Content-Encoding": "amz-1.0",
		"Content-Type":     "application/json; charset=utf-8",
		"X-Amz-Date":       amzDate,
		"X-Amz-Target":     target,
		"Authorization":    authorization,
	}
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))

	return h.Sum(nil)
}

func hexSHA256(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}
