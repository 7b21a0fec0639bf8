package integrations

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// oauth1Credentials is the four-value OAuth 1.0a user context tuple.
type oauth1Credentials struct {
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
}

func (c oauth1Credentials) complete() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != "" && c.AccessToken != "" && c.AccessTokenSecret != ""
}

// oauth1Signer signs requests with HMAC-SHA1 per RFC 5849.
type oauth1Signer struct {
	creds oauth1Credentials
	now   func() time.Time
	nonce func() string
}

func newOAuth1Signer(creds oauth1Credentials) *oauth1Signer {
	return &oauth1Signer{
		creds: creds,
		now:   time.Now,
		nonce: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
}

// Sign sets the Authorization header on req. Form bodies are not signed;
// the providers signed here only take query parameters.
func (s *oauth1Signer) Sign(req *http.Request) error {
	oauthParams := map[string]string{
		"oauth_consumer_key":     s.creds.ConsumerKey,
		"oauth_nonce":            s.nonce(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(s.now().Unix(), 10),
		"oauth_token":            s.creds.AccessToken,
		"oauth_version":          "1.0",
	}

	baseURL := *req.URL
	baseURL.RawQuery = ""
	baseURL.Fragment = ""
	baseURL.Scheme = strings.ToLower(baseURL.Scheme)
	baseURL.Host = strings.ToLower(baseURL.Host)

	signature := s.signature(req.Method, baseURL.String(), req.URL.Query(), oauthParams)
	oauthParams["oauth_signature"] = signature

	keys := make([]string, 0, len(oauthParams))
	for k := range oauthParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, percentEncode(k)+`="`+percentEncode(oauthParams[k])+`"`)
	}
	req.Header.Set("Authorization", "OAuth "+strings.Join(parts, ", "))
	return nil
}

func (s *oauth1Signer) signature(method, baseURL string, query url.Values, oauthParams map[string]string) string {
	base := signatureBase(method, baseURL, query, oauthParams)
	key := percentEncode(s.creds.ConsumerSecret) + "&" + percentEncode(s.creds.AccessTokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// signatureBase builds METHOD&base_url&param_string with every parameter
// percent-encoded and sorted by key, then value.
func signatureBase(method, baseURL string, query url.Values, oauthParams map[string]string) string {
	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(query)+len(oauthParams))
	for k, vs := range query {
		for _, v := range vs {
			pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
		}
	}
	for k, v := range oauthParams {
		pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k == pairs[j].k {
			return pairs[i].v < pairs[j].v
		}
		return pairs[i].k < pairs[j].k
	})

	encoded := make([]string, len(pairs))
	for i, p := range pairs {
		encoded[i] = p.k + "=" + p.v
	}
	paramString := strings.Join(encoded, "&")

	return strings.ToUpper(method) + "&" + percentEncode(baseURL) + "&" + percentEncode(paramString)
}

// percentEncode implements RFC 3986 encoding: only unreserved characters
// are left as is.
func percentEncode(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9') ||
			c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0F])
	}
	return b.String()
}
