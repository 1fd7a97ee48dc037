package httppub

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// authenticator sets the Authorization header on outgoing requests.
type authenticator interface {
	apply(r *http.Request) error
}

type basicAuth struct {
	user, pass string
}

func (b basicAuth) apply(r *http.Request) error {
	token := base64.StdEncoding.EncodeToString([]byte(b.user + ":" + b.pass))
	r.Header.Set("Authorization", "Basic "+token)
	return nil
}

// jwtAuth signs HS256 tokens from fixed claims. A token is reused until it
// is within a tenth of its lifetime from expiry.
type jwtAuth struct {
	claims map[string]any
	key    []byte
	ttl    time.Duration

	mu      sync.Mutex
	token   string
	expires time.Time
}

func (j *jwtAuth) apply(r *http.Request) error {
	tok, err := j.current()
	if err != nil {
		return err
	}
	r.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

func (j *jwtAuth) current() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	if j.token != "" && now.Add(j.ttl/10).Before(j.expires) {
		return j.token, nil
	}
	claims := jwt.MapClaims{}
	for k, v := range j.claims {
		claims[k] = v
	}
	expires := now.Add(j.ttl)
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = jwt.NewNumericDate(expires)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.key)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	j.token, j.expires = signed, expires
	return signed, nil
}
