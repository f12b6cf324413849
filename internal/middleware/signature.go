package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
)

const signatureHeader = "X-Signature"

// SignatureMiddleware проверяет HMAC-SHA256 подпись тела вебхука торговой системы.
type SignatureMiddleware struct {
	secretKey []byte
}

// NewSignatureMiddleware создаёт middleware с указанным секретным ключом.
// Пустой ключ отключает проверку: вебхук принимается без подписи.
func NewSignatureMiddleware(secret string) *SignatureMiddleware {
	return &SignatureMiddleware{secretKey: []byte(secret)}
}

// Middleware читает тело запроса, сверяет подпись из заголовка X-Signature
// и передаёт запрос дальше с восстановленным телом.
func (s *SignatureMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.secretKey) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		signature, err := hex.DecodeString(r.Header.Get(signatureHeader))
		if err != nil || !hmac.Equal(signature, s.sign(body)) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Sign возвращает hex-подпись тела для заголовка X-Signature.
func (s *SignatureMiddleware) Sign(body []byte) string {
	return hex.EncodeToString(s.sign(body))
}

func (s *SignatureMiddleware) sign(body []byte) []byte {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write(body)
	return mac.Sum(nil)
}
