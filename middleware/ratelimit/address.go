package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"
)

// ClientAddressFunc extrai o endereço de rede do cliente da requisição.
type ClientAddressFunc func(r *http.Request) string

// DefaultClientAddress usa o host de RemoteAddr. Com trustXFF, o primeiro IP
// de X-Forwarded-For tem precedência (só ligue atrás de um proxy confiável).
func DefaultClientAddress(trustXFF bool) ClientAddressFunc {
	return func(r *http.Request) string {
		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		addr := strings.TrimSpace(r.RemoteAddr)
		if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
			return host
		}
		return addr
	}
}

// RequestAttributes traduz a requisição para o que o motor entende.
//
// O path é o request-target como recebido (com query). Requisições em forma
// absoluta (proxy) usam o path reconstruído de r.URL.
func RequestAttributes(r *http.Request, clientAddress ClientAddressFunc) domain.RequestAttributes {
	if clientAddress == nil {
		clientAddress = DefaultClientAddress(false)
	}
	raw := r.RequestURI
	if !strings.HasPrefix(raw, "/") {
		raw = r.URL.RequestURI()
	}
	return domain.RequestAttributes{
		Method:        r.Method,
		RawPath:       raw,
		Header:        r.Header.Values,
		ClientAddress: clientAddress(r),
	}
}
