// Package ginadapter liga o rate limit a pipelines gin.
package ginadapter

import (
	"net/http"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/domain"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
)

// Middleware aplica o rate limit como gin.HandlerFunc. Requisições negadas
// são abortadas; sem OnLimitExceeded a resposta é um JSON com o status de
// rejeição.
func Middleware(opts ratelimit.Options) gin.HandlerFunc {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.OnLimitExceeded == nil {
		opts.OnLimitExceeded = jsonRejection(opts.RejectStatus)
	}
	l := ratelimit.NewLimiter(opts)

	return func(c *gin.Context) {
		admitted := false
		l.Serve(c.Writer, c.Request, http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			admitted = true
			c.Request = r
			c.Next()
		}))
		if !admitted {
			c.Abort()
		}
	}
}

type rejection struct {
	Error      string `json:"error"`
	Policy     string `json:"policy,omitempty"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

func jsonRejection(status int) ratelimit.LimitExceededFunc {
	return func(w http.ResponseWriter, _ *http.Request, dec domain.Decision) {
		body := render.JSON{Data: rejection{
			Error:      "rate limit exceeded",
			Policy:     dec.Policy,
			RetryAfter: int(dec.RetryAfter.Seconds()),
		}}
		body.WriteContentType(w)
		w.WriteHeader(status)
		_ = body.Render(w)
	}
}
