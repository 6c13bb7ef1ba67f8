package ratelimit

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

// retryAfterSeconds arredonda para cima: Retry-After só aceita segundos
// inteiros e o cliente não deve voltar antes do fim da janela.
func retryAfterSeconds(d time.Duration) string {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return formatInt(s)
}
