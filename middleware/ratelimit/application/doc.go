// Package application contém o motor de decisão do rate limit.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Engine.Evaluate(attrs) retorna uma Decision (allow/deny + retry-after).
package application
