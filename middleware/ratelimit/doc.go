// Package ratelimit fornece o adapter HTTP (net/http) do rate limit por janela fixa.
//
// Visão geral (camadas):
//
//   - domain: políticas, regras de endpoint, registry e contratos (sem net/http)
//   - application: motor de decisão (global -> primeira regra que casa) sem net/http
//   - infra: store em memória com TTL, algoritmo fixed window, sinks de estatística
//   - config: arquivo de políticas (YAML) e configuração do processo (koanf)
//   - ratelimit (este pacote): middleware HTTP + extração de atributos + tradução para status/headers
//   - ginadapter: o mesmo middleware para gin
//
// Fluxo no gateway:
//
//  1. Extrai método, path bruto, headers e endereço do cliente (RemoteAddr/XFF)
//  2. Chama o motor (application.Engine) para obter a decisão
//  3. Se negado, chama OnLimitExceeded ou responde 429 com Retry-After
//  4. Se permitido, chama o próximo handler (ex: reverse proxy)
package ratelimit
