// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryStore: CounterStore em memória, com shards, TTL por chave e LRU
//   - FixedWindow: algoritmo de janela fixa sobre um CounterStore
//   - MemoryStatsStore / RedisStatsStore / OtelStatsStore: estatísticas de decisão
package infra
