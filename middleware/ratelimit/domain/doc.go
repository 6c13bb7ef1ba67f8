// Package domain define o modelo de políticas, regras de endpoint e os contratos
// usados pelo motor de decisão (admission control).
//
// Este pacote não depende de net/http nem de implementações concretas.
// Tudo que é construído aqui (Policy, EndpointRule, Registry) é imutável depois
// do Build: os builders copiam os valores e mutações posteriores no builder não
// vazam para o que já foi entregue.
package domain
