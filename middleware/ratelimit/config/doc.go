// Package config carrega a configuração do gateway e o arquivo de políticas.
//
// A configuração do processo é montada em camadas com koanf: padrões, arquivo
// YAML opcional, variáveis GATEWAY_* e flags. O arquivo de políticas (YAML)
// passa pelo mesmo RegistryBuilder usado por quem configura via código, então
// as regras de validação são as mesmas.
package config
