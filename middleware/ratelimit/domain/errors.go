package domain

import "errors"

var (
	// ErrConfiguration indica configuração inválida (nome de política, limite,
	// janela, path, header). Sempre retornado na fase de configuração/Build.
	ErrConfiguration = errors.New("ratelimit: invalid configuration")

	// ErrInvalidArgument indica argumento inválido em tempo de execução
	// (ex.: path vazio no matcher, chave vazia no store).
	ErrInvalidArgument = errors.New("ratelimit: invalid argument")

	// ErrUnsupportedAlgorithm indica uma política cujo AlgorithmType não tem
	// implementação registrada.
	ErrUnsupportedAlgorithm = errors.New("ratelimit: unsupported algorithm")

	// ErrMissingPolicyReference indica uma regra de endpoint que referencia uma
	// política inexistente (somente em modo estrito).
	ErrMissingPolicyReference = errors.New("ratelimit: missing policy reference")

	// ErrKeyNotFound é retornado pelo store quando a chave não existe ou expirou.
	ErrKeyNotFound = errors.New("ratelimit: key not found")
)
