package engine

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Допустимые виды шагов.
var validStepKinds = map[string]bool{
	"checkout": true,
	"setup":    true,
	"run":      true,
}

// Допустимые условия выполнения шага.
var validConditions = map[string]bool{
	"":           true, // выполнять при успехе предыдущих шагов
	"on_failure": true,
	"always":     true,
}

// ParseYAML парсит PipelineSpec из YAML (формат pipeline-файлов).
// Спецификация валидируется перед возвратом.
func ParseYAML(data []byte) (*domain.PipelineSpec, error) {
	var spec domain.PipelineSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseSpec, err)
	}

	if err := Validate(&spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// ParseJSON парсит PipelineSpec из JSON (формат хранения версий в БД).
func ParseJSON(data []byte) (*domain.PipelineSpec, error) {
	var spec domain.PipelineSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseSpec, err)
	}

	if err := Validate(&spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// IsValidStepKind проверяет, является ли вид шага допустимым.
func IsValidStepKind(kind string) bool {
	return validStepKinds[kind]
}
