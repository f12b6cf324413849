// Package codegen генерирует уникальные коды подарочных карт.
package codegen

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// charset — набор символов без визуально похожих глифов (нет O/0, I/1/l).
const charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	segmentLength = 4
	maxAttempts   = 10
)

// CodeChecker проверяет существование кода в хранилище карт.
type CodeChecker interface {
	CodeExists(ctx context.Context, code string) (bool, error)
}

// Generator создаёт коды вида PREFIX-XXXX-XXXX-XXXX, уникальные
// относительно хранилища на момент генерации.
type Generator struct {
	prefix  string
	checker CodeChecker
}

// NewGenerator создаёт генератор с указанным префиксом. Пустой префикс
// заменяется на GIFT.
func NewGenerator(prefix string, checker CodeChecker) *Generator {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = "GIFT"
	}
	return &Generator{prefix: prefix, checker: checker}
}

// Generate возвращает код, не найденный в хранилище на момент проверки.
// Сначала до 10 попыток из трёх сегментов, затем до 10 из четырёх;
// если все заняты — один код из пяти сегментов без проверки
// (вероятность коллизии пренебрежимо мала). Проверка уникальности
// носит рекомендательный характер: гонку окончательно разрешает
// уникальный индекс при вставке.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	for _, segments := range []int{3, 4} {
		for i := 0; i < maxAttempts; i++ {
			code, err := g.build(segments)
			if err != nil {
				return "", err
			}

			exists, err := g.checker.CodeExists(ctx, code)
			if err != nil {
				return "", fmt.Errorf("check code: %w", err)
			}
			if !exists {
				return code, nil
			}
		}
	}

	return g.build(5)
}

func (g *Generator) build(segments int) (string, error) {
	parts := make([]string, 0, segments+1)
	parts = append(parts, g.prefix)

	for i := 0; i < segments; i++ {
		seg, err := randomSegment(segmentLength)
		if err != nil {
			return "", err
		}
		parts = append(parts, seg)
	}

	return strings.Join(parts, "-"), nil
}

func randomSegment(length int) (string, error) {
	max := big.NewInt(int64(len(charset)))

	var b strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("random segment: %w", err)
		}
		b.WriteByte(charset[n.Int64()])
	}
	return b.String(), nil
}

// Mask скрывает код для отображения: дефисы убираются, все символы,
// кроме последних четырёх, заменяются средней точкой.
// Например, GIFT-AAAA-BBBB-CC3D -> ············CC3D.
func Mask(code string) string {
	clean := strings.ReplaceAll(strings.ToUpper(code), "-", "")
	if len(clean) <= 4 {
		return clean
	}
	return strings.Repeat("·", len(clean)-4) + clean[len(clean)-4:]
}
