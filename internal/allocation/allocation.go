// Package allocation распределяет денежные суммы по весам с точностью до копейки.
package allocation

import "sort"

// LargestRemainder распределяет targetCents между ключами weights
// пропорционально весам методом наибольших остатков: каждому ключу
// достаётся целая часть его точной доли, а оставшиеся копейки раздаются
// по одной ключам с наибольшими дробными остатками. При равных остатках
// побеждает ключ, идущий раньше в keys. Сумма результата всегда равна
// targetCents в точности.
//
// keys задаёт детерминированный порядок обхода weights; ключи keys,
// отсутствующие в weights или имеющие неположительный вес, пропускаются.
// При отсутствии положительных весов или неположительной цели
// возвращается пустая карта.
func LargestRemainder(targetCents int64, weights map[string]int64, keys []string) map[string]int64 {
	if targetCents <= 0 {
		return map[string]int64{}
	}

	type share struct {
		key string
		// remainder — числитель дробной части точной доли при общем
		// знаменателе totalWeight, сравнивается без плавающей точки.
		remainder int64
		pos       int
	}

	var totalWeight int64
	ordered := make([]string, 0, len(keys))
	for _, key := range keys {
		if w := weights[key]; w > 0 {
			ordered = append(ordered, key)
			totalWeight += w
		}
	}
	if totalWeight <= 0 {
		return map[string]int64{}
	}

	cents := make(map[string]int64, len(ordered))
	shares := make([]share, 0, len(ordered))

	var allocated int64
	for i, key := range ordered {
		exact := targetCents * weights[key]
		base := exact / totalWeight
		cents[key] = base
		allocated += base
		shares = append(shares, share{key: key, remainder: exact % totalWeight, pos: i})
	}

	// Недораспределённых копеек всегда меньше, чем ключей: сумма дробных
	// частей строго меньше их количества.
	leftover := targetCents - allocated
	if leftover > 0 {
		sort.SliceStable(shares, func(i, j int) bool {
			return shares[i].remainder > shares[j].remainder
		})
		for i := int64(0); i < leftover; i++ {
			cents[shares[i].key]++
		}
	}

	for key, v := range cents {
		if v <= 0 {
			delete(cents, key)
		}
	}

	return cents
}
