// Package clustering разбивает набор изображений на кластеры жадным алгоритмом с затравкой:
// элемент попадает в кластер, если его сходство с затравкой (а не с остальными членами)
// не меньше порога. Результат детерминирован для фиксированного порядка входа.
package clustering

import "fmt"

// SimilarityFunc возвращает сходство пары в [0,1].
type SimilarityFunc[T any] func(a, b T) (float64, error)

// Cluster разбивает items на кластеры. Каждый элемент входит ровно в один кластер,
// порядок кластеров и элементов внутри повторяет порядок входа. Сложность O(n²).
// Ошибка функции сходства прерывает кластеризацию.
func Cluster[T any](items []T, threshold float64, similarity SimilarityFunc[T]) ([][]T, error) {
	idx, err := ClusterIndices(items, threshold, similarity)
	if err != nil {
		return nil, err
	}

	clusters := make([][]T, 0, len(idx))
	for _, members := range idx {
		c := make([]T, 0, len(members))
		for _, i := range members {
			c = append(c, items[i])
		}
		clusters = append(clusters, c)
	}
	return clusters, nil
}

// ClusterIndices - то же, что Cluster, но возвращает индексы элементов.
func ClusterIndices[T any](items []T, threshold float64, similarity SimilarityFunc[T]) ([][]int, error) {
	assigned := make([]bool, len(items))
	clusters := make([][]int, 0)

	for i := range items {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		cluster := []int{i}

		for j := i + 1; j < len(items); j++ {
			if assigned[j] {
				continue
			}

			sim, err := similarity(items[i], items[j])
			if err != nil {
				return nil, fmt.Errorf("similarity of items %d and %d: %w", i, j, err)
			}

			if sim >= threshold {
				assigned[j] = true
				cluster = append(cluster, j)
			}
		}

		clusters = append(clusters, cluster)
	}

	return clusters, nil
}
