package geometry

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrInvalidInput возвращается для пустого набора вершин
var ErrInvalidInput = errors.New("invalid geometry input")

// Point точка в нормализованных координатах изображения
type Point struct {
	X float64
	Y float64
}

// Centroid вычисляет центроид полигона как среднее арифметическое всех вершин
func Centroid(points []Point) (Point, error) {
	if len(points) == 0 {
		return Point{}, errors.Wrap(ErrInvalidInput, "centroid of empty polygon")
	}

	var sumX, sumY float64
	for _, p := range points {
		sumX += p.X
		sumY += p.Y
	}

	n := float64(len(points))
	return Point{X: sumX / n, Y: sumY / n}, nil
}

// Distance евклидово расстояние между двумя точками
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// DistanceMatrix матрица расстояний |A| x |B|
type DistanceMatrix struct {
	rows, cols int
	dense      *mat.Dense
}

// PairwiseDistance строит матрицу евклидовых расстояний между всеми парами точек.
// Пустой набор с любой стороны дает пустую матрицу.
func PairwiseDistance(a, b []Point) *DistanceMatrix {
	dm := &DistanceMatrix{rows: len(a), cols: len(b)}
	if dm.rows == 0 || dm.cols == 0 {
		return dm
	}

	dm.dense = mat.NewDense(dm.rows, dm.cols, nil)
	for i, pa := range a {
		for j, pb := range b {
			dm.dense.Set(i, j, Distance(pa, pb))
		}
	}
	return dm
}

// Rows количество строк
func (m *DistanceMatrix) Rows() int { return m.rows }

// Cols количество столбцов
func (m *DistanceMatrix) Cols() int { return m.cols }

// At значение в ячейке (i, j)
func (m *DistanceMatrix) At(i, j int) float64 {
	return m.dense.At(i, j)
}

// ArgMinRow индекс минимального значения в строке i.
// При равенстве выбирается первый индекс. -1 если столбцов нет.
func (m *DistanceMatrix) ArgMinRow(i int) int {
	if m.cols == 0 || i < 0 || i >= m.rows {
		return -1
	}

	row := m.dense.RawRowView(i)
	minIdx := 0
	for j := 1; j < len(row); j++ {
		if row[j] < row[minIdx] {
			minIdx = j
		}
	}
	return minIdx
}
