package metrics

import "math"

// maxWeightAssignment solves the rectangular assignment problem maximising
// the total weight of w (rows x cols). It returns, for each row, the
// assigned column or -1 when the row is left unassigned (more rows than
// columns). The matrix is padded to square with zero weights and solved with
// the O(n^3) Hungarian method using row/column potentials.
func maxWeightAssignment(w [][]float64, rows, cols int) []int {
	n := max(rows, cols)
	cost := func(i, j int) float64 {
		if i < rows && j < cols {
			return -w[i][j]
		}
		return 0
	}

	// 1-indexed; index 0 is the virtual column used to grow the matching.
	u := make([]float64, n+1)
	v := make([]float64, n+1)
	p := make([]int, n+1)
	way := make([]int, n+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, n+1)
		for j := range minv {
			minv[j] = math.Inf(1)
		}
		used := make([]bool, n+1)
		for {
			used[j0] = true
			i0 := p[j0]
			delta := math.Inf(1)
			j1 := 0
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := cost(i0-1, j-1) - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= n; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	assign := make([]int, rows)
	for i := range assign {
		assign[i] = -1
	}
	for j := 1; j <= n; j++ {
		if i := p[j] - 1; i >= 0 && i < rows && j-1 < cols {
			assign[i] = j - 1
		}
	}
	return assign
}
