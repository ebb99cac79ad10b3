package opt

import "tripnav/internal/geo"

// improveTwoOpt applies 2-opt segment reversals to shorten the tour. Order
// entries are stop indices 0..n-1; matrix index 0 is the origin, so stop i
// maps to matrix index i+1 and the tour is anchored at the origin.
func improveTwoOpt(m *geo.Matrix, order []int, passes int) []int {
	if passes <= 0 {
		passes = 1
	}
	best := append([]int(nil), order...)
	bestDist := tourDistance(m, best)
	n := len(order)
	for it := 0; it < passes; it++ {
		improved := false
		for i := 0; i < n-1; i++ {
			for k := i + 1; k < n; k++ {
				cand := twoOptSwap(best, i, k)
				d := tourDistance(m, cand)
				if d+1e-9 < bestDist {
					best = cand
					bestDist = d
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return best
}

func twoOptSwap(ord []int, i, k int) []int {
	out := make([]int, len(ord))
	copy(out, ord[:i])
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = ord[j]
		pos++
	}
	copy(out[pos:], ord[k+1:])
	return out
}

// tourDistance is origin → first stop → ... → last stop.
func tourDistance(m *geo.Matrix, order []int) float64 {
	total := 0.0
	prev := 0
	for _, idx := range order {
		total += m.Dist(prev, idx+1)
		prev = idx + 1
	}
	return total
}
