package analysis

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// relabel maps arbitrary labels onto 0..c-1 in ascending label order.
func relabel(labels []int) ([]int, int) {
	seen := map[int]struct{}{}
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	distinct := make([]int, 0, len(seen))
	for l := range seen {
		distinct = append(distinct, l)
	}
	slices.Sort(distinct)
	pos := make(map[int]int, len(distinct))
	for i, l := range distinct {
		pos[l] = i
	}
	out := make([]int, len(labels))
	for i, l := range labels {
		out[i] = pos[l]
	}
	return out, len(distinct)
}

// OneVsRest returns a binary labeling: 1 for rows labeled cluster, 0 otherwise.
func OneVsRest(labels []int, cluster int) []int {
	out := make([]int, len(labels))
	for i, l := range labels {
		if l == cluster {
			out[i] = 1
		}
	}
	return out
}

// Silhouette returns the mean silhouette coefficient of labels over the
// precomputed distances dist. Samples alone in their cluster score 0.
// The result is NaN unless 2 <= distinct labels <= n-1.
func Silhouette(dist mat.Symmetric, labels []int) float64 {
	n := len(labels)
	lab, c := relabel(labels)
	if c < 2 || c > n-1 {
		return math.NaN()
	}

	sizes := make([]int, c)
	for _, l := range lab {
		sizes[l]++
	}

	sums := make([]float64, c)
	var total float64
	for i := 0; i < n; i++ {
		for k := range sums {
			sums[k] = 0
		}
		for j := 0; j < n; j++ {
			if i != j {
				sums[lab[j]] += dist.At(i, j)
			}
		}
		own := lab[i]
		if sizes[own] == 1 {
			continue
		}
		a := sums[own] / float64(sizes[own]-1)
		b := math.Inf(1)
		for k := 0; k < c; k++ {
			if k == own {
				continue
			}
			b = math.Min(b, sums[k]/float64(sizes[k]))
		}
		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
	}
	return total / float64(n)
}

// DaviesBouldin returns the Davies-Bouldin index of labels over the rows of
// x, using euclidean distances to label means. NaN for fewer than 2 labels.
func DaviesBouldin(x *mat.Dense, labels []int) float64 {
	n, d := x.Dims()
	lab, c := relabel(labels)
	if c < 2 {
		return math.NaN()
	}

	centers := make([][]float64, c)
	sizes := make([]int, c)
	for k := range centers {
		centers[k] = make([]float64, d)
	}
	for i := 0; i < n; i++ {
		floats.Add(centers[lab[i]], x.RawRowView(i))
		sizes[lab[i]]++
	}
	for k := range centers {
		floats.Scale(1/float64(sizes[k]), centers[k])
	}

	scatter := make([]float64, c)
	for i := 0; i < n; i++ {
		scatter[lab[i]] += floats.Distance(x.RawRowView(i), centers[lab[i]], 2)
	}
	allScatterZero := true
	for k := range scatter {
		scatter[k] /= float64(sizes[k])
		if scatter[k] != 0 {
			allScatterZero = false
		}
	}

	sep := make([][]float64, c)
	allSepZero := true
	for a := range sep {
		sep[a] = make([]float64, c)
		for b := range sep[a] {
			sep[a][b] = floats.Distance(centers[a], centers[b], 2)
			if a != b && sep[a][b] != 0 {
				allSepZero = false
			}
		}
	}
	if allScatterZero || allSepZero {
		return 0
	}

	var total float64
	for a := 0; a < c; a++ {
		worst := 0.0
		for b := 0; b < c; b++ {
			if a == b || sep[a][b] == 0 {
				continue
			}
			worst = math.Max(worst, (scatter[a]+scatter[b])/sep[a][b])
		}
		total += worst
	}
	return total / float64(c)
}
