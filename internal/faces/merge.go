package faces

import (
	"image"
	"math"
)

// MergeRectangles clusters rectangles whose edges all lie within
// eps*(min width + min height)/2 of each other, replaces every cluster by its
// average rectangle and keeps clusters holding at least minGroup members.
// A kept rectangle lying inside a stronger one is dropped as well. Nesting
// weights count every detection twice, so a cluster confirmed by two
// detections outweighs a single enclosing one.
func MergeRectangles(rects []image.Rectangle, minGroup int, eps float64) []image.Rectangle {
	if len(rects) == 0 {
		return nil
	}
	if minGroup < 1 {
		minGroup = 1
	}

	labels := partition(rects, eps)

	type cluster struct {
		sum   [4]int
		count int
	}
	clusters := make(map[int]*cluster)
	var order []int
	for i, r := range rects {
		c, ok := clusters[labels[i]]
		if !ok {
			c = &cluster{}
			clusters[labels[i]] = c
			order = append(order, labels[i])
		}
		c.sum[0] += r.Min.X
		c.sum[1] += r.Min.Y
		c.sum[2] += r.Max.X
		c.sum[3] += r.Max.Y
		c.count++
	}

	var avg []image.Rectangle
	var weights []int
	for _, label := range order {
		c := clusters[label]
		if c.count < minGroup {
			continue
		}
		n := float64(c.count)
		avg = append(avg, image.Rect(
			roundInt(float64(c.sum[0])/n),
			roundInt(float64(c.sum[1])/n),
			roundInt(float64(c.sum[2])/n),
			roundInt(float64(c.sum[3])/n),
		))
		weights = append(weights, 2*c.count)
	}

	dropped := make([]bool, len(avg))
	for i, r1 := range avg {
		for j, r2 := range avg {
			if i == j {
				continue
			}
			n1, n2 := weights[i], weights[j]
			if inside(r1, r2, eps) && (n2 > max(3, n1) || n1 < 3) {
				dropped[i] = true
				break
			}
		}
	}

	out := make([]image.Rectangle, 0, len(avg))
	for i, r := range avg {
		if !dropped[i] {
			out = append(out, r)
		}
	}
	return out
}

// partition assigns a cluster label to every rectangle (union-find over the
// similarity relation).
func partition(rects []image.Rectangle, eps float64) []int {
	parent := make([]int, len(rects))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	for i := range rects {
		for j := i + 1; j < len(rects); j++ {
			if similar(rects[i], rects[j], eps) {
				if a, b := find(i), find(j); a != b {
					parent[b] = a
				}
			}
		}
	}

	labels := make([]int, len(rects))
	for i := range rects {
		labels[i] = find(i)
	}
	return labels
}

func similar(a, b image.Rectangle, eps float64) bool {
	delta := eps * float64(min(a.Dx(), b.Dx())+min(a.Dy(), b.Dy())) * 0.5
	return absf(a.Min.X-b.Min.X) <= delta &&
		absf(a.Min.Y-b.Min.Y) <= delta &&
		absf(a.Max.X-b.Max.X) <= delta &&
		absf(a.Max.Y-b.Max.Y) <= delta
}

// inside reports whether r1 lies within r2 grown by eps of r2's size.
func inside(r1, r2 image.Rectangle, eps float64) bool {
	dx := roundInt(float64(r2.Dx()) * eps)
	dy := roundInt(float64(r2.Dy()) * eps)
	return r1.Min.X >= r2.Min.X-dx &&
		r1.Min.Y >= r2.Min.Y-dy &&
		r1.Max.X <= r2.Max.X+dx &&
		r1.Max.Y <= r2.Max.Y+dy
}

func absf(v int) float64 {
	return math.Abs(float64(v))
}

func roundInt(v float64) int {
	return int(math.Round(v))
}
