package methods

import (
	"math"
	"sort"

	polyclip "github.com/ctessum/polyclip-go"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// minRingArea 小于该面积的碎环视为裁剪噪声
const minRingArea = 1e-14

// Difference 面差集 a - b，结果为空表示a被b完全覆盖
func Difference(a, b orb.Geometry) orb.MultiPolygon {
	return construct(a, b, polyclip.DIFFERENCE)
}

// Union 面并集
func Union(a, b orb.Geometry) orb.MultiPolygon {
	return construct(a, b, polyclip.UNION)
}

// Intersection 面交集
func Intersection(a, b orb.Geometry) orb.MultiPolygon {
	return construct(a, b, polyclip.INTERSECTION)
}

// UnionAll 依次合并多个面
func UnionAll(geoms ...orb.Geometry) orb.MultiPolygon {
	var out orb.MultiPolygon
	for i, g := range geoms {
		if i == 0 {
			out = ToMultiPolygon(g)
			continue
		}
		out = Union(out, g)
	}
	return out
}

// IsEmpty 面积为零或没有环
func IsEmpty(geom orb.Geometry) bool {
	for _, p := range Flatten(geom) {
		if len(p) > 0 && math.Abs(ringArea(p[0])) > minRingArea {
			return false
		}
	}
	return true
}

func construct(a, b orb.Geometry, op polyclip.Op) orb.MultiPolygon {
	subject := toPolyclip(a)
	clipping := toPolyclip(b)
	return fromPolyclip(subject.Construct(op, clipping))
}

func toPolyclip(geom orb.Geometry) polyclip.Polygon {
	var out polyclip.Polygon
	for _, poly := range Flatten(geom) {
		for _, ring := range poly {
			c := make(polyclip.Contour, 0, len(ring))
			for i, pt := range ring {
				if i == len(ring)-1 && len(ring) > 1 && pt.Equal(ring[0]) {
					break
				}
				c = append(c, polyclip.Point{X: pt[0], Y: pt[1]})
			}
			if len(c) >= 3 {
				out = append(out, c)
			}
		}
	}
	return out
}

// fromPolyclip 按包含层级还原外环与内环：偶数层为外环，奇数层为其直接外环的洞
func fromPolyclip(p polyclip.Polygon) orb.MultiPolygon {
	type contour struct {
		ring   orb.Ring
		area   float64
		depth  int
		parent int
	}
	contours := make([]contour, 0, len(p))
	for _, c := range p {
		if len(c) < 3 {
			continue
		}
		points := make([]orb.Point, 0, len(c))
		for _, pt := range c {
			points = append(points, orb.Point{pt.X, pt.Y})
		}
		// 洞与外环相切时裁剪结果是一条自相切轮廓，先在重复顶点处拆开
		for _, ring := range splitTouching(points) {
			ring = append(ring, ring[0])
			area := math.Abs(ringArea(ring))
			if area <= minRingArea {
				continue
			}
			contours = append(contours, contour{ring: ring, area: area, parent: -1})
		}
	}

	// 按面积降序，父环总在子环之前
	sort.SliceStable(contours, func(i, j int) bool { return contours[i].area > contours[j].area })
	for i := range contours {
		probe := interiorProbe(contours[i].ring)
		for j := i - 1; j >= 0; j-- {
			if planar.RingContains(contours[j].ring, probe) {
				contours[i].depth++
				if contours[i].parent == -1 {
					contours[i].parent = j
				}
			}
		}
	}

	var out orb.MultiPolygon
	index := make(map[int]int)
	for i, c := range contours {
		if c.depth%2 != 0 {
			continue
		}
		ring := orient(c.ring, orb.CCW)
		index[i] = len(out)
		out = append(out, orb.Polygon{ring})
	}
	for _, c := range contours {
		if c.depth%2 == 0 {
			continue
		}
		if pi, ok := index[c.parent]; ok {
			out[pi] = append(out[pi], orient(c.ring, orb.CW))
		}
	}
	return out
}

// splitTouching 在重复顶点处把开放轮廓拆成若干不自相切的开放环
func splitTouching(points []orb.Point) []orb.Ring {
	var out []orb.Ring
	path := make(orb.Ring, 0, len(points))
	seen := make(map[orb.Point]int, len(points))
	for _, pt := range points {
		if k, ok := seen[pt]; ok {
			if loop := path[k:]; len(loop) >= 3 {
				out = append(out, append(orb.Ring(nil), loop...))
			}
			for _, q := range path[k+1:] {
				delete(seen, q)
			}
			path = path[:k+1]
			continue
		}
		seen[pt] = len(path)
		path = append(path, pt)
	}
	if len(path) >= 3 {
		out = append(out, path)
	}
	return out
}

// interiorProbe 取环内一点用于层级判断，避免顶点落在父环边上
func interiorProbe(r orb.Ring) orb.Point {
	if len(r) < 4 {
		return r[0]
	}
	a, b, c := r[0], r[1], r[2]
	centroid := orb.Point{(a[0] + b[0] + c[0]) / 3, (a[1] + b[1] + c[1]) / 3}
	if planar.RingContains(r, centroid) {
		return centroid
	}
	return orb.Point{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2}
}

func orient(r orb.Ring, o orb.Orientation) orb.Ring {
	out := make(orb.Ring, len(r))
	copy(out, r)
	if (ringArea(out) > 0) != (o == orb.CCW) {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// ringArea 有向面积，逆时针为正
func ringArea(r orb.Ring) float64 {
	var sum float64
	n := len(r)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += r[i][0]*r[j][1] - r[j][0]*r[i][1]
	}
	return sum / 2
}
