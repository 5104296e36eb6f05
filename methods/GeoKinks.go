package methods

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

const kinkEpsilon = 1e-12

// Kinks 返回面内所有自相交点（同环相邻边除外）
func Kinks(geom orb.Geometry) []orb.Point {
	var out []orb.Point
	for _, poly := range Flatten(geom) {
		type seg struct {
			ring, idx, n int
			a, b         orb.Point
		}
		var segs []seg
		for ri, r := range poly {
			r = openRing(r)
			n := len(r)
			for i := 0; i < n; i++ {
				segs = append(segs, seg{ring: ri, idx: i, n: n, a: r[i], b: r[(i+1)%n]})
			}
		}
		for i := 0; i < len(segs); i++ {
			for j := i + 1; j < len(segs); j++ {
				s, t := segs[i], segs[j]
				if s.ring == t.ring && adjacent(s.idx, t.idx, s.n) {
					continue
				}
				// 洞与外环在单点处相切不算自相交
				if s.ring != t.ring && touchesAtEndpoint(s.a, s.b, t.a, t.b) {
					continue
				}
				if p, ok := segmentIntersection(s.a, s.b, t.a, t.b); ok {
					out = append(out, p)
				}
			}
		}
	}
	return out
}

// IsSimple 没有自相交
func IsSimple(geom orb.Geometry) bool {
	return len(Kinks(geom)) == 0
}

// Unkink 把自相交的面拆成若干简单面，顺序稳定；洞归属到包含它的碎片
func Unkink(poly orb.Polygon) []orb.Polygon {
	if len(poly) == 0 {
		return nil
	}
	rings := splitRing(openRing(poly[0]))
	out := make([]orb.Polygon, 0, len(rings))
	for _, r := range rings {
		closed := append(r, r[0])
		out = append(out, orb.Polygon{orient(closed, orb.CCW)})
	}
	for _, hole := range poly[1:] {
		if len(hole) == 0 {
			continue
		}
		probe := hole[0]
		for i := range out {
			if planar.RingContains(out[i][0], probe) {
				out[i] = append(out[i], orient(hole, orb.CW))
				break
			}
		}
	}
	return out
}

// splitRing 在第一个自交点处一分为二并递归，每次拆分后的环点数严格减少
func splitRing(r orb.Ring) []orb.Ring {
	r = dedupe(r)
	n := len(r)
	if n < 3 {
		return nil
	}
	for i := 0; i < n; i++ {
		for j := i + 2; j < n; j++ {
			if adjacent(i, j, n) {
				continue
			}
			p, ok := segmentIntersection(r[i], r[(i+1)%n], r[j], r[(j+1)%n])
			if !ok {
				continue
			}
			first := orb.Ring{p}
			first = append(first, r[i+1:j+1]...)
			second := orb.Ring{p}
			second = append(second, r[j+1:]...)
			second = append(second, r[:i+1]...)
			var out []orb.Ring
			out = append(out, splitRing(first)...)
			out = append(out, splitRing(second)...)
			return out
		}
	}
	if math.Abs(ringArea(append(r, r[0]))) <= minRingArea {
		return nil
	}
	return []orb.Ring{r}
}

// touchesAtEndpoint 两线段只在其中一条的端点处接触
func touchesAtEndpoint(a, b, c, d orb.Point) bool {
	if a.Equal(c) || a.Equal(d) || b.Equal(c) || b.Equal(d) {
		return true
	}
	t, u, ok := segmentParams(a, b, c, d)
	if !ok {
		return false
	}
	return nearEnd(t) || nearEnd(u)
}

func nearEnd(v float64) bool {
	return math.Abs(v) <= kinkEpsilon || math.Abs(v-1) <= kinkEpsilon
}

func adjacent(i, j, n int) bool {
	if i > j {
		i, j = j, i
	}
	return j-i == 1 || (i == 0 && j == n-1)
}

func openRing(r orb.Ring) orb.Ring {
	if len(r) > 1 && r[0].Equal(r[len(r)-1]) {
		return r[:len(r)-1]
	}
	return r
}

func dedupe(r orb.Ring) orb.Ring {
	out := make(orb.Ring, 0, len(r))
	for _, p := range r {
		if len(out) > 0 && out[len(out)-1].Equal(p) {
			continue
		}
		out = append(out, p)
	}
	for len(out) > 1 && out[0].Equal(out[len(out)-1]) {
		out = out[:len(out)-1]
	}
	return out
}

// segmentIntersection 线段交点，平行或共线视为不相交
func segmentIntersection(a, b, c, d orb.Point) (orb.Point, bool) {
	t, _, ok := segmentParams(a, b, c, d)
	if !ok {
		return orb.Point{}, false
	}
	return orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}, true
}

// segmentParams 交点在两条线段上的参数位置
func segmentParams(a, b, c, d orb.Point) (float64, float64, bool) {
	r := orb.Point{b[0] - a[0], b[1] - a[1]}
	s := orb.Point{d[0] - c[0], d[1] - c[1]}
	denom := r[0]*s[1] - r[1]*s[0]
	if math.Abs(denom) < kinkEpsilon {
		return 0, 0, false
	}
	qp := orb.Point{c[0] - a[0], c[1] - a[1]}
	t := (qp[0]*s[1] - qp[1]*s[0]) / denom
	u := (qp[0]*r[1] - qp[1]*r[0]) / denom
	if t < -kinkEpsilon || t > 1+kinkEpsilon || u < -kinkEpsilon || u > 1+kinkEpsilon {
		return 0, 0, false
	}
	return t, u, true
}
