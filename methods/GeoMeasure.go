package methods

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// Flatten 多面拆成单面列表，非面几何返回空
func Flatten(geom orb.Geometry) []orb.Polygon {
	switch g := geom.(type) {
	case orb.Polygon:
		return []orb.Polygon{g}
	case orb.MultiPolygon:
		out := make([]orb.Polygon, 0, len(g))
		for _, p := range g {
			out = append(out, p)
		}
		return out
	case orb.Collection:
		var out []orb.Polygon
		for _, item := range g {
			out = append(out, Flatten(item)...)
		}
		return out
	}
	return nil
}

// ToMultiPolygon 统一成MultiPolygon
func ToMultiPolygon(geom orb.Geometry) orb.MultiPolygon {
	return orb.MultiPolygon(Flatten(geom))
}

// Centroid 面的质心
func Centroid(geom orb.Geometry) orb.Point {
	c, _ := planar.CentroidArea(geom)
	return c
}

// BBox 外包矩形
func BBox(geom orb.Geometry) orb.Bound {
	return geom.Bound()
}

// Area 平面面积（坐标单位）
func Area(geom orb.Geometry) float64 {
	var total float64
	for _, p := range Flatten(geom) {
		for i, r := range p {
			a := math.Abs(ringArea(r))
			if i == 0 {
				total += a
			} else {
				total -= a
			}
		}
	}
	return total
}

// Buffer 以点为中心、半径(米)生成近似圆面
func Buffer(center orb.Point, meters float64, steps int) orb.Polygon {
	if steps < 8 {
		steps = 8
	}
	ring := make(orb.Ring, 0, steps+1)
	for i := 0; i < steps; i++ {
		bearing := 360.0 * float64(i) / float64(steps)
		ring = append(ring, geo.PointAtBearingAndDistance(center, bearing, meters))
	}
	ring = append(ring, ring[0])
	return orb.Polygon{orient(ring, orb.CCW)}
}

// BufferLine 线按平面宽度生成条带面，用于切割
func BufferLine(line orb.LineString, width float64) orb.MultiPolygon {
	half := width / 2
	var strips []orb.Geometry
	for i := 0; i+1 < len(line); i++ {
		a, b := line[i], line[i+1]
		dx, dy := b[0]-a[0], b[1]-a[1]
		length := math.Hypot(dx, dy)
		if length == 0 {
			continue
		}
		// 沿线方向两端各延长半宽，保证相邻条带重叠
		ux, uy := dx/length*half, dy/length*half
		nx, ny := -uy, ux
		a0 := orb.Point{a[0] - ux, a[1] - uy}
		b0 := orb.Point{b[0] + ux, b[1] + uy}
		ring := orb.Ring{
			{a0[0] + nx, a0[1] + ny},
			{b0[0] + nx, b0[1] + ny},
			{b0[0] - nx, b0[1] - ny},
			{a0[0] - nx, a0[1] - ny},
			{a0[0] + nx, a0[1] + ny},
		}
		strips = append(strips, orb.Polygon{orient(ring, orb.CCW)})
	}
	if len(strips) == 0 {
		return nil
	}
	return UnionAll(strips...)
}

// Cut 用折线切割面，返回切割后的多面
func Cut(geom orb.Geometry, line orb.LineString, width float64) orb.MultiPolygon {
	strip := BufferLine(line, width)
	if len(strip) == 0 {
		return ToMultiPolygon(geom)
	}
	return Difference(geom, strip)
}

// Translate 整体平移
func Translate(geom orb.Geometry, dx, dy float64) orb.Geometry {
	out := orb.Clone(geom)
	var shift func(orb.Geometry)
	shift = func(g orb.Geometry) {
		switch t := g.(type) {
		case orb.Polygon:
			for _, r := range t {
				for i := range r {
					r[i][0] += dx
					r[i][1] += dy
				}
			}
		case orb.MultiPolygon:
			for _, p := range t {
				shift(p)
			}
		}
	}
	shift(out)
	return out
}

// VertexRef 顶点位置：多面序号、环序号、点序号
type VertexRef struct {
	Polygon int
	Ring    int
	Point   int
}

// NearestVertex 最近顶点，超出容差返回false
func NearestVertex(geom orb.Geometry, p orb.Point, tolerance float64) (VertexRef, bool) {
	best := VertexRef{}
	bestDist := math.Inf(1)
	for pi, poly := range Flatten(geom) {
		for ri, r := range poly {
			for i, v := range r {
				if i == len(r)-1 && len(r) > 1 {
					break
				}
				d := planar.Distance(v, p)
				if d < bestDist {
					bestDist = d
					best = VertexRef{Polygon: pi, Ring: ri, Point: i}
				}
			}
		}
	}
	return best, bestDist <= tolerance
}

// NearestEdge 最近边，返回边起点位置
func NearestEdge(geom orb.Geometry, p orb.Point, tolerance float64) (VertexRef, bool) {
	best := VertexRef{}
	bestDist := math.Inf(1)
	for pi, poly := range Flatten(geom) {
		for ri, r := range poly {
			for i := 0; i+1 < len(r); i++ {
				d := planar.DistanceFromSegment(r[i], r[i+1], p)
				if d < bestDist {
					bestDist = d
					best = VertexRef{Polygon: pi, Ring: ri, Point: i}
				}
			}
		}
	}
	return best, bestDist <= tolerance
}

// MoveVertex 移动顶点，首点与闭合点同步
func MoveVertex(geom orb.Geometry, ref VertexRef, to orb.Point) orb.Geometry {
	out := orb.Clone(geom)
	r, ok := ringAt(out, ref)
	if !ok || ref.Point >= len(r) {
		return out
	}
	r[ref.Point] = to
	if ref.Point == 0 && len(r) > 1 {
		r[len(r)-1] = to
	}
	return out
}

// InsertVertex 在边ref之后插入顶点
func InsertVertex(geom orb.Geometry, ref VertexRef, at orb.Point) orb.Geometry {
	out := orb.Clone(geom)
	r, ok := ringAt(out, ref)
	if !ok || ref.Point+1 >= len(r) {
		return out
	}
	nr := make(orb.Ring, 0, len(r)+1)
	nr = append(nr, r[:ref.Point+1]...)
	nr = append(nr, at)
	nr = append(nr, r[ref.Point+1:]...)
	return replaceRing(out, ref, nr)
}

// RemoveVertex 删除顶点，环少于三个点时不删
func RemoveVertex(geom orb.Geometry, ref VertexRef) orb.Geometry {
	out := orb.Clone(geom)
	r, ok := ringAt(out, ref)
	if !ok || len(r) <= 4 || ref.Point >= len(r)-1 {
		return out
	}
	nr := make(orb.Ring, 0, len(r)-1)
	nr = append(nr, r[:ref.Point]...)
	nr = append(nr, r[ref.Point+1:]...)
	if ref.Point == 0 {
		nr[len(nr)-1] = nr[0]
	}
	return replaceRing(out, ref, nr)
}

func ringAt(geom orb.Geometry, ref VertexRef) (orb.Ring, bool) {
	switch g := geom.(type) {
	case orb.Polygon:
		if ref.Polygon == 0 && ref.Ring < len(g) {
			return g[ref.Ring], true
		}
	case orb.MultiPolygon:
		if ref.Polygon < len(g) && ref.Ring < len(g[ref.Polygon]) {
			return g[ref.Polygon][ref.Ring], true
		}
	}
	return nil, false
}

func replaceRing(geom orb.Geometry, ref VertexRef, r orb.Ring) orb.Geometry {
	switch g := geom.(type) {
	case orb.Polygon:
		g[ref.Ring] = r
		return g
	case orb.MultiPolygon:
		g[ref.Polygon][ref.Ring] = r
		return g
	}
	return geom
}
