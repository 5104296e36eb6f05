// Package routing 等时圈与路线计算
package routing

import (
	"context"

	"github.com/GrainArc/FenceMap/methods"
	"github.com/paulmach/orb"
)

// Mode 出行方式
type Mode string

const (
	Walking Mode = "walking"
	Cycling Mode = "cycling"
	Driving Mode = "driving"
)

// 平均速度 m/s
var speeds = map[Mode]float64{
	Walking: 1.4,
	Cycling: 4.2,
	Driving: 13.9,
}

// Router 路线与等时圈服务
type Router interface {
	Isochrone(ctx context.Context, center orb.Point, minutes float64, mode Mode) (orb.Polygon, error)
	Route(ctx context.Context, points []orb.Point, mode Mode) (orb.LineString, error)
}

// LocalRouter 本地近似实现：等时圈为匀速圆，路线为途经点折线
type LocalRouter struct {
	steps int
}

// NewLocalRouter steps 为圆的分段数
func NewLocalRouter(steps int) *LocalRouter {
	if steps < 8 {
		steps = 64
	}
	return &LocalRouter{steps: steps}
}

// Isochrone 给定时长内可达范围
func (r *LocalRouter) Isochrone(ctx context.Context, center orb.Point, minutes float64, mode Mode) (orb.Polygon, error) {
	speed, ok := speeds[mode]
	if !ok {
		return nil, methods.ValidationError().With("mode", string(mode)).Errorf("unknown travel mode %q", mode)
	}
	if minutes <= 0 {
		return nil, methods.ValidationError().With("minutes", minutes).Errorf("isochrone duration must be positive")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return methods.Buffer(center, speed*minutes*60, r.steps), nil
}

// Route 依次连接途经点，相邻重复点合并
func (r *LocalRouter) Route(ctx context.Context, points []orb.Point, mode Mode) (orb.LineString, error) {
	if _, ok := speeds[mode]; !ok {
		return nil, methods.ValidationError().With("mode", string(mode)).Errorf("unknown travel mode %q", mode)
	}
	line := make(orb.LineString, 0, len(points))
	for _, p := range points {
		if len(line) > 0 && line[len(line)-1].Equal(p) {
			continue
		}
		line = append(line, p)
	}
	if len(line) < 2 {
		return nil, methods.ValidationError().With("points", len(points)).Errorf("route needs at least two distinct points")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return line, nil
}

// Corridor 路线按宽度生成面
func Corridor(line orb.LineString, width float64) orb.MultiPolygon {
	return methods.BufferLine(line, width)
}
