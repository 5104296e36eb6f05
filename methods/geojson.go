package methods

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
)

// IDProperty 瓦片要素中承载图形uuid的属性名
const IDProperty = "id"

// FeatureID 取要素标识，优先properties中的id
func FeatureID(f *geojson.Feature) string {
	if f == nil {
		return ""
	}
	if v, ok := f.Properties[IDProperty]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	if f.ID != nil {
		if s, ok := f.ID.(string); ok {
			return s
		}
		return fmt.Sprint(f.ID)
	}
	return ""
}

// GeometryToWKB 几何转WKB，Polygon统一存为MultiPolygon
func GeometryToWKB(geom orb.Geometry) ([]byte, error) {
	if polygon, ok := geom.(orb.Polygon); ok {
		geom = orb.MultiPolygon{polygon}
	}
	return wkb.Marshal(geom)
}

// WKBToGeometry WKB转几何，单个面的MultiPolygon还原为Polygon
func WKBToGeometry(data []byte) (orb.Geometry, error) {
	geom, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if mp, ok := geom.(orb.MultiPolygon); ok && len(mp) == 1 {
		return mp[0], nil
	}
	return geom, nil
}

// CloneFeature 深拷贝要素，编辑中的工作几何不影响原数据
func CloneFeature(f *geojson.Feature) *geojson.Feature {
	if f == nil {
		return nil
	}
	out := geojson.NewFeature(orb.Clone(f.Geometry))
	out.ID = f.ID
	for k, v := range f.Properties {
		out.Properties[k] = v
	}
	return out
}

// IsAreal 是否为面或多面
func IsAreal(geom orb.Geometry) bool {
	switch geom.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return true
	}
	return false
}
