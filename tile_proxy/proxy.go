package tile_proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GrainArc/FenceMap/methods"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultURLTemplate 矢量瓦片地址模板
const DefaultURLTemplate = "/tiles/{ns}/{z}/{x}/{y}.pbf?v={v}"

// TileLoader 矢量瓦片读穿加载器：先查缓存，未命中再请求并解码写回
type TileLoader struct {
	baseURL     string
	urlTemplate string
	httpClient  *http.Client
	cache       *TileCache
	generation  func() int
	logger      *slog.Logger
	limiter     *rate.Limiter
	parallel    int
}

// LoaderOption 加载器可选项
type LoaderOption func(*TileLoader)

// WithHTTPClient 替换默认http客户端
func WithHTTPClient(c *http.Client) LoaderOption {
	return func(l *TileLoader) { l.httpClient = c }
}

// WithURLTemplate 替换瓦片地址模板
func WithURLTemplate(t string) LoaderOption {
	return func(l *TileLoader) { l.urlTemplate = t }
}

// WithLogger 日志
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *TileLoader) { l.logger = logger }
}

// WithRateLimit 限制每秒瓦片请求数
func WithRateLimit(perSecond float64, burst int) LoaderOption {
	return func(l *TileLoader) { l.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithParallel LoadMany 的最大并发请求数
func WithParallel(n int) LoaderOption {
	return func(l *TileLoader) {
		if n > 0 {
			l.parallel = n
		}
	}
}

// NewTileLoader 创建加载器，generation返回当前缓存失效计数
func NewTileLoader(baseURL string, cache *TileCache, generation func() int, opts ...LoaderOption) *TileLoader {
	l := &TileLoader{
		baseURL:     strings.TrimRight(baseURL, "/"),
		urlTemplate: DefaultURLTemplate,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		cache:      cache,
		generation: generation,
		logger:     slog.Default(),
		parallel:   6,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load 取瓦片要素；请求或解码失败时返回空列表且不写缓存
func (l *TileLoader) Load(ctx context.Context, namespace string, key TileKey) []*geojson.Feature {
	cacheKey := key.String()
	if features, ok := l.cache.Get(cacheKey); ok {
		return features
	}

	gen := l.generation()
	features, err := l.fetch(ctx, l.buildTileURL(namespace, key, gen), key)
	return l.settle(namespace, key, gen, features, err)
}

// LoadMany 批量取瓦片：未命中的并发请求，结果在调用方协程内统一写缓存
func (l *TileLoader) LoadMany(ctx context.Context, namespace string, keys []TileKey) map[string][]*geojson.Feature {
	out := make(map[string][]*geojson.Feature, len(keys))
	var misses []TileKey
	for _, key := range keys {
		if features, ok := l.cache.Get(key.String()); ok {
			out[key.String()] = features
			continue
		}
		misses = append(misses, key)
	}
	if len(misses) == 0 {
		return out
	}

	gen := l.generation()
	results := make([][]*geojson.Feature, len(misses))
	errs := make([]error, len(misses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.parallel)
	for i, key := range misses {
		i, key := i, key
		g.Go(func() error {
			results[i], errs[i] = l.fetch(gctx, l.buildTileURL(namespace, key, gen), key)
			return nil
		})
	}
	_ = g.Wait()

	for i, key := range misses {
		out[key.String()] = l.settle(namespace, key, gen, results[i], errs[i])
	}
	return out
}

// settle 记录请求结果；失败返回空列表，跨越失效计数的结果不写缓存
func (l *TileLoader) settle(namespace string, key TileKey, gen int, features []*geojson.Feature, err error) []*geojson.Feature {
	cacheKey := key.String()
	if err != nil {
		tileFetches.WithLabelValues("error").Inc()
		l.logger.Warn("tile fetch failed", "tile", cacheKey, "namespace", namespace, "error", err)
		return []*geojson.Feature{}
	}
	tileFetches.WithLabelValues("ok").Inc()

	if l.generation() != gen {
		l.logger.Debug("tile fetched across invalidation, not cached", "tile", cacheKey, "generation", gen)
		return features
	}
	l.cache.Set(cacheKey, features)
	return features
}

// buildTileURL 构建瓦片URL，v参数携带失效计数以绕开任何中间缓存
func (l *TileLoader) buildTileURL(namespace string, key TileKey, gen int) string {
	url := l.urlTemplate
	url = strings.ReplaceAll(url, "{ns}", namespace)
	url = strings.ReplaceAll(url, "{z}", strconv.Itoa(key.Z))
	url = strings.ReplaceAll(url, "{x}", strconv.Itoa(key.X))
	url = strings.ReplaceAll(url, "{y}", strconv.Itoa(key.Y))
	url = strings.ReplaceAll(url, "{v}", strconv.Itoa(gen))
	return l.baseURL + url
}

// fetch 获取单个瓦片并解码为WGS84要素
func (l *TileLoader) fetch(ctx context.Context, url string, key TileKey) ([]*geojson.Feature, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.mapbox-vector-tile")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch tile failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return []*geojson.Feature{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tile server returned status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response failed: %w", err)
	}
	return DecodeTile(data, key)
}

// DecodeTile 解码MVT，坐标投影回经纬度
func DecodeTile(data []byte, key TileKey) ([]*geojson.Feature, error) {
	if len(data) == 0 {
		return []*geojson.Feature{}, nil
	}
	var (
		layers mvt.Layers
		err    error
	)
	if len(data) > 2 && data[0] == 0x1f && data[1] == 0x8b {
		layers, err = mvt.UnmarshalGzipped(data)
	} else {
		layers, err = mvt.Unmarshal(data)
	}
	if err != nil {
		return nil, fmt.Errorf("decode tile %s: %w", key, err)
	}
	layers.ProjectToWGS84(key.Tile())

	features := make([]*geojson.Feature, 0)
	for _, layer := range layers {
		for _, f := range layer.Features {
			if methods.FeatureID(f) == "" {
				continue
			}
			features = append(features, f)
		}
	}
	return features, nil
}
