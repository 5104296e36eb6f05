package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config 服务端与地图会话配置，对应 config.xml
type Config struct {
	XMLName    xml.Name `xml:"config"`
	MainRouter string   `xml:"MainRouter"`
	Driver     string   `xml:"driver"` // postgres / sqlite
	Dbname     string   `xml:"dbname"`
	Host       string   `xml:"host"`
	Port       string   `xml:"port"`
	Username   string   `xml:"user"`
	Password   string   `xml:"password"`
	SqlitePath string   `xml:"sqlitepath"`
	LogLevel   string   `xml:"loglevel"`

	// 瓦片
	MaxZoom        int `xml:"maxzoom"`
	TileExtent     int `xml:"tileextent"`
	TileClearLimit int `xml:"tileclearlimit"` // 单次写入涉及瓦片超过该数量时整组清空

	// 地图会话
	Session SessionConfig `xml:"session"`
}

// SessionConfig 编辑会话参数
type SessionConfig struct {
	TileCacheMaxFeatures int     `xml:"tilecachemaxfeatures"`
	UndoDepth            int     `xml:"undodepth"`
	DenyOverlap          bool    `xml:"denyoverlap"`
	EditMetadataOnCreate bool    `xml:"editmetadataoncreate"`
	SplitWidth           float64 `xml:"splitwidth"`
	SnapTolerance        float64 `xml:"snaptolerance"`
	IsochroneMinutes     float64 `xml:"isochroneminutes"`
	IsochroneMode        string  `xml:"isochronemode"`
	RouteWidth           float64 `xml:"routewidth"`
}

// Default 默认配置
func Default() Config {
	return Config{
		MainRouter:     ":8426",
		Driver:         "sqlite",
		SqlitePath:     "fencemap.db",
		LogLevel:       "info",
		MaxZoom:        20,
		TileExtent:     4096,
		TileClearLimit: 200,
		Session: SessionConfig{
			TileCacheMaxFeatures: 10000,
			UndoDepth:            20,
			DenyOverlap:          true,
			SplitWidth:           1e-6,
			SnapTolerance:        1e-4,
			IsochroneMinutes:     10,
			IsochroneMode:        "walking",
			RouteWidth:           1e-4,
		},
	}
}

// Load 读取xml配置，文件不存在时使用默认值；环境变量优先
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		xmlFile, err := os.Open(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return cfg, fmt.Errorf("open config %s: %w", path, err)
		default:
			defer xmlFile.Close()
			if err := xml.NewDecoder(xmlFile).Decode(&cfg); err != nil {
				return cfg, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg)
	cfg.fillZero()
	return cfg, nil
}

// DSN 数据库连接串
func (c Config) DSN() string {
	if strings.EqualFold(c.Driver, "sqlite") {
		return c.SqlitePath
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC", c.Host, c.Username, c.Password, c.Dbname, c.Port)
}

func applyEnv(c *Config) {
	if v := os.Getenv("FENCEMAP_LISTEN"); v != "" {
		c.MainRouter = v
	}
	if v := os.Getenv("FENCEMAP_DRIVER"); v != "" {
		c.Driver = v
	}
	if v := os.Getenv("FENCEMAP_SQLITE_PATH"); v != "" {
		c.SqlitePath = v
	}
	if v := os.Getenv("FENCEMAP_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("FENCEMAP_MAX_FEATURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.TileCacheMaxFeatures = n
		}
	}
}

// fillZero xml里缺省的数值字段回落到默认值
func (c *Config) fillZero() {
	d := Default()
	if c.MainRouter == "" {
		c.MainRouter = d.MainRouter
	}
	if c.Driver == "" {
		c.Driver = d.Driver
	}
	if c.MaxZoom <= 0 {
		c.MaxZoom = d.MaxZoom
	}
	if c.TileExtent <= 0 {
		c.TileExtent = d.TileExtent
	}
	if c.TileClearLimit <= 0 {
		c.TileClearLimit = d.TileClearLimit
	}
	if c.Session.TileCacheMaxFeatures <= 0 {
		c.Session.TileCacheMaxFeatures = d.Session.TileCacheMaxFeatures
	}
	if c.Session.UndoDepth <= 0 {
		c.Session.UndoDepth = d.Session.UndoDepth
	}
	if c.Session.SplitWidth <= 0 {
		c.Session.SplitWidth = d.Session.SplitWidth
	}
	if c.Session.SnapTolerance <= 0 {
		c.Session.SnapTolerance = d.Session.SnapTolerance
	}
	if c.Session.IsochroneMinutes <= 0 {
		c.Session.IsochroneMinutes = d.Session.IsochroneMinutes
	}
	if c.Session.IsochroneMode == "" {
		c.Session.IsochroneMode = d.Session.IsochroneMode
	}
	if c.Session.RouteWidth <= 0 {
		c.Session.RouteWidth = d.Session.RouteWidth
	}
}
