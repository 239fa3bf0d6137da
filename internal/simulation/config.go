package simulation

import "time"

// Config 定义单次模拟的资源约束。
type Config struct {
	MaxRows      int           // 行情带最大点数，<=0 表示不限制
	MaxSlices    int           // 最大切片数，<=0 表示不限制
	Timeout      time.Duration // 单次模拟的计算预算
	CurveEpsilon float64       // 滑点曲线百分比分母下限
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.CurveEpsilon <= 0 {
		cfg.CurveEpsilon = 1e-12
	}
	return cfg
}
