// Package xconf 基于 koanf 的配置加载，支持 YAML/JSON 与文件变更热加载。
//
//	cfg, err := xconf.New("/etc/slructl/config.yaml")
//	var cache CacheSettings
//	err = cfg.Unmarshal("cache", &cache)
//
//	w, err := xconf.Watch(cfg, func(c xconf.Config, err error) { ... })
//	w.StartAsync()
//	defer w.Stop()
//
// Unmarshal 只覆盖配置中出现的字段，调用方可以先填好默认值再反序列化。
package xconf
