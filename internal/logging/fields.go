package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RetrieveFields 提供缓存键、来源地址与命中层级，供图片请求日志复用。
func RetrieveFields(key, url, processor, cacheType string) logrus.Fields {
	return logrus.Fields{
		"key":        key,
		"url":        url,
		"processor":  processor,
		"cache_type": cacheType,
		"cache_hit":  cacheType == "memory" || cacheType == "disk",
	}
}
