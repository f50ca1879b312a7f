package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供路由策略、响应来源与命中状态字段，供请求日志复用。
func RequestFields(strategy, source, group string, cacheHit bool) logrus.Fields {
	fields := logrus.Fields{
		"strategy":  strategy,
		"source":    source,
		"cache_hit": cacheHit,
	}
	if group != "" {
		fields["group"] = group
	}
	return fields
}

// GenerationFields 标记当前生效的内容版本。
func GenerationFields(version string, groups int) logrus.Fields {
	return logrus.Fields{
		"version": version,
		"groups":  groups,
	}
}
