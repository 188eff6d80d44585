package executor

import (
	"fmt"
	"strconv"
	"time"
)

// 动作配置读取辅助函数，配置来自 YAML/JSON，数值类型不固定

func stringParam(cfg map[string]any, key string) string {
	if v, ok := cfg[key]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

func boolParam(cfg map[string]any, key string) bool {
	switch v := cfg[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func intParam(cfg map[string]any, key string) (int, bool) {
	switch v := cfg[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		i, err := strconv.Atoi(v)
		return i, err == nil
	}
	return 0, false
}

func durationParam(cfg map[string]any, key string) time.Duration {
	switch v := cfg[key].(type) {
	case time.Duration:
		return v
	case string:
		d, _ := time.ParseDuration(v)
		return d
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v) * time.Millisecond
	}
	return 0
}

func stringMapParam(cfg map[string]any, key string) map[string]string {
	out := make(map[string]string)
	switch v := cfg[key].(type) {
	case map[string]string:
		for k, s := range v {
			out[k] = s
		}
	case map[string]any:
		for k, s := range v {
			out[k] = fmt.Sprint(s)
		}
	}
	return out
}
