package config

import "fmt"

// ConfigError 配置错误，致命，在任何训练步骤之前返回
type ConfigError struct {
	Key    string
	Value  interface{}
	Reason string
}

// NewConfigError 创建配置错误
func NewConfigError(key string, value interface{}, reason string) *ConfigError {
	return &ConfigError{Key: key, Value: value, Reason: reason}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置错误 [%s=%v]: %s", e.Key, e.Value, e.Reason)
}
