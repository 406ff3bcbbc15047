package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// JSON 通用 JSON 对象类型
type JSON map[string]interface{}

// Value 实现 driver.Valuer 接口
func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan 实现 sql.Scanner 接口
func (j *JSON) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = make(JSON)
		return nil
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return nil
	}
}

// Setting 系统设置表（键值对存储，按版本号做乐观并发控制）
type Setting struct {
	Key       string    `gorm:"primarykey" json:"key"`             // 配置键
	ValueJSON JSON      `gorm:"type:json" json:"value"`            // 配置值
	Version   int64     `gorm:"not null;default:0" json:"version"` // 版本号
	UpdatedAt time.Time `json:"updated_at"`                        // 更新时间
}

// TableName 指定表名
func (Setting) TableName() string {
	return "settings"
}

// String 读取字符串配置值
func (s *Setting) String(field string) string {
	if s == nil || s.ValueJSON == nil {
		return ""
	}
	if v, ok := s.ValueJSON[field].(string); ok {
		return v
	}
	return ""
}
