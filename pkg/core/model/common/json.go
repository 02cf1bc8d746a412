package common

import (
	"database/sql/driver"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONSlice 以 JSON 文本存储的切片列
type JSONSlice[T any] []T

// Scan 实现 sql.Scanner 接口
func (j *JSONSlice[T]) Scan(value interface{}) error {
	var bytes []byte
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("无法解析 JSON 列: %T", value)
	}

	var result []T
	if err := json.Unmarshal(bytes, &result); err != nil {
		return err
	}
	*j = result
	return nil
}

// Value 实现 driver.Valuer 接口
func (j JSONSlice[T]) Value() (driver.Value, error) {
	if j == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]T(j))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (JSONSlice[T]) GormDataType() string {
	return "text"
}
