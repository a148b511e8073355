package service

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"zh.xyz/dv/glidesync/models"
)

// 常见时间格式，按出现频率排列
var timeFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05.000000Z",
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05.000",
	"2006-01-02",
}

// CoerceValue 把一个字段值强制转换为声明类型
// 转换失败只影响该行（计入failed_records），不会中断整次运行
func CoerceValue(value interface{}, dataType string) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	switch dataType {
	case models.DataTypeString:
		return coerceString(value)
	case models.DataTypeNumber:
		return coerceNumber(value)
	case models.DataTypeBoolean:
		return coerceBoolean(value)
	case models.DataTypeDate:
		return coerceDate(value)
	case models.DataTypeJSON:
		return coerceJSON(value)
	default:
		return nil, fmt.Errorf("未知的声明类型: %s", dataType)
	}
}

func coerceString(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return ensureUTF8(v), nil
	case []byte:
		return ensureUTF8(string(v)), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case int:
		return strconv.Itoa(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case time.Time:
		return v.UTC().Format(time.RFC3339), nil
	default:
		return nil, fmt.Errorf("无法将 %T 转换为字符串", value)
	}
}

func coerceNumber(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("无法将 %q 解析为数值", v)
		}
		return f, nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
		if err != nil {
			return nil, fmt.Errorf("无法将 %q 解析为数值", string(v))
		}
		return f, nil
	default:
		return nil, fmt.Errorf("无法将 %T 转换为数值", value)
	}
}

func coerceBoolean(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no", "":
			return false, nil
		}
		return nil, fmt.Errorf("无法将 %q 解析为布尔值", v)
	case float64:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
		return nil, fmt.Errorf("无法将数值 %v 解析为布尔值", v)
	case int:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
		return nil, fmt.Errorf("无法将数值 %v 解析为布尔值", v)
	default:
		return nil, fmt.Errorf("无法将 %T 转换为布尔值", value)
	}
}

func coerceDate(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		for _, format := range timeFormats {
			if t, err := time.Parse(format, v); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, fmt.Errorf("无法将 %q 解析为时间", v)
	case float64:
		// Unix秒时间戳
		return time.Unix(int64(v), 0).UTC(), nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	default:
		return nil, fmt.Errorf("无法将 %T 转换为时间", value)
	}
}

func coerceJSON(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		if !json.Valid([]byte(v)) {
			return nil, fmt.Errorf("字符串不是合法的JSON")
		}
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, fmt.Errorf("字节串不是合法的JSON")
		}
		return string(v), nil
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	default:
		return nil, fmt.Errorf("无法将 %T 转换为JSON", value)
	}
}

// ensureUTF8 清理无效的UTF-8字节，无效字节替换为U+FFFD
func ensureUTF8(str string) string {
	if utf8.ValidString(str) {
		return str
	}

	v := make([]rune, 0, len(str))
	for i := 0; i < len(str); {
		r, size := utf8.DecodeRuneInString(str[i:])
		if r == utf8.RuneError && size == 1 {
			v = append(v, '�')
			i++
		} else {
			v = append(v, r)
			i += size
		}
	}
	return string(v)
}
