package service

import (
	"strings"

	"zh.xyz/dv/glidesync/models"
)

// SuggestionEngine 列映射建议引擎
// 只在映射编辑阶段使用，输出仍需通过校验器才能落库
type SuggestionEngine struct{}

func NewSuggestionEngine() *SuggestionEngine {
	return &SuggestionEngine{}
}

// Suggest 为每个源列提出最接近的目标列建议
// 匹配优先级：规范化后精确匹配 > 前缀匹配 > 子串匹配 > 放弃建议
func (e *SuggestionEngine) Suggest(sinkSchema []models.ColumnSchema, sourceColumns []string) []models.ColumnMapping {
	suggestions := make([]models.ColumnMapping, 0, len(sourceColumns))

	for _, src := range sourceColumns {
		normalized := normalizeColumnName(src)
		if normalized == "" {
			continue
		}

		var match *models.ColumnSchema

		// 精确匹配
		for i := range sinkSchema {
			if normalizeColumnName(sinkSchema[i].Name) == normalized {
				match = &sinkSchema[i]
				break
			}
		}

		// 前缀匹配
		if match == nil {
			for i := range sinkSchema {
				sinkNorm := normalizeColumnName(sinkSchema[i].Name)
				if strings.HasPrefix(sinkNorm, normalized) || strings.HasPrefix(normalized, sinkNorm) {
					match = &sinkSchema[i]
					break
				}
			}
		}

		// 子串匹配
		if match == nil {
			for i := range sinkSchema {
				sinkNorm := normalizeColumnName(sinkSchema[i].Name)
				if strings.Contains(sinkNorm, normalized) || strings.Contains(normalized, sinkNorm) {
					match = &sinkSchema[i]
					break
				}
			}
		}

		if match == nil {
			continue
		}

		dataType := declaredTypeFor(match.NativeType)
		if dataType == "" {
			continue
		}

		suggestions = append(suggestions, models.ColumnMapping{
			GlideColumn:    src,
			SupabaseColumn: match.Name,
			DataType:       dataType,
		})
	}

	return suggestions
}

// normalizeColumnName 大小写不敏感、空格与下划线等价
func normalizeColumnName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, " ", "_")
	n = strings.ReplaceAll(n, "-", "_")
	return n
}

// declaredTypeFor 由目标列原生类型推断声明类型
func declaredTypeFor(nativeType string) string {
	switch nativeTypeFamily(nativeType) {
	case "string":
		return models.DataTypeString
	case "number":
		return models.DataTypeNumber
	case "boolean":
		return models.DataTypeBoolean
	case "date":
		return models.DataTypeDate
	case "json":
		return models.DataTypeJSON
	default:
		return ""
	}
}
