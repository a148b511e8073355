package service

import (
	"fmt"
	"sort"
	"strings"

	"zh.xyz/dv/glidesync/models"
)

// ValidationResult 校验结果：布尔值加单条说明（首个失败原因或成功提示）
type ValidationResult struct {
	Valid   bool   `json:"is_valid"`
	Message string `json:"message"`
}

// MappingValidator 表映射校验器
// 纯函数式，不做任何I/O，两端结构快照由调用方传入
type MappingValidator struct{}

func NewMappingValidator() *MappingValidator {
	return &MappingValidator{}
}

// typeCompatibility 目标列原生类型族 -> 允许的声明类型
// 固定兼容表，声明类型必须出现在目标列类型族的允许集合中
var typeCompatibility = map[string][]string{
	"string":  {models.DataTypeString},
	"number":  {models.DataTypeNumber},
	"boolean": {models.DataTypeBoolean},
	"date":    {models.DataTypeDate},
	"json":    {models.DataTypeJSON},
}

// nativeTypeFamily 把端点原生类型归并为类型族
func nativeTypeFamily(nativeType string) string {
	t := strings.ToLower(strings.TrimSpace(nativeType))
	// 去掉长度/精度修饰，如 varchar(255)、numeric(10,2)
	if idx := strings.Index(t, "("); idx > 0 {
		t = t[:idx]
	}
	switch t {
	case "text", "varchar", "char", "character varying", "character", "uuid", "citext", "string", "uri", "image-uri", "email-address", "phone-number", "markdown":
		return "string"
	case "integer", "int", "int2", "int4", "int8", "smallint", "bigint", "numeric", "decimal", "real", "float", "float4", "float8", "double precision", "number":
		return "number"
	case "boolean", "bool":
		return "boolean"
	case "date", "timestamp", "timestamptz", "timestamp with time zone", "timestamp without time zone", "datetime", "date-time", "time-zone-aware-date-time":
		return "date"
	case "json", "jsonb":
		return "json"
	default:
		return ""
	}
}

// 源列名中不允许嵌入的分隔符
const columnNameDelimiters = ",;'\"`"

// Validate 按固定顺序校验映射，遇到首个失败即返回
// 规则顺序：非空列集 -> 目标列去重 -> 源列名合法且存在 -> 类型兼容 -> 双向可写
func (v *MappingValidator) Validate(mapping *models.TableMapping, sourceSchema, sinkSchema []models.ColumnSchema) ValidationResult {
	// 1. 列映射集合非空
	if len(mapping.ColumnMappings) == 0 {
		return ValidationResult{Valid: false, Message: "列映射集合为空，至少需要一条列映射"}
	}

	// map遍历顺序随机，按源列名排序保证首个失败原因稳定
	keys := make([]string, 0, len(mapping.ColumnMappings))
	for k := range mapping.ColumnMappings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// 2. 不允许两条列映射指向同一个目标列
	seen := make(map[string]string, len(keys))
	for _, k := range keys {
		cm := mapping.ColumnMappings[k]
		if prev, ok := seen[cm.SupabaseColumn]; ok {
			return ValidationResult{
				Valid:   false,
				Message: fmt.Sprintf("目标列 %s 被重复映射（来自源列 %s 和 %s）", cm.SupabaseColumn, prev, cm.GlideColumn),
			}
		}
		seen[cm.SupabaseColumn] = cm.GlideColumn
	}

	sourceByName := schemaByName(sourceSchema)
	sinkByName := schemaByName(sinkSchema)

	// 3. 源列名合法且存在于调用方提供的源结构快照中
	for _, k := range keys {
		cm := mapping.ColumnMappings[k]
		if strings.TrimSpace(cm.GlideColumn) == "" {
			return ValidationResult{Valid: false, Message: "存在源列名为空的列映射"}
		}
		if strings.ContainsAny(cm.GlideColumn, columnNameDelimiters) {
			return ValidationResult{
				Valid:   false,
				Message: fmt.Sprintf("源列名 %s 包含非法分隔符", cm.GlideColumn),
			}
		}
		if _, ok := sourceByName[cm.GlideColumn]; !ok {
			return ValidationResult{
				Valid:   false,
				Message: fmt.Sprintf("源列 %s 不存在于Glide表结构中", cm.GlideColumn),
			}
		}
	}

	// 4. 声明类型必须与目标列原生类型兼容
	for _, k := range keys {
		cm := mapping.ColumnMappings[k]
		sinkCol, ok := sinkByName[cm.SupabaseColumn]
		if !ok {
			return ValidationResult{
				Valid:   false,
				Message: fmt.Sprintf("目标列 %s 不存在于Supabase表结构中", cm.SupabaseColumn),
			}
		}
		family := nativeTypeFamily(sinkCol.NativeType)
		if family == "" {
			return ValidationResult{
				Valid:   false,
				Message: fmt.Sprintf("目标列 %s 的原生类型 %s 无法识别", cm.SupabaseColumn, sinkCol.NativeType),
			}
		}
		if !containsString(typeCompatibility[family], cm.DataType) {
			return ValidationResult{
				Valid: false,
				Message: fmt.Sprintf("列 %s 声明类型 %s 与目标列 %s 的类型族 %s 不兼容",
					cm.GlideColumn, cm.DataType, cm.SupabaseColumn, family),
			}
		}
	}

	// 5. 双向映射要求两端列均可写
	if mapping.SyncDirection == models.DirectionBidirectional {
		for _, k := range keys {
			cm := mapping.ColumnMappings[k]
			if src := sourceByName[cm.GlideColumn]; !src.Writable {
				return ValidationResult{
					Valid:   false,
					Message: fmt.Sprintf("源列 %s 只读，不能参与双向映射", cm.GlideColumn),
				}
			}
			if sink := sinkByName[cm.SupabaseColumn]; !sink.Writable {
				return ValidationResult{
					Valid:   false,
					Message: fmt.Sprintf("目标列 %s 只读，不能参与双向映射", cm.SupabaseColumn),
				}
			}
		}
	}

	return ValidationResult{Valid: true, Message: "映射校验通过"}
}

func schemaByName(schema []models.ColumnSchema) map[string]models.ColumnSchema {
	m := make(map[string]models.ColumnSchema, len(schema))
	for _, col := range schema {
		m[col.Name] = col
	}
	return m
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
