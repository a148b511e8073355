package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"zh.xyz/dv/glidesync/models"
)

func testSourceSchema() []models.ColumnSchema {
	return []models.ColumnSchema{
		{Name: "Name", NativeType: "string", Writable: true},
		{Name: "Amount", NativeType: "number", Writable: true},
		{Name: "Active", NativeType: "boolean", Writable: true},
		{Name: "Created", NativeType: "date-time", Writable: false},
		{Name: "Meta", NativeType: "string", Writable: true},
	}
}

func testSinkSchema() []models.ColumnSchema {
	return []models.ColumnSchema{
		{Name: "name", NativeType: "varchar(255)", Writable: true},
		{Name: "amount", NativeType: "numeric(10,2)", Writable: true},
		{Name: "active", NativeType: "boolean", Writable: true},
		{Name: "created_at", NativeType: "timestamptz", Writable: true},
		{Name: "meta", NativeType: "jsonb", Writable: true},
		{Name: "row_version", NativeType: "bigint", Writable: false},
	}
}

func mappingWith(direction string, cms ...models.ColumnMapping) *models.TableMapping {
	set := models.ColumnMappingSet{}
	for _, cm := range cms {
		set[cm.GlideColumn] = cm
	}
	return &models.TableMapping{
		ID:             "m-1",
		SyncDirection:  direction,
		ColumnMappings: set,
	}
}

func TestValidateOK(t *testing.T) {
	v := NewMappingValidator()
	m := mappingWith(models.DirectionToSupabase,
		models.ColumnMapping{GlideColumn: "Name", SupabaseColumn: "name", DataType: models.DataTypeString},
		models.ColumnMapping{GlideColumn: "Amount", SupabaseColumn: "amount", DataType: models.DataTypeNumber},
		models.ColumnMapping{GlideColumn: "Active", SupabaseColumn: "active", DataType: models.DataTypeBoolean},
	)

	result := v.Validate(m, testSourceSchema(), testSinkSchema())
	assert.True(t, result.Valid)
}

func TestValidateEmptyMappingSet(t *testing.T) {
	v := NewMappingValidator()
	m := mappingWith(models.DirectionToSupabase)

	result := v.Validate(m, testSourceSchema(), testSinkSchema())
	assert.False(t, result.Valid)
	assert.Contains(t, result.Message, "为空")
}

func TestValidateDuplicateSinkColumn(t *testing.T) {
	v := NewMappingValidator()
	m := mappingWith(models.DirectionToSupabase,
		models.ColumnMapping{GlideColumn: "Name", SupabaseColumn: "name", DataType: models.DataTypeString},
		models.ColumnMapping{GlideColumn: "Meta", SupabaseColumn: "name", DataType: models.DataTypeString},
	)

	result := v.Validate(m, testSourceSchema(), testSinkSchema())
	assert.False(t, result.Valid)
	assert.Contains(t, result.Message, "重复映射")
}

func TestValidateSourceColumnRules(t *testing.T) {
	v := NewMappingValidator()

	tests := []struct {
		name string
		cm   models.ColumnMapping
		want string
	}{
		{
			"源列名含分隔符",
			models.ColumnMapping{GlideColumn: "Na;me", SupabaseColumn: "name", DataType: models.DataTypeString},
			"非法分隔符",
		},
		{
			"源列不存在",
			models.ColumnMapping{GlideColumn: "Ghost", SupabaseColumn: "name", DataType: models.DataTypeString},
			"不存在于Glide表结构",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mappingWith(models.DirectionToSupabase, tt.cm)
			result := v.Validate(m, testSourceSchema(), testSinkSchema())
			assert.False(t, result.Valid)
			assert.Contains(t, result.Message, tt.want)
		})
	}
}

func TestValidateTypeCompatibility(t *testing.T) {
	v := NewMappingValidator()

	// 数值声明类型映射到varchar目标列，类型族不兼容
	m := mappingWith(models.DirectionToSupabase,
		models.ColumnMapping{GlideColumn: "Amount", SupabaseColumn: "name", DataType: models.DataTypeNumber},
	)
	result := v.Validate(m, testSourceSchema(), testSinkSchema())
	assert.False(t, result.Valid)
	assert.Contains(t, result.Message, "不兼容")

	// jsonb目标列只接受json声明类型
	m = mappingWith(models.DirectionToSupabase,
		models.ColumnMapping{GlideColumn: "Meta", SupabaseColumn: "meta", DataType: models.DataTypeString},
	)
	result = v.Validate(m, testSourceSchema(), testSinkSchema())
	assert.False(t, result.Valid)

	m = mappingWith(models.DirectionToSupabase,
		models.ColumnMapping{GlideColumn: "Meta", SupabaseColumn: "meta", DataType: models.DataTypeJSON},
	)
	result = v.Validate(m, testSourceSchema(), testSinkSchema())
	assert.True(t, result.Valid)

	// boolean目标列拒绝number声明类型
	m = mappingWith(models.DirectionToSupabase,
		models.ColumnMapping{GlideColumn: "Amount", SupabaseColumn: "active", DataType: models.DataTypeNumber},
	)
	result = v.Validate(m, testSourceSchema(), testSinkSchema())
	assert.False(t, result.Valid)
}

func TestValidateSinkColumnMissing(t *testing.T) {
	v := NewMappingValidator()
	m := mappingWith(models.DirectionToSupabase,
		models.ColumnMapping{GlideColumn: "Name", SupabaseColumn: "ghost", DataType: models.DataTypeString},
	)

	result := v.Validate(m, testSourceSchema(), testSinkSchema())
	assert.False(t, result.Valid)
	assert.Contains(t, result.Message, "不存在于Supabase表结构")
}

func TestValidateBidirectionalWritability(t *testing.T) {
	v := NewMappingValidator()

	// Created在Glide侧只读，单向允许
	m := mappingWith(models.DirectionToSupabase,
		models.ColumnMapping{GlideColumn: "Created", SupabaseColumn: "created_at", DataType: models.DataTypeDate},
	)
	result := v.Validate(m, testSourceSchema(), testSinkSchema())
	assert.True(t, result.Valid)

	// 双向要求两端均可写
	m = mappingWith(models.DirectionBidirectional,
		models.ColumnMapping{GlideColumn: "Created", SupabaseColumn: "created_at", DataType: models.DataTypeDate},
	)
	result = v.Validate(m, testSourceSchema(), testSinkSchema())
	assert.False(t, result.Valid)
	assert.Contains(t, result.Message, "只读")

	// 目标侧只读列同样拒绝
	m = mappingWith(models.DirectionBidirectional,
		models.ColumnMapping{GlideColumn: "Amount", SupabaseColumn: "row_version", DataType: models.DataTypeNumber},
	)
	result = v.Validate(m, testSourceSchema(), testSinkSchema())
	assert.False(t, result.Valid)
}

func TestValidateRuleOrder(t *testing.T) {
	v := NewMappingValidator()

	// 同时违反去重规则和类型规则时，先报去重（规则顺序固定）
	m := mappingWith(models.DirectionToSupabase,
		models.ColumnMapping{GlideColumn: "Amount", SupabaseColumn: "name", DataType: models.DataTypeNumber},
		models.ColumnMapping{GlideColumn: "Name", SupabaseColumn: "name", DataType: models.DataTypeString},
	)
	result := v.Validate(m, testSourceSchema(), testSinkSchema())
	assert.False(t, result.Valid)
	assert.Contains(t, result.Message, "重复映射")
}

func TestNativeTypeFamily(t *testing.T) {
	tests := []struct {
		nativeType string
		want       string
	}{
		{"varchar(255)", "string"},
		{"TEXT", "string"},
		{"uuid", "string"},
		{"numeric(10,2)", "number"},
		{"int8", "number"},
		{"double precision", "number"},
		{"bool", "boolean"},
		{"timestamp with time zone", "date"},
		{"date-time", "date"},
		{"jsonb", "json"},
		{"geometry", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, nativeTypeFamily(tt.nativeType), tt.nativeType)
	}
}
