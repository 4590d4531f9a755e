package parquetschema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/obslake/obslake/utils"
)

type (
	// SchemaAccumulator builds a parquet schema incrementally from
	// dynamic telemetry rows. Columns are discovered as rows arrive;
	// the resulting schema string feeds the parquet JSON writer and its
	// hash becomes the partition's file_schema_hash.
	SchemaAccumulator struct {
		schema Schema
	}

	Schema struct {
		TagStructs SchemaTag `json:"-,omitempty"`
		Fields     []*Schema `json:",omitempty"`
	}

	JSONSchema struct {
		Tag    string        `json:",omitempty"`
		Fields []*JSONSchema `json:",omitempty"`
	}

	SchemaTag struct {
		Name           string         `json:"name,omitempty"`
		Type           string         `json:"type,omitempty"`
		ConvertedType  string         `json:"convertedtype,omitempty"`
		RepetitionType RepetitionType `json:"repetitiontype,omitempty"`
		Encoding       string         `json:"encoding,omitempty"`
	}

	RepetitionType string
)

var (
	Optional RepetitionType = "OPTIONAL"
	Required RepetitionType = "REQUIRED"
)

func NewAccumulator() SchemaAccumulator {
	return SchemaAccumulator{
		schema: Schema{
			TagStructs: SchemaTag{
				Name:           "parquet_go_root",
				RepetitionType: Required,
			},
		},
	}
}

func (sa *SchemaAccumulator) WriteRow(row map[string]any) {
	for key, val := range row {
		if sa.fieldExists(key) {
			continue
		}
		colSchema := sa.columnSchema(key, val)
		if colSchema != nil {
			sa.schema.Fields = append(sa.schema.Fields, colSchema)
		}
	}
}

func (sa *SchemaAccumulator) columnSchema(key string, item any) *Schema {
	// the tag name must match the JSON key exactly or the writer drops
	// the value as an absent optional
	schema := &Schema{
		TagStructs: SchemaTag{
			Name:           key,
			RepetitionType: Optional,
		},
	}
	reflectType := reflect.TypeOf(item)
	if reflectType == nil {
		// null column value, cannot infer a type yet
		return nil
	}
	if reflectType.Kind() == reflect.Ptr {
		reflectType = reflectType.Elem()
	}

	if reflectType.Kind() == reflect.Slice {
		val := reflect.ValueOf(item)
		if val.Len() == 0 {
			return nil
		}
		schema.TagStructs.Type = "LIST"
		schema.Fields = append(schema.Fields, sa.columnSchema("Element", val.Index(0).Interface()))
	} else if _, isStr := item.(string); isStr {
		schema.TagStructs.Type = "BYTE_ARRAY"
		schema.TagStructs.ConvertedType = "UTF8"
		schema.TagStructs.Encoding = "PLAIN"
	} else if _, isStrPtr := item.(*string); isStrPtr {
		schema.TagStructs.Type = "BYTE_ARRAY"
		schema.TagStructs.ConvertedType = "UTF8"
		schema.TagStructs.Encoding = "PLAIN"
	} else {
		// JSON numbers land here; they are all float64 on the wire
		schema.TagStructs.Type = "DOUBLE"
	}

	return schema
}

func (sa *SchemaAccumulator) fieldExists(fieldName string) bool {
	for _, field := range sa.schema.Fields {
		if field.TagStructs.Name == fieldName {
			return true
		}
	}
	return false
}

func (sa *SchemaAccumulator) GetColumnNames() []string {
	var cols []string
	for _, field := range sa.schema.Fields {
		cols = append(cols, field.TagStructs.Name)
	}
	return cols
}

func (s *Schema) GetType() string {
	switch s.TagStructs.Type {
	case "BYTE_ARRAY":
		return "string"
	case "DOUBLE":
		return "float"
	case "LIST":
		return fmt.Sprintf("list(%s)", s.Fields[0].GetType())
	default:
		return "unknown"
	}
}

// GetColumnTypes returns the type of each column in GetColumnNames order:
// `string`, `float`, or `list(x)`.
func (sa *SchemaAccumulator) GetColumnTypes() []string {
	var cols []string
	for _, field := range sa.schema.Fields {
		cols = append(cols, field.GetType())
	}
	return cols
}

func (s *Schema) toJSONSchema() *JSONSchema {
	var tagArr []string
	if s.TagStructs.Type != "" {
		tagArr = append(tagArr, "type="+s.TagStructs.Type)
	}
	if s.TagStructs.ConvertedType != "" {
		tagArr = append(tagArr, "convertedtype="+s.TagStructs.ConvertedType)
	}
	if s.TagStructs.Encoding != "" {
		tagArr = append(tagArr, "encoding="+s.TagStructs.Encoding)
	}
	if s.TagStructs.Name != "" {
		tagArr = append(tagArr, "name="+s.TagStructs.Name)
	}
	if string(s.TagStructs.RepetitionType) != "" {
		tagArr = append(tagArr, "repetitiontype="+string(s.TagStructs.RepetitionType))
	}
	var fields []*JSONSchema
	for _, field := range s.Fields {
		fields = append(fields, field.toJSONSchema())
	}
	return &JSONSchema{
		Tag:    strings.Join(tagArr, ", "),
		Fields: fields,
	}
}

// GetSchemaString returns the JSON formatted schema string consumed by the
// parquet JSON writer.
func (sa *SchemaAccumulator) GetSchemaString() (string, error) {
	var fields []*JSONSchema
	for _, field := range sa.schema.Fields {
		fields = append(fields, field.toJSONSchema())
	}
	pjs := JSONSchema{
		Tag:    "name=parquet_go_root, repetitiontype=REQUIRED",
		Fields: fields,
	}

	b, err := json.Marshal(pjs)
	if err != nil {
		return "", fmt.Errorf("error in json.Marshal: %w", err)
	}
	return string(b), nil
}

// SchemaHash is the content hash of the schema with columns in a
// canonical order, so two partitions holding the same columns compare
// equal no matter what order the rows arrived in.
func (sa *SchemaAccumulator) SchemaHash() []byte {
	type col struct {
		name, typ string
	}
	cols := make([]col, 0, len(sa.schema.Fields))
	for _, field := range sa.schema.Fields {
		cols = append(cols, col{name: field.TagStructs.Name, typ: field.GetType()})
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].name < cols[j].name })
	var sb strings.Builder
	for _, c := range cols {
		sb.WriteString(c.name)
		sb.WriteByte('=')
		sb.WriteString(c.typ)
		sb.WriteByte(';')
	}
	return utils.HashBytes([]byte(sb.String()))
}
