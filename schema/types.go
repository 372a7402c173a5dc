package schema

import "fmt"

// LogicalType is the storage-relevant type of a field. The set is closed:
// every declared field type name resolves to exactly one of these.
type LogicalType int

const (
	TypeInvalid LogicalType = iota
	TypeString
	TypeText
	TypeBytes
	TypeDate
	TypeDateTime
	TypeTime
	TypeDecimal
	TypeInteger
	TypeFloat
	TypeBool
	TypeKey
	TypeList
)

var logicalNames = [...]string{
	TypeInvalid:  "invalid",
	TypeString:   "string",
	TypeText:     "text",
	TypeBytes:    "bytes",
	TypeDate:     "date",
	TypeDateTime: "datetime",
	TypeTime:     "time",
	TypeDecimal:  "decimal",
	TypeInteger:  "integer",
	TypeFloat:    "float",
	TypeBool:     "bool",
	TypeKey:      "key",
	TypeList:     "list",
}

func (t LogicalType) String() string {
	if t < 0 || int(t) >= len(logicalNames) {
		return fmt.Sprintf("LogicalType(%d)", int(t))
	}
	return logicalNames[t]
}

// Indexable reports whether values of this type can appear in filters and
// orderings. Text and bytes are stored unindexed.
func (t LogicalType) Indexable() bool {
	return t != TypeText && t != TypeBytes
}

// typeNames maps declared field type names onto logical types.
var typeNames = map[string]LogicalType{
	"AutoField":                  TypeKey,
	"BigAutoField":               TypeKey,
	"ForeignKey":                 TypeKey,
	"OneToOneField":              TypeKey,
	"BigIntegerField":            TypeInteger,
	"IntegerField":               TypeInteger,
	"PositiveIntegerField":       TypeInteger,
	"PositiveSmallIntegerField":  TypeInteger,
	"SmallIntegerField":          TypeInteger,
	"BooleanField":               TypeBool,
	"NullBooleanField":           TypeBool,
	"CharField":                  TypeString,
	"CommaSeparatedIntegerField": TypeString,
	"EmailField":                 TypeString,
	"FileField":                  TypeString,
	"FilePathField":              TypeString,
	"ImageField":                 TypeString,
	"IPAddressField":             TypeString,
	"GenericIPAddressField":      TypeString,
	"SlugField":                  TypeString,
	"URLField":                   TypeString,
	"UUIDField":                  TypeString,
	"DateField":                  TypeDate,
	"DateTimeField":              TypeDateTime,
	"TimeField":                  TypeTime,
	"DecimalField":               TypeDecimal,
	"FloatField":                 TypeFloat,
	"TextField":                  TypeText,
	"XMLField":                   TypeText,
	"BlobField":                  TypeBytes,
	"BinaryField":                TypeBytes,
	"DictField":                  TypeBytes,
	"EmbeddedModelField":         TypeBytes,
	"ListField":                  TypeList,
	"SetField":                   TypeList,
}

// structuredTypes hold container values that are serialised to bytes.
var structuredTypes = map[string]bool{
	"DictField":          true,
	"EmbeddedModelField": true,
}

// relationTypes reference another model's primary key.
var relationTypes = map[string]bool{
	"ForeignKey":    true,
	"OneToOneField": true,
}

// LookupType resolves a declared type name.
func LookupType(name string) (LogicalType, error) {
	t, ok := typeNames[name]
	if !ok {
		return TypeInvalid, fmt.Errorf("%w: unknown field type %q", ErrInvalidSchema, name)
	}
	return t, nil
}
