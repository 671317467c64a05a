package naming

import "strings"

// Reserved attribute names.
const (
	AttrID     = "id"
	AttrLink   = "&"
	AttrSource = "source"
	AttrTarget = "target"
)

// IsReservedAttribute reports whether name cannot be declared as a property
// or relation property of a record. Relations additionally reserve source and target.
func IsReservedAttribute(name string, isRelation bool) bool {
	lower := strings.ToLower(name)
	if lower == AttrID || name == AttrLink || strings.HasPrefix(name, "_") {
		return true
	}
	if strings.ContainsAny(name, ".`\"") {
		return true
	}
	return isRelation && (lower == AttrSource || lower == AttrTarget)
}

// IsReservedRecordName reports whether name cannot be used for a record.
func IsReservedRecordName(name string) bool {
	return name == "" || strings.HasPrefix(name, "_") || strings.ContainsAny(name, ".`\"&")
}
