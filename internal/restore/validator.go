package restore

import (
	"fmt"
	"strconv"
	"strings"

	"forcebackup/internal/schema"
)

// ValidateRow checks one cleaned row against the target object's schema
// before any write. Returned problems make the row a validation failure;
// it is counted and never submitted.
func ValidateRow(md *schema.ObjectMetadata, row map[string]interface{}, mode Mode) []string {
	var problems []string

	if mode == ModeUpdate {
		if id, _ := row["Id"].(string); id == "" {
			problems = append(problems, "UPDATE requires an Id value")
		}
	}

	for name, value := range row {
		if name == "Id" || name == "attributes" {
			continue
		}
		field := md.FieldByName(name)
		if field == nil {
			problems = append(problems, fmt.Sprintf("field %s does not exist on %s", name, md.Name))
			continue
		}

		str, isString := value.(string)
		if !isString || str == "" {
			continue
		}

		switch field.Type {
		case "string", "textarea", "phone", "url", "email", "picklist":
			if field.Length > 0 && len(str) > field.Length {
				problems = append(problems, fmt.Sprintf(
					"field %s value length %d exceeds maximum %d", name, len(str), field.Length))
			}
		case "int", "double", "currency", "percent":
			if _, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err != nil {
				problems = append(problems, fmt.Sprintf("field %s value %q is not numeric", name, str))
			}
		case "boolean":
			if _, err := strconv.ParseBool(strings.ToLower(str)); err != nil {
				problems = append(problems, fmt.Sprintf("field %s value %q is not boolean", name, str))
			}
		}
	}

	if mode == ModeInsert || mode == ModeUpsert {
		for _, required := range md.RequiredFieldNames() {
			value, ok := row[required]
			if !ok || value == nil {
				problems = append(problems, "required field "+required+" is missing")
				continue
			}
			if str, isString := value.(string); isString && str == "" {
				problems = append(problems, "required field "+required+" is empty")
			}
		}
	}

	return problems
}
