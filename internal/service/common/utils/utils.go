package utils

import (
	"errors"
	"reflect"

	"github.com/open-zaak/notificaties-server/internal/service/common/db"
)

// ErrNotFound is returned by lookups that matched no row. Callers use
// errors.Is to distinguish a missing record from a query failure.
var ErrNotFound = errors.New("not found")

// DBTag maps struct field names to their db column tags.
type DBTag map[string]string

const includeNilValues = false
const excludeNilValues = true

// Columns converts the tag values to a slice usable with sm.Columns.
func (r DBTag) Columns() []any {
	columns := make([]any, 0, len(r))
	for _, tag := range r {
		columns = append(columns, tag)
	}

	return columns
}

// getDBTagsFromStruct returns a map of field names to their db tags.
func getDBTagsFromStruct[T db.Model](s T, excludeNilValues bool) DBTag {
	tags := make(DBTag)

	st := reflect.TypeOf(s)
	sv := reflect.ValueOf(s)
	if st.Kind() != reflect.Struct {
		st = st.Elem()
		sv = sv.Elem()
	}

	for i := 0; i < st.NumField(); i++ {
		fieldName := st.Field(i).Name
		tagValue := st.Field(i).Tag.Get("db")
		if tagValue == "" || tagValue == "-" {
			continue
		}
		switch {
		case !excludeNilValues:
			tags[fieldName] = tagValue
		case st.Field(i).Type.Kind() != reflect.Pointer:
			tags[fieldName] = tagValue
		default:
			fieldValue := sv.Field(i)
			if !fieldValue.IsNil() {
				tags[fieldName] = tagValue
			}
		}
	}

	return tags
}

// GetNonNilDBTagsFromStruct returns a map of field names to their db tags.
// Only non-pointer fields or non-nil pointer fields are considered.
func GetNonNilDBTagsFromStruct[T db.Model](s T) DBTag {
	return getDBTagsFromStruct(s, excludeNilValues)
}

// GetAllDBTagsFromStruct returns a map of field names to their db tags.
func GetAllDBTagsFromStruct[T db.Model](s T) DBTag {
	return getDBTagsFromStruct(s, includeNilValues)
}

// GetDBTagsFromStructFields returns the db tags of the fields specified.
// Non-existent fields are ignored.
func GetDBTagsFromStructFields[T db.Model](s T, fields ...string) DBTag {
	tags := make(DBTag)

	st := reflect.TypeOf(s)
	if st.Kind() != reflect.Struct {
		st = st.Elem()
	}

	for _, field := range fields {
		f, found := st.FieldByName(field)
		if !found {
			continue
		}

		tags[f.Name] = f.Tag.Get("db")
	}

	return tags
}

// GetColumns returns the column names of the given fields, in field order.
// Used to set insert columns so they line up with the values.
func GetColumns[T db.Model](s T, fields []string) []string {
	st := reflect.TypeOf(s)
	if st.Kind() != reflect.Struct {
		st = st.Elem()
	}

	columns := make([]string, 0, len(fields))
	for _, field := range fields {
		f, found := st.FieldByName(field)
		if !found {
			continue
		}
		columns = append(columns, f.Tag.Get("db"))
	}

	return columns
}

// GetFieldValues returns the values of the given fields, in field order.
func GetFieldValues[T db.Model](s T, fields []string) []any {
	sv := reflect.ValueOf(s)
	if sv.Kind() != reflect.Struct {
		sv = sv.Elem()
	}

	values := make([]any, 0, len(fields))
	for _, field := range fields {
		fv := sv.FieldByName(field)
		if !fv.IsValid() {
			continue
		}
		values = append(values, fv.Interface())
	}

	return values
}
