package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// FlexibleUnmarshal unmarshals field data into target, reconciling the loose
// typing of the Data API with the struct's field types:
//   - numbers and booleans are converted to strings for string fields;
//   - numeric strings are converted to numbers for numeric fields;
//   - empty strings (how the API reports an empty number field) leave numeric
//     and boolean fields at their zero value.
func FlexibleUnmarshal(data []byte, target any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rawData map[string]any
	if err := dec.Decode(&rawData); err != nil {
		return err
	}

	targetValue := reflect.ValueOf(target)
	if targetValue.Kind() != reflect.Ptr {
		return fmt.Errorf("target must be a pointer")
	}
	targetElem := targetValue.Elem()
	if targetElem.Kind() != reflect.Struct {
		return fmt.Errorf("target must be a pointer to struct")
	}

	convertedJSON, err := json.Marshal(convertMapToStruct(rawData, targetElem.Type()))
	if err != nil {
		return err
	}
	return json.Unmarshal(convertedJSON, target)
}

// convertMapToStruct recursively converts map values to match struct field types.
func convertMapToStruct(data map[string]any, structType reflect.Type) map[string]any {
	result := make(map[string]any, len(data))
	for key, value := range data {
		field, found := findFieldByJSONTag(structType, key)
		if !found {
			result[key] = value
			continue
		}
		converted, keep := convertValue(value, field.Type)
		if keep {
			result[key] = converted
		}
	}
	return result
}

// convertValue returns the converted value and whether it should be kept.
func convertValue(value any, targetType reflect.Type) (any, bool) {
	if value == nil {
		return nil, true
	}
	if targetType.Kind() == reflect.Ptr {
		return convertValue(value, targetType.Elem())
	}

	switch targetType.Kind() {
	case reflect.String:
		return convertToString(value), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if s, ok := value.(string); ok {
			s = strings.TrimSpace(s)
			if s == "" {
				return nil, false
			}
			if _, err := strconv.ParseFloat(s, 64); err == nil {
				return json.Number(s), true
			}
		}
	case reflect.Bool:
		switch v := value.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return nil, false
			}
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b, true
			}
		case json.Number:
			return v.String() != "0", true
		}
	case reflect.Slice:
		if arr, ok := value.([]any); ok {
			result := make([]any, 0, len(arr))
			for _, item := range arr {
				if converted, keep := convertValue(item, targetType.Elem()); keep {
					result = append(result, converted)
				}
			}
			return result, true
		}
	case reflect.Struct:
		if m, ok := value.(map[string]any); ok {
			return convertMapToStruct(m, targetType), true
		}
	}
	return value, true
}

// convertToString converts any scalar value to a string.
func convertToString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// findFieldByJSONTag finds a struct field by its JSON tag, falling back to a
// case-insensitive match on the field name like encoding/json does.
func findFieldByJSONTag(structType reflect.Type, key string) (reflect.StructField, bool) {
	var fallback *reflect.StructField
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if !field.IsExported() {
			continue
		}
		tagName, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if tagName == "-" {
			continue
		}
		if tagName == key {
			return field, true
		}
		if tagName == "" && fallback == nil && strings.EqualFold(field.Name, key) {
			fallback = &field
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return reflect.StructField{}, false
}
