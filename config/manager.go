package config

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Manager is a flat key/value configuration store. Nested JSON objects are
// flattened into dotted keys.
type Manager struct {
	values map[string]any
	mu     sync.RWMutex
}

// NewManager creates an empty configuration manager
func NewManager() *Manager {
	return &Manager{
		values: make(map[string]any),
	}
}

// Set sets a configuration value
func (m *Manager) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
}

// Get gets a configuration value
func (m *Manager) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.values[key]
	return value, exists
}

// GetString gets a string configuration value
func (m *Manager) GetString(key string, defaultValue ...string) string {
	if value, exists := m.Get(key); exists {
		switch v := value.(type) {
		case string:
			return v
		case fmt.Stringer:
			return v.String()
		}
	}

	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

// GetInt gets an integer configuration value
func (m *Manager) GetInt(key string, defaultValue ...int) int {
	if value, exists := m.Get(key); exists {
		switch v := value.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		case string:
			if i, err := strconv.Atoi(v); err == nil {
				return i
			}
		}
	}

	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return 0
}

// GetBool gets a boolean configuration value
func (m *Manager) GetBool(key string, defaultValue ...bool) bool {
	if value, exists := m.Get(key); exists {
		switch v := value.(type) {
		case bool:
			return v
		case string:
			return v == "true" || v == "yes" || v == "1"
		case int:
			return v != 0
		}
	}

	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return false
}

// GetDuration gets a duration configuration value. Numbers are seconds.
func (m *Manager) GetDuration(key string, defaultValue ...time.Duration) time.Duration {
	if value, exists := m.Get(key); exists {
		if d, err := toDuration(value); err == nil {
			return d
		}
	}

	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return 0
}

// Keys returns every key in sorted order
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadFromEnv loads variables named PREFIX_SOME_KEY as "some_key"
func (m *Manager) LoadFromEnv(prefix string) {
	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}

		// Check if key has the prefix
		if prefix != "" {
			if !strings.HasPrefix(key, prefix+"_") {
				continue
			}
			key = strings.TrimPrefix(key, prefix+"_")
		}
		if key == "" {
			continue
		}

		m.Set(strings.ToLower(key), value)
	}
}

// LoadFromJSON loads configuration from JSON file
func (m *Manager) LoadFromJSON(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var values map[string]any
	if err := jsoniter.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse JSON config %s: %w", filename, err)
	}

	m.loadFromMap("", values)
	return nil
}

// loadFromMap recursively loads configuration from a map
func (m *Manager) loadFromMap(prefix string, values map[string]any) {
	for key, value := range values {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		// If value is a map, recurse
		if nested, ok := value.(map[string]any); ok {
			m.loadFromMap(fullKey, nested)
		} else {
			m.Set(fullKey, value)
		}
	}
}

// Marshal stores the fields of the struct pointed to by source under their
// config keys. It is the inverse of Unmarshal.
func (m *Manager) Marshal(prefix string, source any) error {
	v := reflect.ValueOf(source)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("source must be a pointer to struct")
	}
	v = v.Elem()

	m.mu.Lock()
	defer m.mu.Unlock()

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		m.values[fieldKey(prefix, field)] = v.Field(i).Interface()
	}

	return nil
}

// Unmarshal unmarshals configuration into a struct
func (m *Manager) Unmarshal(prefix string, target any) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Get target value and type
	targetValue := reflect.ValueOf(target)
	if targetValue.Kind() != reflect.Ptr {
		return fmt.Errorf("target must be a pointer")
	}

	targetValue = targetValue.Elem()
	if targetValue.Kind() != reflect.Struct {
		return fmt.Errorf("target must be a pointer to struct")
	}

	targetType := targetValue.Type()

	// Iterate through struct fields
	for i := 0; i < targetType.NumField(); i++ {
		field := targetType.Field(i)
		fieldValue := targetValue.Field(i)

		if !fieldValue.CanSet() {
			continue
		}

		configKey := fieldKey(prefix, field)

		// Get value from config
		value, exists := m.values[configKey]
		if !exists {
			continue
		}

		// Set field value
		if err := setFieldValue(fieldValue, value); err != nil {
			return fmt.Errorf("config key %s: %w", configKey, err)
		}
	}

	return nil
}

// fieldKey returns the config key from the tag or the lowercased field name
func fieldKey(prefix string, field reflect.StructField) string {
	key := field.Tag.Get("config")
	if key == "" {
		key = strings.ToLower(field.Name)
	}
	if prefix != "" {
		key = prefix + "." + key
	}
	return key
}

// setFieldValue sets a reflect.Value from an interface{} value
func setFieldValue(field reflect.Value, value any) error {
	if field.Type() == durationType {
		d, err := toDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	// Handle type conversion
	switch field.Kind() {
	case reflect.String:
		if str, ok := value.(string); ok {
			field.SetString(str)
		} else {
			field.SetString(fmt.Sprintf("%v", value))
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch v := value.(type) {
		case int:
			field.SetInt(int64(v))
		case int64:
			field.SetInt(v)
		case float64:
			field.SetInt(int64(v))
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer %q", v)
			}
			field.SetInt(i)
		default:
			return fmt.Errorf("cannot convert %T to %v", value, field.Type())
		}

	case reflect.Bool:
		switch v := value.(type) {
		case bool:
			field.SetBool(v)
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid boolean %q", v)
			}
			field.SetBool(b)
		default:
			return fmt.Errorf("cannot convert %T to %v", value, field.Type())
		}

	default:
		valueReflect := reflect.ValueOf(value)
		if !valueReflect.IsValid() || !valueReflect.Type().ConvertibleTo(field.Type()) {
			return fmt.Errorf("cannot convert %T to %v", value, field.Type())
		}
		field.Set(valueReflect.Convert(field.Type()))
	}

	return nil
}

func toDuration(value any) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to duration", value)
	}
}
