package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

const moduleName = "config"

// LoadConfig builds the configuration in layers: defaults, then the embedded YAML
// (after ${VAR} expansion), then environment variables. A .env file at envFilePath
// is loaded into the environment first when present.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig, NewOsEnvironmentExpander())
}

func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Debugf(".env file (%s) not loaded: %v", envFilePath, err)
		}
	}

	cfg := NewConfig()

	expanded, err := expander.Expand(embeddedConfig)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to expand environment placeholders", err, false, false)
	}
	// Decoding into the populated defaults overwrites only the keys present in the document.
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to unmarshal embedded config", err, false, false)
	}
	if cfg.Surfin.AdapterConfigs == nil {
		cfg.Surfin.AdapterConfigs = map[string]interface{}{}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false, false)
	}

	if err := cfg.Validate(); err != nil {
		return nil, exception.NewBatchError(moduleName, "invalid configuration", err, false, false)
	}
	cfg.EmbeddedConfig = embeddedConfig
	GlobalConfig = cfg
	return cfg, nil
}

// loadStructFromEnv walks val using yaml tags to derive variable names, so
// surfin.batch.chunk_size is read from SURFIN_BATCH_CHUNK_SIZE.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		envName := strings.ToUpper(prefix + tag)

		switch {
		case field.Kind() == reflect.Struct:
			if err := loadStructFromEnv(field, envName+"_"); err != nil {
				return err
			}
		case field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String &&
			field.Type().Elem().Kind() == reflect.Interface:
			loadRawMapFromEnv(field, envName+"_")
		default:
			envValue, ok := os.LookupEnv(envName)
			if !ok {
				continue
			}
			if err := setField(field, envValue); err != nil {
				return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envName, err)
			}
		}
	}
	return nil
}

// loadRawMapFromEnv overrides entries of a map of named raw settings, such as the
// database connections. SURFIN_DATABASE_METADATA_PASSWORD=x sets
// database.metadata.password. Connection names must not contain underscores.
func loadRawMapFromEnv(mapField reflect.Value, prefix string) {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		kv := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(kv) != 2 {
			continue
		}
		parts := strings.SplitN(kv[0], "_", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		name := strings.ToLower(parts[0])
		key := strings.ToLower(parts[1])

		entry := map[string]interface{}{}
		if existing := mapField.MapIndex(reflect.ValueOf(name)); existing.IsValid() {
			if m, ok := existing.Interface().(map[string]interface{}); ok {
				entry = m
			}
		}
		entry[key] = kv[1]
		mapField.SetMapIndex(reflect.ValueOf(name), reflect.ValueOf(entry))
	}
}

func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		var items []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		field.Set(reflect.ValueOf(items))
	}
	return nil
}
