package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration into target, which should already hold defaults.
//
// Sources, lowest precedence first: the optional config file at path
// (YAML, JSON or TOML by extension), a .env file in the working directory,
// and environment variables starting with prefix. STAGE_SETS_BACKEND is
// read as sets.backend.
func Load(prefix, path string, target interface{}) error {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	known := make(map[string]string)
	collectKeys(reflect.ValueOf(target), "", known)

	// .env is optional. A missing file is not an error, a broken one is.
	dotenv := viper.New()
	dotenv.SetConfigFile(".env")
	dotenv.SetConfigType("env")
	if err := dotenv.ReadInConfig(); err == nil {
		mergePrefixed(v, prefix, known, dotenv.AllSettings())
	} else if !isNotExist(err) {
		return fmt.Errorf("failed to read .env: %w", err)
	}

	env := make(map[string]any)
	for _, envStr := range os.Environ() {
		key, value, ok := strings.Cut(envStr, "=")
		if ok {
			env[key] = value
		}
	}
	mergePrefixed(v, prefix, known, env)

	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

// mergePrefixed copies prefixed flat keys into v as dotted keys:
// STAGE_ARRANGER_COMPOSITION_API -> arranger.composition.api. Keys that
// match a field of the target keep their underscores, so
// STAGE_SERVER_SHUTDOWN_TIMEOUT -> server.shutdown_timeout.
func mergePrefixed(v *viper.Viper, prefix string, known map[string]string, flat map[string]any) {
	prefixUpper := strings.ToUpper(prefix)
	for key, value := range flat {
		key = strings.ToUpper(key)
		if !strings.HasPrefix(key, prefixUpper) {
			continue
		}
		rest := strings.Trim(strings.ToLower(strings.TrimPrefix(key, prefixUpper)), "_")
		if rest == "" {
			continue
		}
		propKey, ok := known[rest]
		if !ok {
			propKey = strings.ReplaceAll(rest, "_", ".")
		}
		v.Set(propKey, value)
	}
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}

// collectKeys walks the target's mapstructure tags and records every leaf
// key, indexed by its underscore form.
func collectKeys(val reflect.Value, path string, out map[string]string) {
	for val.Kind() == reflect.Pointer || val.Kind() == reflect.Interface {
		if val.IsNil() {
			return
		}
		val = val.Elem()
	}

	switch val.Kind() {
	case reflect.Struct:
		typ := val.Type()
		for i := 0; i < typ.NumField(); i++ {
			field := typ.Field(i)
			if !field.IsExported() {
				continue
			}
			name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
			if name == "-" {
				continue
			}
			if name == "" {
				name = strings.ToLower(field.Name)
			}
			collectKeys(val.Field(i), join(path, name), out)
		}
	case reflect.Map:
		if val.Type().Key().Kind() != reflect.String {
			out[strings.ReplaceAll(path, ".", "_")] = path
			return
		}
		for _, k := range val.MapKeys() {
			collectKeys(val.MapIndex(k), join(path, strings.ToLower(k.String())), out)
		}
	default:
		if path != "" {
			out[strings.ReplaceAll(path, ".", "_")] = path
		}
	}
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
