package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Lookup resolves one environment variable. os.LookupEnv satisfies it.
type Lookup func(key string) (string, bool)

// Load reads the configuration from the process environment and validates
// it. See LoadFrom for the tag rules.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom fills a Config from lookup. Leaf fields name their variable with
// an `env` tag and may add `envAlt`, `default` and `required:"true"`. An
// empty variable counts as unset. Every bad variable is reported, not just
// the first.
func LoadFrom(lookup Lookup) (*Config, error) {
	cfg := &Config{}
	if err := bind(reflect.ValueOf(cfg).Elem(), lookup); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func bind(section reflect.Value, lookup Lookup) error {
	var errs []error
	for i := range section.NumField() {
		sf := section.Type().Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := section.Field(i)
		if sf.Type.Kind() == reflect.Struct {
			if err := bind(fv, lookup); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		key, tagged := sf.Tag.Lookup("env")
		if !tagged {
			continue
		}
		raw, found := firstSet(lookup, key, sf.Tag.Get("envAlt"))
		if !found {
			if sf.Tag.Get("required") == "true" {
				errs = append(errs, fmt.Errorf("required environment variable %s is not set", key))
				continue
			}
			raw = sf.Tag.Get("default")
		}
		if raw == "" {
			continue
		}
		if err := assign(fv, raw); err != nil {
			errs = append(errs, fmt.Errorf("invalid value for %s=%q: %w", key, raw, err))
		}
	}
	return errors.Join(errs...)
}

func firstSet(lookup Lookup, keys ...string) (string, bool) {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if v, ok := lookup(k); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// assign parses raw into the field's type. Lists are comma-separated.
func assign(fv reflect.Value, raw string) error {
	switch p := fv.Addr().Interface().(type) {
	case *string:
		*p = raw
	case *bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return errors.New("want true or false")
		}
		*p = b
	case *int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return errors.New("want an integer")
		}
		*p = n
	case *int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return errors.New("want an integer")
		}
		*p = n
	case *time.Duration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return errors.New("want a duration such as 30s or 5m")
		}
		*p = d
	case *[]string:
		var items []string
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		*p = items
	default:
		return fmt.Errorf("unsupported field type %s", fv.Type())
	}
	return nil
}
