// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pebbleworks/cf/lib/pebble"
)

// OptionsFromParams reflects manifest option specs from a params
// struct. It reads the same tags the CLI flag binder does — flag
// (name and optional shorthand), desc, default — plus enum (comma
// separated values) and required. params must be a pointer to a
// struct; nil yields no options.
func OptionsFromParams(params any) ([]pebble.OptionSpec, error) {
	if params == nil {
		return nil, nil
	}
	value := reflect.ValueOf(params)
	if value.Kind() != reflect.Ptr || value.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("params must be a pointer to a struct, got %T", params)
	}
	return optionsFromStruct(value.Elem().Type())
}

func optionsFromStruct(structType reflect.Type) ([]pebble.OptionSpec, error) {
	var options []pebble.OptionSpec

	for i := range structType.NumField() {
		field := structType.Field(i)

		// Embedded structs contribute their fields in place.
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			embedded, err := optionsFromStruct(field.Type)
			if err != nil {
				return nil, fmt.Errorf("embedded %s: %w", field.Name, err)
			}
			options = append(options, embedded...)
			continue
		}

		flagTag := field.Tag.Get("flag")
		if flagTag == "" {
			continue
		}
		name, short, _ := strings.Cut(flagTag, ",")

		optionType, err := optionType(field.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}

		defaultValue, err := typedDefault(field.Type, field.Tag.Get("default"))
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}

		var enum []string
		if enumTag := field.Tag.Get("enum"); enumTag != "" {
			enum = strings.Split(enumTag, ",")
		}

		options = append(options, pebble.OptionSpec{
			Name:     name,
			Short:    short,
			Type:     optionType,
			Required: field.Tag.Get("required") == "true",
			Default:  defaultValue,
			Enum:     enum,
			Desc:     field.Tag.Get("desc"),
		})
	}
	return options, nil
}

// ValidateRequired checks that every field tagged required:"true"
// holds a non-zero value, so actions can rely on their required
// params being present. Returns in/INVALID_ARG naming the missing
// flags.
func ValidateRequired(params any) error {
	if params == nil {
		return nil
	}
	value := reflect.ValueOf(params)
	if value.Kind() != reflect.Ptr || value.Elem().Kind() != reflect.Struct {
		return nil
	}

	var missing []string
	collectMissing(value.Elem(), &missing)
	if len(missing) == 0 {
		return nil
	}
	return pebble.Input("INVALID_ARG",
		fmt.Sprintf("missing required flag(s): --%s", strings.Join(missing, ", --")))
}

func collectMissing(structValue reflect.Value, missing *[]string) {
	structType := structValue.Type()
	for i := range structType.NumField() {
		field := structType.Field(i)
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			collectMissing(structValue.Field(i), missing)
			continue
		}
		flagTag := field.Tag.Get("flag")
		if flagTag == "" || field.Tag.Get("required") != "true" {
			continue
		}
		if structValue.Field(i).IsZero() {
			name, _, _ := strings.Cut(flagTag, ",")
			*missing = append(*missing, name)
		}
	}
}

// optionType maps a Go field type to its manifest type name.
func optionType(t reflect.Type) (string, error) {
	if t == durationType {
		return "duration", nil
	}
	switch t.Kind() {
	case reflect.String:
		return "string", nil
	case reflect.Bool:
		return "boolean", nil
	case reflect.Int, reflect.Int64:
		return "integer", nil
	case reflect.Float64:
		return "number", nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.String {
			return "array", nil
		}
	}
	return "", fmt.Errorf("unsupported option type %s", t)
}

var durationType = reflect.TypeOf(time.Duration(0))

// typedDefault parses a default tag into the value type the manifest
// should carry: numbers as numbers, booleans as booleans, so JSON
// output is typed rather than stringly.
func typedDefault(t reflect.Type, tag string) (any, error) {
	if tag == "" {
		return nil, nil
	}
	if t == durationType {
		d, err := time.ParseDuration(tag)
		if err != nil {
			return nil, err
		}
		return d.String(), nil
	}
	switch t.Kind() {
	case reflect.String:
		return tag, nil
	case reflect.Bool:
		return strconv.ParseBool(tag)
	case reflect.Int, reflect.Int64:
		return strconv.ParseInt(tag, 10, 64)
	case reflect.Float64:
		return strconv.ParseFloat(tag, 64)
	case reflect.Slice:
		return strings.Split(tag, ","), nil
	}
	return nil, fmt.Errorf("unsupported default for type %s", t)
}
