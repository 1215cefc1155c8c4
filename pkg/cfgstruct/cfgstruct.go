// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

// Package cfgstruct binds tagged config structs to flag sets.
package cfgstruct

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Bind sets flags on a FlagSet that match the configuration struct
// 'config'. This works by traversing the config struct using the
// 'reflect' package. Nested structs contribute dot-separated prefixes,
// so a field Interval on a struct bound under "checker" becomes the
// flag "checker.interval". Flag help and defaults come from the
// `help:"..."` and `default:"..."` struct tags.
func Bind(flags FlagSet, config interface{}) {
	ptr := reflect.ValueOf(config)
	if ptr.Kind() != reflect.Ptr {
		panic(fmt.Sprintf("invalid config type: %#v, expecting pointer to struct", config))
	}
	val := ptr.Elem()
	if val.Kind() != reflect.Struct {
		panic(fmt.Sprintf("invalid config type: %#v, expecting pointer to struct", config))
	}
	bindConfig(flags, "", val)
}

// FlagSet is the minimal flag-definition surface Bind needs. Both
// *pflag.FlagSet and *cobra-style wrappers satisfy it.
type FlagSet interface {
	BoolVar(p *bool, name string, value bool, usage string)
	IntVar(p *int, name string, value int, usage string)
	Int64Var(p *int64, name string, value int64, usage string)
	UintVar(p *uint, name string, value uint, usage string)
	Uint64Var(p *uint64, name string, value uint64, usage string)
	Float64Var(p *float64, name string, value float64, usage string)
	DurationVar(p *time.Duration, name string, value time.Duration, usage string)
	StringVar(p *string, name string, value string, usage string)
	Var(val pflag.Value, name string, usage string)
}

func bindConfig(flags FlagSet, prefix string, val reflect.Value) {
	if val.Kind() != reflect.Struct {
		panic(fmt.Sprintf("invalid config type: %#v, expecting struct", val.Interface()))
	}
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		fieldval := val.Field(i)
		flagname := prefix + hyphenate(field.Name)

		if field.Type.Kind() == reflect.Struct {
			if fieldval.CanAddr() && isPflagValue(fieldval.Addr()) {
				bindValue(flags, flagname, fieldval.Addr(), field)
				continue
			}
			bindConfig(flags, flagname+".", fieldval)
			continue
		}

		help := field.Tag.Get("help")
		def := field.Tag.Get("default")
		fieldaddr := fieldval.Addr()

		if isPflagValue(fieldaddr) {
			bindValue(flags, flagname, fieldaddr, field)
			continue
		}

		switch field.Type {
		case reflect.TypeOf(time.Duration(0)):
			val, err := time.ParseDuration(def)
			checkDefault(flagname, err)
			flags.DurationVar(fieldaddr.Interface().(*time.Duration), flagname, val, help)
			continue
		}

		switch field.Type.Kind() {
		case reflect.Bool:
			val, err := parseBool(def)
			checkDefault(flagname, err)
			flags.BoolVar(fieldaddr.Interface().(*bool), flagname, val, help)
		case reflect.Int:
			val, err := parseInt(def)
			checkDefault(flagname, err)
			flags.IntVar(fieldaddr.Interface().(*int), flagname, int(val), help)
		case reflect.Int64:
			val, err := parseInt(def)
			checkDefault(flagname, err)
			flags.Int64Var(fieldaddr.Interface().(*int64), flagname, val, help)
		case reflect.Uint:
			val, err := parseUint(def)
			checkDefault(flagname, err)
			flags.UintVar(fieldaddr.Interface().(*uint), flagname, uint(val), help)
		case reflect.Uint64:
			val, err := parseUint(def)
			checkDefault(flagname, err)
			flags.Uint64Var(fieldaddr.Interface().(*uint64), flagname, val, help)
		case reflect.Float64:
			val, err := parseFloat(def)
			checkDefault(flagname, err)
			flags.Float64Var(fieldaddr.Interface().(*float64), flagname, val, help)
		case reflect.String:
			flags.StringVar(fieldaddr.Interface().(*string), flagname, def, help)
		default:
			panic(fmt.Sprintf("invalid field type %v for flag %q", field.Type, flagname))
		}
	}
}

func bindValue(flags FlagSet, flagname string, addr reflect.Value, field reflect.StructField) {
	value := addr.Interface().(pflag.Value)
	if def := field.Tag.Get("default"); def != "" {
		if err := value.Set(def); err != nil {
			panic(fmt.Sprintf("invalid default for flag %q: %v", flagname, err))
		}
	}
	flags.Var(value, flagname, field.Tag.Get("help"))
}

func isPflagValue(addr reflect.Value) bool {
	_, ok := addr.Interface().(pflag.Value)
	return ok
}

func checkDefault(flagname string, err error) {
	if err != nil {
		panic(fmt.Sprintf("invalid default for flag %q: %v", flagname, err))
	}
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func parseUint(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// hyphenate maps a Go field name onto a flag segment: MaxRepair becomes
// max-repair, MaxObjectSize becomes max-object-size.
func hyphenate(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
