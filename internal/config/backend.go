package config

import (
	"fmt"
	"os"
	"strconv"
)

// ConfigBackend abstracts platform-specific config storage. Keys are the
// dotted names of the key table ("upload.workers"). macOS keeps them in the
// com.vsextract.app defaults domain, other platforms in
// $XDG_CONFIG_HOME/vsextract/config.json.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// Booleans and floats are stored as strings so both backends hold them the
// same way. A value that does not parse is reported and treated as unset.

func getBool(b ConfigBackend, key string) (bool, bool, error) {
	v, ok, err := b.GetString(key)
	if err != nil || !ok || v == "" {
		return false, false, err
	}
	bv, err := strconv.ParseBool(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", key, v, err)
		return false, false, nil
	}
	return bv, true, nil
}

func getFloat(b ConfigBackend, key string) (float64, bool, error) {
	v, ok, err := b.GetString(key)
	if err != nil || !ok || v == "" {
		return 0, false, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", key, v, err)
		return 0, false, nil
	}
	return f, true, nil
}

func setBool(b ConfigBackend, key string, v bool) error {
	return b.SetString(key, strconv.FormatBool(v))
}

func setFloat(b ConfigBackend, key string, v float64) error {
	return b.SetString(key, strconv.FormatFloat(v, 'f', -1, 64))
}
