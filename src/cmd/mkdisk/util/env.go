package util

import (
	"os"
	"strconv"
)

// StringValue returns the environment variable envKey if it is set and not
// empty, else cfgVal if not empty, else defaultVal.
func StringValue(envKey string, cfgVal string, defaultVal string) string {
	if v, ok := os.LookupEnv(envKey); ok && v != "" {
		return v
	}
	if cfgVal != "" {
		return cfgVal
	}
	return defaultVal
}

// IntValue is StringValue for integers. An unparsable environment value
// is ignored. The second result is true when the value did not come from
// defaultVal.
func IntValue(envKey string, cfgVal *int, defaultVal int) (int, bool) {
	if v, ok := os.LookupEnv(envKey); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
	}
	if cfgVal != nil {
		return *cfgVal, true
	}
	return defaultVal, false
}

// BoolValue returns true when envKey is set to anything but "", "0" or
// "false", or, when it is unset, cfgVal.
func BoolValue(envKey string, cfgVal bool) bool {
	v, ok := os.LookupEnv(envKey)
	if !ok {
		return cfgVal
	}
	switch v {
	case "", "0", "false", "FALSE", "False":
		return false
	}
	return true
}

// HomeDir get the home directory for the user based on the HOME environment variable.
func HomeDir() string {
	return os.Getenv("HOME")
}
