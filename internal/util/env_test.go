package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("WC_TEST_BOOL", "yes")
	if !ParseBoolEnv("WC_TEST_BOOL", false) {
		t.Error("yes should parse true")
	}
	t.Setenv("WC_TEST_BOOL", "off")
	if ParseBoolEnv("WC_TEST_BOOL", true) {
		t.Error("off should parse false")
	}
	t.Setenv("WC_TEST_BOOL", "maybe")
	if !ParseBoolEnv("WC_TEST_BOOL", true) {
		t.Error("invalid value should fall back to default")
	}
	if ParseBoolEnv("WC_TEST_BOOL_UNSET", false) {
		t.Error("unset should fall back to default")
	}
}
