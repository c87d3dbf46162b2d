package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringValue(t *testing.T) {
	assert.Equal(t, "def", StringValue("MKDISK_TEST_STRING", "", "def"))
	assert.Equal(t, "cfg", StringValue("MKDISK_TEST_STRING", "cfg", "def"))
	t.Setenv("MKDISK_TEST_STRING", "env")
	assert.Equal(t, "env", StringValue("MKDISK_TEST_STRING", "cfg", "def"))
	t.Setenv("MKDISK_TEST_STRING", "")
	assert.Equal(t, "cfg", StringValue("MKDISK_TEST_STRING", "cfg", "def"))
}

func TestIntValue(t *testing.T) {
	v, set := IntValue("MKDISK_TEST_INT", nil, 1)
	assert.Equal(t, 1, v)
	assert.False(t, set)

	two := 2
	v, set = IntValue("MKDISK_TEST_INT", &two, 1)
	assert.Equal(t, 2, v)
	assert.True(t, set)

	t.Setenv("MKDISK_TEST_INT", "3")
	v, set = IntValue("MKDISK_TEST_INT", &two, 1)
	assert.Equal(t, 3, v)
	assert.True(t, set)

	t.Setenv("MKDISK_TEST_INT", "x")
	v, _ = IntValue("MKDISK_TEST_INT", nil, 1)
	assert.Equal(t, 1, v)
}

func TestBoolValue(t *testing.T) {
	assert.True(t, BoolValue("MKDISK_TEST_BOOL", true))
	for _, v := range []string{"", "0", "false"} {
		t.Setenv("MKDISK_TEST_BOOL", v)
		assert.False(t, BoolValue("MKDISK_TEST_BOOL", true), v)
	}
	t.Setenv("MKDISK_TEST_BOOL", "1")
	assert.True(t, BoolValue("MKDISK_TEST_BOOL", false))
}
