// Package assert provides small wrappers over testify with the call
// shape the teacher's file package tests expect (EQ/NoError/True/...),
// so that the teacher's test bodies need no call-site rewrites beyond
// the import path.
package assert

import (
	"github.com/stretchr/testify/require"
)

func EQ(t require.TestingT, want, got interface{}, msgAndArgs ...interface{}) {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	require.Equal(t, want, got, msgAndArgs...)
}

func NoError(t require.TestingT, err error, msgAndArgs ...interface{}) {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	require.NoError(t, err, msgAndArgs...)
}

func True(t require.TestingT, cond bool, msgAndArgs ...interface{}) {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	require.True(t, cond, msgAndArgs...)
}

func False(t require.TestingT, cond bool, msgAndArgs ...interface{}) {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	require.False(t, cond, msgAndArgs...)
}

func Nil(t require.TestingT, v interface{}, msgAndArgs ...interface{}) {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	require.Nil(t, v, msgAndArgs...)
}

func NotNil(t require.TestingT, v interface{}, msgAndArgs ...interface{}) {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	require.NotNil(t, v, msgAndArgs...)
}

func Regexp(t require.TestingT, got interface{}, pattern string, msgAndArgs ...interface{}) {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	require.Regexp(t, pattern, got, msgAndArgs...)
}
