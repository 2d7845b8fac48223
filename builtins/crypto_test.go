package builtins

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"tupleworld/moo"
	"tupleworld/vm"
)

func TestCryptBcryptRoundTrip(t *testing.T) {
	val, yield, err := builtinCrypt(&vm.Context{}, []moo.Value{
		moo.Str{Val: "hunter2"}, moo.Str{Val: "$2b$04$"},
	})
	require.NoError(t, err)
	require.Nil(t, yield)
	hash := val.(moo.Str).Val
	// x/crypto/bcrypt always emits the $2a$ version tag; only the cost (04)
	// is taken from the supplied salt.
	require.True(t, strings.HasPrefix(hash, "$2a$04$"))
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")))
}

func TestCryptRejectsWrongArgCount(t *testing.T) {
	_, _, err := builtinCrypt(&vm.Context{}, nil)
	require.Equal(t, moo.E_ARGS, err.(vm.MooError).Code)
}

func TestCryptRejectsNonStringPassword(t *testing.T) {
	_, _, err := builtinCrypt(&vm.Context{}, []moo.Value{moo.Int{Val: 1}})
	require.Equal(t, moo.E_TYPE, err.(vm.MooError).Code)
}

func TestCryptTraditionalDESSalt(t *testing.T) {
	val, _, err := builtinCrypt(&vm.Context{}, []moo.Value{
		moo.Str{Val: "hunter2"}, moo.Str{Val: "ab"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, val.(moo.Str).Val)
}
