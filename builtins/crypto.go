// Package builtins holds the individual MOO built-in functions that this
// project commits to wiring end to end (the rest of the built-in catalog,
// and the compiler that would resolve calls to it, are out of scope — see
// DESIGN.md). crypt() is the one kept: it is the concrete reason the
// password-hashing dependencies are direct requires rather than dead
// weight in go.mod.
package builtins

import (
	"fmt"
	"strings"

	amoghecrypt "github.com/amoghe/go-crypt"
	sergeymakinencrypt "github.com/sergeymakinen/go-crypt"
	"golang.org/x/crypto/bcrypt"

	"tupleworld/moo"
	"tupleworld/vm"
)

// Register wires the builtins this package implements into reg.
func Register(reg *vm.Registry) {
	reg.Register("crypt", builtinCrypt)
}

// builtinCrypt implements crypt(password [, salt]), dispatching to the
// algorithm named by the salt's prefix: traditional two-character DES
// salts and the empty string go to amoghe/go-crypt, the $1$/$5$/$6$
// glibc-style salts go to sergeymakinen/go-crypt, and $2a$/$2b$/$2y$
// bcrypt salts go to x/crypto/bcrypt (which always derives its own salt
// material from crypto/rand; only the cost is honored from the supplied
// salt).
func builtinCrypt(ctx *vm.Context, args []moo.Value) (moo.Value, *vm.Yield, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, nil, vm.MooError{Code: moo.E_ARGS, Msg: moo.E_ARGS.Message()}
	}
	password, ok := args[0].(moo.Str)
	if !ok {
		return nil, nil, vm.MooError{Code: moo.E_TYPE, Msg: moo.E_TYPE.Message()}
	}
	salt := ""
	if len(args) == 2 {
		s, ok := args[1].(moo.Str)
		if !ok {
			return nil, nil, vm.MooError{Code: moo.E_TYPE, Msg: moo.E_TYPE.Message()}
		}
		salt = s.Val
	}

	hash, err := cryptPassword(password.Val, salt)
	if err != nil {
		return nil, nil, vm.MooError{Code: moo.E_INVARG, Msg: err.Error()}
	}
	return moo.Str{Val: hash}, nil, nil
}

func cryptPassword(password, salt string) (string, error) {
	switch {
	case strings.HasPrefix(salt, "$2a$"), strings.HasPrefix(salt, "$2b$"), strings.HasPrefix(salt, "$2y$"):
		cost := bcryptCostFromSalt(salt)
		out, err := bcrypt.GenerateFromPassword([]byte(password), cost)
		if err != nil {
			return "", fmt.Errorf("bcrypt: %w", err)
		}
		return string(out), nil

	case strings.HasPrefix(salt, "$1$"), strings.HasPrefix(salt, "$5$"), strings.HasPrefix(salt, "$6$"):
		out, err := sergeymakinencrypt.Crypt(password, salt)
		if err != nil {
			return "", fmt.Errorf("crypt: %w", err)
		}
		return out, nil

	default:
		out, err := amoghecrypt.Crypt(password, salt)
		if err != nil {
			return "", fmt.Errorf("crypt: %w", err)
		}
		return out, nil
	}
}

func bcryptCostFromSalt(salt string) int {
	if len(salt) < 7 {
		return bcrypt.DefaultCost
	}
	cost := 0
	for i := 4; i < len(salt) && salt[i] >= '0' && salt[i] <= '9'; i++ {
		cost = cost*10 + int(salt[i]-'0')
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return bcrypt.DefaultCost
	}
	return cost
}
