package vm

import (
	"math"

	"tupleworld/moo"
)

func asFloat(v moo.Value) (float64, bool) {
	switch n := v.(type) {
	case moo.Int:
		return float64(n.Val), true
	case moo.Float:
		return n.Val, true
	default:
		return 0, false
	}
}

// arith evaluates a binary arithmetic opcode over two Values, following
// the embedded language's numeric-tower rule: int op int stays int,
// except int ^ negative int, which gives a float; anything involving a
// float promotes to float; string '+' is
// concatenation; anything else is a type error.
func arith(op OpCode, a, b moo.Value) (moo.Value, error) {
	if op == OpAdd {
		as, aok := a.(moo.Str)
		bs, bok := b.(moo.Str)
		if aok && bok {
			return moo.Str{Val: as.Val + bs.Val}, nil
		}
	}

	ai, aIsInt := a.(moo.Int)
	bi, bIsInt := b.(moo.Int)
	if aIsInt && bIsInt {
		switch op {
		case OpAdd:
			return moo.Int{Val: ai.Val + bi.Val}, nil
		case OpSub:
			return moo.Int{Val: ai.Val - bi.Val}, nil
		case OpMul:
			return moo.Int{Val: ai.Val * bi.Val}, nil
		case OpDiv:
			if bi.Val == 0 {
				return nil, raise(moo.E_DIV)
			}
			return moo.Int{Val: ai.Val / bi.Val}, nil
		case OpMod:
			if bi.Val == 0 {
				return nil, raise(moo.E_DIV)
			}
			return moo.Int{Val: ai.Val % bi.Val}, nil
		}
	}

	af, aIsNum := asFloat(a)
	bf, bIsNum := asFloat(b)
	if !aIsNum || !bIsNum {
		return nil, raise(moo.E_TYPE)
	}
	switch op {
	case OpAdd:
		return moo.Float{Val: af + bf}, nil
	case OpSub:
		return moo.Float{Val: af - bf}, nil
	case OpMul:
		return moo.Float{Val: af * bf}, nil
	case OpDiv:
		if bf == 0 {
			return nil, raise(moo.E_DIV)
		}
		return moo.Float{Val: af / bf}, nil
	case OpMod:
		if bf == 0 {
			return nil, raise(moo.E_DIV)
		}
		return moo.Float{Val: func() float64 { q := af / bf; return af - bf*float64(int64(q)) }()}, nil
	case OpPow:
		if aIsInt && bIsInt && bi.Val >= 0 {
			return moo.Int{Val: int64(math.Pow(af, bf))}, nil
		}
		return moo.Float{Val: math.Pow(af, bf)}, nil
	default:
		return nil, raise(moo.E_TYPE)
	}
}

func compare(op OpCode, a, b moo.Value) (moo.Value, error) {
	if op == OpEq {
		return boolValue(a.Equal(b)), nil
	}
	if op == OpNe {
		return boolValue(!a.Equal(b)), nil
	}

	af, aIsNum := asFloat(a)
	bf, bIsNum := asFloat(b)
	if aIsNum && bIsNum {
		switch op {
		case OpLt:
			return boolValue(af < bf), nil
		case OpLe:
			return boolValue(af <= bf), nil
		case OpGt:
			return boolValue(af > bf), nil
		case OpGe:
			return boolValue(af >= bf), nil
		}
	}

	as, aIsStr := a.(moo.Str)
	bs, bIsStr := b.(moo.Str)
	if aIsStr && bIsStr {
		switch op {
		case OpLt:
			return boolValue(as.Val < bs.Val), nil
		case OpLe:
			return boolValue(as.Val <= bs.Val), nil
		case OpGt:
			return boolValue(as.Val > bs.Val), nil
		case OpGe:
			return boolValue(as.Val >= bs.Val), nil
		}
	}
	return nil, raise(moo.E_TYPE)
}

// boolValue represents MOO truth values as Int 1/0, matching the embedded
// language's lack of a dedicated boolean type.
func boolValue(b bool) moo.Value {
	if b {
		return moo.Int{Val: 1}
	}
	return moo.Int{Val: 0}
}

func negate(v moo.Value) (moo.Value, error) {
	switch n := v.(type) {
	case moo.Int:
		return moo.Int{Val: -n.Val}, nil
	case moo.Float:
		return moo.Float{Val: -n.Val}, nil
	default:
		return nil, raise(moo.E_TYPE)
	}
}

func contains(a, b moo.Value) (moo.Value, error) {
	list, ok := b.(moo.List)
	if !ok {
		return nil, raise(moo.E_TYPE)
	}
	for _, e := range list.Elements() {
		if e.Equal(a) {
			return boolValue(true), nil
		}
	}
	return boolValue(false), nil
}
