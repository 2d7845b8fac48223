package worldstate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tupleworld/moo"
	"tupleworld/tuplebox"
)

func newTestWorld(t *testing.T) *World {
	t.Helper()
	box, err := tuplebox.New(tuplebox.Options{})
	require.NoError(t, err)
	return New(box)
}

func TestCreateObjectInstallsBaseTuples(t *testing.T) {
	w := newTestWorld(t)
	tx := w.Begin()

	id, err := tx.CreateObject("room", moo.Oid(1), moo.Nothing)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx2 := w.Begin()
	name, err := tx2.Name(id)
	require.NoError(t, err)
	require.Equal(t, "room", name)

	owner, err := tx2.Owner(id)
	require.NoError(t, err)
	require.Equal(t, moo.Oid(1), owner)

	loc, err := tx2.Location(id)
	require.NoError(t, err)
	require.Equal(t, moo.Nothing, loc)
}

func TestMoveRejectsContainmentCycle(t *testing.T) {
	w := newTestWorld(t)
	tx := w.Begin()

	bag, err := tx.CreateObject("bag", moo.Oid(1), moo.Nothing)
	require.NoError(t, err)
	box, err := tx.CreateObject("box", moo.Oid(1), moo.Nothing)
	require.NoError(t, err)

	require.NoError(t, tx.Move(box, bag))
	err = tx.Move(bag, box)
	require.ErrorIs(t, err, ErrRecursiveMove)
}

func TestPropertyInheritancePropagatesAndClears(t *testing.T) {
	w := newTestWorld(t)
	tx := w.Begin()

	root, err := tx.CreateObject("root", moo.Oid(1), moo.Nothing)
	require.NoError(t, err)
	child, err := tx.CreateObject("child", moo.Oid(1), root)
	require.NoError(t, err)

	_, err = tx.AddProperty(root, "color", moo.Str{Val: "red"}, moo.Oid(1), PropRead|PropWrite)
	require.NoError(t, err)

	v, err := tx.GetProperty(child, "color", moo.Oid(1))
	require.NoError(t, err)
	require.Equal(t, moo.Str{Val: "red"}, v)

	require.NoError(t, tx.SetProperty(child, "color", moo.Str{Val: "blue"}, moo.Oid(1)))

	rootVal, err := tx.GetProperty(root, "color", moo.Oid(1))
	require.NoError(t, err)
	require.Equal(t, moo.Str{Val: "red"}, rootVal)

	childVal, err := tx.GetProperty(child, "color", moo.Oid(1))
	require.NoError(t, err)
	require.Equal(t, moo.Str{Val: "blue"}, childVal)
}

func TestDeletePropertyRemovesFromDescendants(t *testing.T) {
	w := newTestWorld(t)
	tx := w.Begin()

	root, err := tx.CreateObject("root", moo.Oid(1), moo.Nothing)
	require.NoError(t, err)
	child, err := tx.CreateObject("child", moo.Oid(1), root)
	require.NoError(t, err)

	_, err = tx.AddProperty(root, "size", moo.Int{Val: 3}, moo.Oid(1), PropRead)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteProperty(root, "size"))

	_, err = tx.GetProperty(child, "size", moo.Oid(1))
	require.ErrorIs(t, err, ErrPropertyNotFound)
}

func TestSetParentUpdatesInheritedProperties(t *testing.T) {
	w := newTestWorld(t)
	tx := w.Begin()

	a, err := tx.CreateObject("a", moo.Oid(1), moo.Nothing)
	require.NoError(t, err)
	b, err := tx.CreateObject("b", moo.Oid(1), moo.Nothing)
	require.NoError(t, err)
	child, err := tx.CreateObject("child", moo.Oid(1), a)
	require.NoError(t, err)

	_, err = tx.AddProperty(a, "onlyA", moo.Int{Val: 1}, moo.Oid(1), PropRead)
	require.NoError(t, err)
	_, err = tx.AddProperty(b, "onlyB", moo.Int{Val: 2}, moo.Oid(1), PropRead)
	require.NoError(t, err)

	require.NoError(t, tx.SetParent(child, b))

	_, err = tx.GetProperty(child, "onlyA", moo.Oid(1))
	require.ErrorIs(t, err, ErrPropertyNotFound)

	v, err := tx.GetProperty(child, "onlyB", moo.Oid(1))
	require.NoError(t, err)
	require.Equal(t, moo.Int{Val: 2}, v)
}

func TestSetParentRejectsCycle(t *testing.T) {
	w := newTestWorld(t)
	tx := w.Begin()

	a, err := tx.CreateObject("a", moo.Oid(1), moo.Nothing)
	require.NoError(t, err)
	child, err := tx.CreateObject("child", moo.Oid(1), a)
	require.NoError(t, err)

	err = tx.SetParent(a, child)
	require.ErrorIs(t, err, ErrRecursiveMove)
}

func TestVerbNameWildcardMatching(t *testing.T) {
	cases := []struct {
		pattern, search string
		want            bool
	}{
		{"foo*bar", "foo", true},
		{"foo*bar", "foob", true},
		{"foo*bar", "fooba", true},
		{"foo*bar", "foobar", true},
		{"foo*bar", "foobarx", false},
		{"foo*bar", "fo", false},
		{"*", "anything", true},
		{"look", "look", true},
		{"look", "lo", false},
		{"foo*", "foo", true},
		{"foo*", "foobar", true},
		{"foo*", "foobarbaz", true},
		{"foo*", "fo", false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, matchVerbName(c.pattern, c.search), "%s vs %s", c.pattern, c.search)
	}
}

func TestFindVerbWalksParentChain(t *testing.T) {
	w := newTestWorld(t)
	tx := w.Begin()

	root, err := tx.CreateObject("root", moo.Oid(1), moo.Nothing)
	require.NoError(t, err)
	child, err := tx.CreateObject("child", moo.Oid(1), root)
	require.NoError(t, err)

	_, err = tx.AddVerb(root, []string{"look*at"}, moo.Oid(1), VerbExec, VerbArgSpec{DObj: "any", Prep: "any", IObj: "any"}, nil)
	require.NoError(t, err)

	v, definer, err := tx.FindVerb(child, "lookat", "any", "any", "any", true)
	require.NoError(t, err)
	require.Equal(t, root, definer)
	require.Contains(t, v.Names, "look*at")
}

func TestFindVerbCommandDispatchRespectsArgSpec(t *testing.T) {
	w := newTestWorld(t)
	tx := w.Begin()

	root, err := tx.CreateObject("root", moo.Oid(1), moo.Nothing)
	require.NoError(t, err)

	_, err = tx.AddVerb(root, []string{"take"}, moo.Oid(1), VerbExec, VerbArgSpec{DObj: "this", Prep: "none", IObj: "none"}, nil)
	require.NoError(t, err)

	_, _, err = tx.FindVerb(root, "take", "any", "any", "any", true)
	require.ErrorIs(t, err, ErrVerbNotFound)

	_, _, err = tx.FindVerb(root, "take", "this", "none", "none", true)
	require.NoError(t, err)

	_, _, err = tx.FindVerb(root, "take", "any", "any", "any", false)
	require.NoError(t, err)
}

func TestDeleteVerbRemovesProgram(t *testing.T) {
	w := newTestWorld(t)
	tx := w.Begin()

	root, err := tx.CreateObject("root", moo.Oid(1), moo.Nothing)
	require.NoError(t, err)

	vid, err := tx.AddVerb(root, []string{"go"}, moo.Oid(1), VerbExec, VerbArgSpec{}, []byte{1, 2, 3})
	require.NoError(t, err)

	prog, err := tx.VerbProgram(root, vid)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, prog)

	require.NoError(t, tx.DeleteVerb(root, vid))
	_, err = tx.VerbProgram(root, vid)
	require.ErrorIs(t, err, ErrVerbNotFound)
}
