package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/varnet/errors"
)

func mustOwner(t *testing.T, tree *Tree, parent OwnerID, spec OwnerSpec) OwnerID {
	t.Helper()
	id, err := tree.NewOwner(spec)
	require.NoError(t, err)
	require.NoError(t, tree.RegisterOwner(parent, id))
	return id
}

func mustEndpoint(t *testing.T, tree *Tree, owner OwnerID, name string, tags ...string) EndpointID {
	t.Helper()
	id, err := tree.RegisterEndpoint(owner, EndpointSpec{Name: name, Tags: tags})
	require.NoError(t, err)
	return id
}

func TestTree_RegisterAndList(t *testing.T) {
	tree := NewTree("app")
	ctrl := mustOwner(t, tree, Root, OwnerSpec{Name: "Controller"})
	pid := mustOwner(t, tree, ctrl, OwnerSpec{Name: "PID"})
	a := mustEndpoint(t, tree, ctrl, "setpoint")
	b := mustEndpoint(t, tree, pid, "gain")

	assert.Equal(t, []EndpointID{a}, tree.Endpoints(ctrl, false))
	assert.Equal(t, []EndpointID{a, b}, tree.Endpoints(ctrl, true))
	assert.Equal(t, []OwnerID{ctrl, pid}, tree.SubOwners(Root, true))
	assert.Equal(t, []OwnerID{ctrl}, tree.SubOwners(Root, false))
	assert.Equal(t, "/Controller/PID", tree.Path(pid))
	assert.Equal(t, "/Controller/PID/gain", tree.QualifiedName(b))

	found, ok := tree.Find(ctrl, "PID")
	require.True(t, ok)
	assert.Equal(t, pid, found)

	require.NoError(t, tree.UnregisterEndpoint(a))
	assert.Equal(t, []EndpointID{b}, tree.Endpoints(ctrl, true))
	_, ok = tree.Endpoint(a)
	assert.False(t, ok)

	require.NoError(t, tree.UnregisterOwner(ctrl, pid))
	assert.Empty(t, tree.Endpoints(ctrl, true))
	o, ok := tree.Owner(pid)
	require.True(t, ok)
	assert.Equal(t, NoOwner, o.Parent)
}

func TestTree_SingleOwnerInvariant(t *testing.T) {
	tree := NewTree("app")
	a := mustOwner(t, tree, Root, OwnerSpec{Name: "A"})
	b := mustOwner(t, tree, Root, OwnerSpec{Name: "B"})

	err := tree.RegisterOwner(a, b)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))

	err = tree.RegisterOwner(Root, Root)
	assert.ErrorIs(t, err, errors.ErrUnknownOwner)

	c, err := tree.NewOwner(OwnerSpec{Name: "C"})
	require.NoError(t, err)
	require.NoError(t, tree.RegisterOwner(a, c))
	require.NoError(t, tree.UnregisterOwner(a, c))
	require.NoError(t, tree.RegisterOwner(b, c), "detached owners may be reattached")
}

func TestTree_OwnCycleRejected(t *testing.T) {
	tree := NewTree("app")
	a, err := tree.NewOwner(OwnerSpec{Name: "A"})
	require.NoError(t, err)
	b, err := tree.NewOwner(OwnerSpec{Name: "B"})
	require.NoError(t, err)
	require.NoError(t, tree.RegisterOwner(a, b))

	err = tree.RegisterOwner(b, a)
	assert.ErrorIs(t, err, errors.ErrMalformedPath)
}

func TestTree_DuplicateEndpointName(t *testing.T) {
	tree := NewTree("app")
	a := mustOwner(t, tree, Root, OwnerSpec{Name: "A"})
	mustEndpoint(t, tree, a, "x")

	_, err := tree.RegisterEndpoint(a, EndpointSpec{Name: "x"})
	assert.ErrorIs(t, err, errors.ErrDuplicateName)
	assert.True(t, errors.IsConfiguration(err))
}

func TestTree_SealedIsReadOnly(t *testing.T) {
	tree := NewTree("app")
	a := mustOwner(t, tree, Root, OwnerSpec{Name: "A"})
	tree.Seal()
	assert.True(t, tree.Sealed())

	_, err := tree.RegisterEndpoint(a, EndpointSpec{Name: "x"})
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
	_, err = tree.NewOwner(OwnerSpec{Name: "B"})
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
}

func TestTree_StateNamedAfterPath(t *testing.T) {
	tree := NewTree("app")
	a := mustOwner(t, tree, Root, OwnerSpec{Name: "A"})
	st := tree.State(a)
	require.NotNil(t, st)
	assert.Equal(t, "/A", st.Name())
	assert.Same(t, st, tree.State(a))
	assert.Nil(t, tree.State(OwnerID(99)))
}

func TestModifierOf(t *testing.T) {
	tests := []struct {
		name string
		want Modifier
	}{
		{"X", None},
		{"/X", MoveToRoot},
		{"../X", OneLevelUp},
		{"..", OneUpAndHide},
		{"", HideThis},
		{".", HideThis},
		{"A/B", None},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ModifierOf(tt.name))
		})
	}
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "/", Join())
	assert.Equal(t, "/a/b/c", Join("a//b/", "./c"))
	assert.Equal(t, "/a", Join("/a"))
}
