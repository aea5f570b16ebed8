package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/varnet/errors"
)

func TestVirtualPath_Modifiers(t *testing.T) {
	tests := []struct {
		name     string
		spec     OwnerSpec
		wantPath string
	}{
		{"plain", OwnerSpec{Name: "C"}, "/A/B/C"},
		{"move to root", OwnerSpec{Name: "/C"}, "/C"},
		{"one level up", OwnerSpec{Name: "../C"}, "/A/C"},
		{"one up and hide", OwnerSpec{Name: ".."}, "/A"},
		{"hide", OwnerSpec{Name: "C", Modifier: HideThis}, "/A/B"},
		{"explicit one up", OwnerSpec{Name: "C", Modifier: OneLevelUp}, "/A/C"},
		{"explicit one up and hide", OwnerSpec{Name: "C", Modifier: OneUpAndHide}, "/A"},
		{"explicit move to root", OwnerSpec{Name: "C", Modifier: MoveToRoot}, "/C"},
		{"nested relative", OwnerSpec{Name: "../../D/E"}, "/D/E"},
		{"extra slashes and dots", OwnerSpec{Name: ".//C/./"}, "/A/B/C"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := NewTree("app")
			a := mustOwner(t, tree, Root, OwnerSpec{Name: "A"})
			b := mustOwner(t, tree, a, OwnerSpec{Name: "B"})
			c := mustOwner(t, tree, b, tt.spec)
			got, err := tree.VirtualPath(c)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, got)
		})
	}
}

func TestVirtualPath_EscapingRootIsFatal(t *testing.T) {
	tree := NewTree("app")
	a := mustOwner(t, tree, Root, OwnerSpec{Name: "../../A"})
	mustEndpoint(t, tree, a, "x", "cs")

	_, err := tree.VirtualPath(a)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMalformedPath)
	assert.True(t, errors.IsFatal(err))

	_, err = tree.ExtractTag("cs")
	assert.ErrorIs(t, err, errors.ErrMalformedPath)
}

func buildTaggedTree(t *testing.T) *Tree {
	t.Helper()
	tree := NewTree("app")
	ctrl := mustOwner(t, tree, Root, OwnerSpec{Name: "Controller", Tags: []string{"cs"}})
	mustEndpoint(t, tree, ctrl, "setpoint")
	mustEndpoint(t, tree, ctrl, "debug", "internal")
	hidden := mustOwner(t, tree, ctrl, OwnerSpec{Name: "impl", Modifier: HideThis})
	mustEndpoint(t, tree, hidden, "output")
	other := mustOwner(t, tree, Root, OwnerSpec{Name: "Logger"})
	mustEndpoint(t, tree, other, "level", "cs")
	mustEndpoint(t, tree, other, "buffer")
	return tree
}

func TestExtractTag(t *testing.T) {
	tree := buildTaggedTree(t)

	view, err := tree.ExtractTag("cs")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/Controller/debug",
		"/Controller/output",
		"/Controller/setpoint",
		"/Logger/level",
	}, view.Names())

	ctrl := view.Get("Controller")
	require.NotNil(t, ctrl)
	assert.Len(t, ctrl.Endpoints, 3, "hidden owner collapses into its parent")
	assert.Nil(t, ctrl.Child("impl"))
	assert.Equal(t, "/Controller", ctrl.Path)

	// the real tree is unchanged and a second extraction is identical
	again, err := tree.ExtractTag("cs")
	require.NoError(t, err)
	assert.Equal(t, view, again)
	assert.Equal(t, "/Controller/impl/output", tree.QualifiedName(ctrl.Endpoints[2].ID))
}

func TestExcludeTag(t *testing.T) {
	tree := buildTaggedTree(t)

	view, err := tree.ExcludeTag("cs")
	require.NoError(t, err)
	assert.Equal(t, []string{"/Logger/buffer"}, view.Names())

	negated, err := tree.FindTag("!cs")
	require.NoError(t, err)
	assert.Equal(t, view, negated)

	internal, err := tree.FindTag("internal")
	require.NoError(t, err)
	assert.Equal(t, []string{"/Controller/debug"}, internal.Names())
}

func TestView_MergesEqualNames(t *testing.T) {
	tree := NewTree("app")
	a := mustOwner(t, tree, Root, OwnerSpec{Name: "A"})
	b := mustOwner(t, tree, Root, OwnerSpec{Name: "B"})
	wa := mustEndpoint(t, tree, a, "/shared/temperature")
	rb := mustEndpoint(t, tree, b, "../shared/temperature")

	view, err := tree.View(nil)
	require.NoError(t, err)
	got := view.Lookup("/shared/temperature")
	require.Len(t, got, 2)
	assert.Equal(t, wa, got[0].ID)
	assert.Equal(t, rb, got[1].ID)
	assert.Equal(t, "temperature", got[0].Name)
}
