package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustType(t *testing.T, name string, contacts, permutable []string) *DeviceType {
	t.Helper()
	typ, err := NewDeviceType(name, contacts, permutable, nil)
	require.NoError(t, err)
	return typ
}

func TestDeviceTypeReversal(t *testing.T) {
	mos := mustType(t, "nmos", []string{"d", "g", "s"}, []string{"s", "d"})
	res := mustType(t, "res", []string{"p", "n"}, nil)
	diode := mustType(t, "npn", []string{"c", "b", "e"}, nil)

	assert.Equal(t, [2]int{0, 2}, mos.Permutable)
	assert.True(t, mos.Reversible())
	assert.Equal(t, []int{2, 1, 0}, []int{mos.Reversed(0), mos.Reversed(1), mos.Reversed(2)})
	assert.Equal(t, 0, mos.ContactClass(2))
	assert.True(t, mos.InPair(2))
	assert.False(t, mos.InPair(1))

	assert.True(t, res.Reversible())
	assert.Equal(t, 1, res.Reversed(0))
	assert.False(t, res.HasPermutable())

	assert.False(t, diode.Reversible())
	assert.Equal(t, 1, diode.Reversed(1))

	_, err := NewDeviceType("bad", []string{"a", "b"}, []string{"a"}, nil)
	assert.Error(t, err)
	_, err = NewDeviceType("bad", []string{"a", "b"}, []string{"a", "x"}, nil)
	assert.Error(t, err)
}

func TestDeviceContactHonorsOrientation(t *testing.T) {
	mos := mustType(t, "nmos", []string{"d", "g", "s"}, []string{"d", "s"})
	d := NewDescriptor("c", nil, 4)
	dev := NewDevice("m1", mos, []*Group{d.Groups[1], d.Groups[2], d.Groups[3]}, nil)

	assert.Same(t, d.Groups[1], dev.Contact(0))
	dev.Swapped = true
	assert.Same(t, d.Groups[3], dev.Contact(0))
	assert.Same(t, d.Groups[2], dev.Contact(1))
	assert.Equal(t, 0, dev.DualIndex(2))

	require.Len(t, d.Groups[2].Contacts, 1)
	assert.Equal(t, Contact{Device: dev, Index: 1}, d.Groups[2].Contacts[0])
}

func fixture(t *testing.T) (*Descriptor, *Device, *EDevice) {
	t.Helper()
	res := mustType(t, "res", []string{"p", "n"}, nil)
	d := NewDescriptor("c", nil, 3)
	n := NewNetlist(nil)
	for i := 0; i < 3; i++ {
		n.AddNode("", false)
	}
	d.Netlist = n
	dev := NewDevice("r1", res, []*Group{d.Groups[1], d.Groups[2]}, nil)
	d.Devices = append(d.Devices, dev)
	e := &EDevice{Name: "r1", Type: res, Nodes: []int{1, 2}}
	n.AddDevice(e)
	return d, dev, e
}

func TestClearDualityKeepsLabels(t *testing.T) {
	d, dev, e := fixture(t)
	d.Groups[1].Name, d.Groups[1].Origin = "in", NameLabel
	d.Groups[2].Name, d.Groups[2].Origin = "out", NameInferred
	AssociateGroup(d.Groups[1], d.Netlist.Nodes[1])
	AssociateGroup(d.Groups[2], d.Netlist.Nodes[2])
	LinkDevice(dev, e, true)
	d.Associated, d.Inconsistent = true, true

	assert.Empty(t, d.CheckDuals())
	assert.Zero(t, d.Discrepancies())

	d.ClearDuality()
	assert.False(t, d.Groups[1].Associated())
	assert.Equal(t, "in", d.Groups[1].Name)
	assert.Empty(t, d.Groups[2].Name)
	assert.Equal(t, NameNone, d.Groups[2].Origin)
	assert.Nil(t, dev.Dual)
	assert.False(t, dev.Swapped)
	assert.Nil(t, e.Dual)
	assert.Nil(t, d.Netlist.Nodes[1].Group)
	assert.False(t, d.Associated)
	assert.False(t, d.Inconsistent)
}

func TestUnresolvedTally(t *testing.T) {
	d, dev, e := fixture(t)
	d.Groups = append(d.Groups, NewGroup(3))
	d.Groups[3].WireOnly = true
	d.Groups[3].AddTerminal("x", false)

	tally := d.Unresolved()
	assert.Equal(t, Tally{Groups: 2, Devices: 1, Nodes: 2, EDevices: 1}, tally)
	assert.Equal(t, 3, tally.Total())
	assert.Equal(t, 1, tally.Objects())

	LinkDevice(dev, e, false)
	AssociateGroup(d.Groups[1], d.Netlist.Nodes[1])
	assert.Equal(t, Tally{Groups: 1, Nodes: 1}, d.Unresolved())
	assert.Equal(t, 2, d.Discrepancies())
}

func TestCheckDualsFindsBrokenMirror(t *testing.T) {
	d, dev, e := fixture(t)
	LinkDevice(dev, e, false)
	e.Dual = nil
	assert.Equal(t, "device r1", d.CheckDuals())
}

func twoLevel(t *testing.T) (*Descriptor, *Descriptor, *Subckt) {
	t.Helper()
	res := mustType(t, "res", []string{"p", "n"}, nil)

	sch := NewSchCell("leaf", 3)
	sch.Pins = []SchPin{{Name: "a", Node: 1}, {Name: "b", Node: 2}}
	leaf := NewDescriptor("leaf", sch, 4)
	leaf.Groups[1].AddTerminal("a", false)
	leaf.Groups[2].AddTerminal("b", false)
	leaf.Groups[3].Name, leaf.Groups[3].Origin = "mid", NameLabel
	leaf.Devices = append(leaf.Devices,
		NewDevice("r1", res, []*Group{leaf.Groups[1], leaf.Groups[3]}, map[string]float64{"r": 1}),
		NewDevice("r2", res, []*Group{leaf.Groups[3], leaf.Groups[2]}, map[string]float64{"r": 2}),
	)

	top := NewDescriptor("top", NewSchCell("top", 3), 4)
	x := NewSubckt("x1", top, leaf, []SubcktContact{
		{Parent: top.Groups[2], Sub: leaf.Groups[1]},
		{Parent: top.Groups[1], Sub: leaf.Groups[2]},
	})
	top.Subckts = append(top.Subckts, x)
	return top, leaf, x
}

func TestSubcktPinPrefersAssociation(t *testing.T) {
	_, leaf, x := twoLevel(t)
	assert.Equal(t, 0, x.Pin(0))
	assert.Equal(t, 1, x.Pin(1))

	x.State = []int{1, 0}
	assert.Equal(t, 1, x.EffectivePin(0))

	n := NewNetlist(leaf.Schematic)
	for i := 0; i < 3; i++ {
		n.AddNode("", false)
	}
	leaf.Netlist = n
	AssociateGroup(leaf.Groups[1], n.Nodes[2])
	assert.Equal(t, 1, x.Pin(0), "association overrides the terminal name")
}

func TestFlattenSubckt(t *testing.T) {
	top, leaf, x := twoLevel(t)
	require.Len(t, leaf.Sites, 1)
	assert.Equal(t, []*Descriptor{leaf}, top.Masters())

	top.FlattenSubckt(x)
	assert.True(t, x.Flattened)
	assert.Empty(t, top.ActiveSubckts())
	assert.Empty(t, top.Masters())
	assert.Empty(t, leaf.Sites)
	assert.Zero(t, top.CountSubckts("leaf"))

	require.Len(t, top.Devices, 2)
	r1, r2 := top.Devices[0], top.Devices[1]
	assert.Equal(t, "x1/r1", r1.Name)
	assert.Equal(t, 2.0, r2.Values["r"])
	assert.Same(t, top.GroupNamed("x1/mid"), r1.Contacts[1])
	assert.Same(t, r1.Contacts[0], top.Groups[2], "leaf pin a lands on the parent group it was wired to")
	assert.Same(t, r2.Contacts[1], top.Groups[1])

	// group 3 of top was never connected and is dropped by Renumber
	for i, g := range top.Groups {
		assert.Equal(t, i, g.ID)
	}
	assert.Len(t, top.Groups, 4)
	assert.Nil(t, top.GroupNamed("missing"))

	top.FlattenSubckt(x)
	assert.Len(t, top.Devices, 2, "flattening twice is a no-op")
}

func TestResidualsMatchDiscrepancies(t *testing.T) {
	d, dev, e := fixture(t)
	d.Groups[2].Name = "out"
	d.Netlist.Nodes[2].Name = "OUT"

	assert.Equal(t, []Residual{
		{KindGroup, SideLayout, "#1"},
		{KindGroup, SideLayout, "out"},
		{KindDevice, SideLayout, "r1"},
		{KindNet, SideSchematic, "#1"},
		{KindNet, SideSchematic, "OUT"},
		{KindDevice, SideSchematic, "r1"},
	}, d.Residuals())
	assert.Len(t, d.Residuals(), d.Discrepancies())

	AssociateGroup(d.Groups[1], d.Netlist.Nodes[1])
	AssociateGroup(d.Groups[2], d.Netlist.Nodes[2])
	LinkDevice(dev, e, false)
	assert.Empty(t, d.Residuals())
}
