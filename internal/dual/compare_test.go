package dual

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/lvsdual/internal/model"
	"github.com/robert-at-pretension-io/lvsdual/internal/params"
)

func resType(t *testing.T) *model.DeviceType {
	t.Helper()
	typ, err := model.NewDeviceType("res", []string{"p", "n"}, nil, []model.Measurement{
		{Name: "r", Precision: 0.0625},
	})
	require.NoError(t, err)
	return typ
}

func TestDeviceParamScoreBoundaries(t *testing.T) {
	typ := resType(t)
	cmp := NewComparator(nil)
	desc := model.NewDescriptor("r", nil, 3)

	tests := []struct {
		measured, ref float64
		want          int
	}{
		{16, 16, ParamStrong},
		{16, 15, ParamStrong},
		{15, 16, ParamStrong},
		{8, 3, ParamWeak},
		{8, 2.9, ParamMismatch},
		{1, 100, ParamMismatch},
	}
	for _, tt := range tests {
		dev := model.NewDevice("r1", typ, []*model.Group{desc.Groups[1], desc.Groups[2]}, map[string]float64{"r": tt.measured})
		e := &model.EDevice{Name: "r1", Type: typ, Nodes: []int{1, 2}, Params: map[string]float64{"r": tt.ref}}
		got, err := cmp.DeviceParamScore(dev, e, false)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "measured %v against %v", tt.measured, tt.ref)
	}
}

func TestDeviceParamScoreInconclusive(t *testing.T) {
	typ := resType(t)
	desc := model.NewDescriptor("r", nil, 3)
	dev := model.NewDevice("r1", typ, []*model.Group{desc.Groups[1], desc.Groups[2]}, nil)
	e := &model.EDevice{Name: "r1", Type: typ, Nodes: []int{1, 2}, Params: map[string]float64{"r": 5}}

	got, err := NewComparator(nil).DeviceParamScore(dev, e, false)
	require.NoError(t, err)
	assert.Equal(t, ParamInconclusive, got)
}

func TestDeviceParamScoreEvaluatesExpressions(t *testing.T) {
	typ := resType(t)
	pc := params.New()
	pc.Set("k", 8)
	cmp := NewComparator(pc)
	desc := model.NewDescriptor("r", nil, 3)
	dev := model.NewDevice("r1", typ, []*model.Group{desc.Groups[1], desc.Groups[2]}, map[string]float64{"r": 16})

	e := &model.EDevice{Name: "r1", Type: typ, Nodes: []int{1, 2}, Exprs: map[string]string{"r": "'2*k'"}}
	got, err := cmp.DeviceParamScore(dev, e, false)
	require.NoError(t, err)
	assert.Equal(t, ParamStrong, got)

	e.Exprs["r"] = "'2*missing'"
	_, err = cmp.DeviceParamScore(dev, e, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, params.ErrEvaluation)
	assert.Contains(t, err.Error(), "device r1 parameter r")
}

func TestDeviceParamScoreSwapsAreas(t *testing.T) {
	typ, err := model.NewDeviceType("nmos", []string{"d", "g", "s"}, []string{"d", "s"}, []model.Measurement{
		{Name: "ad", Precision: 0.0625, Swap: "as"},
		{Name: "as", Precision: 0.0625, Swap: "ad"},
	})
	require.NoError(t, err)
	desc := model.NewDescriptor("m", nil, 4)
	dev := model.NewDevice("m1", typ, []*model.Group{desc.Groups[1], desc.Groups[2], desc.Groups[3]},
		map[string]float64{"ad": 4, "as": 8})
	e := &model.EDevice{Name: "m1", Type: typ, Nodes: []int{1, 2, 3}, Params: map[string]float64{"ad": 8, "as": 4}}

	cmp := NewComparator(nil)
	straight, err := cmp.DeviceParamScore(dev, e, false)
	require.NoError(t, err)
	reversed, err := cmp.DeviceParamScore(dev, e, true)
	require.NoError(t, err)
	assert.Equal(t, ParamWeak, straight)
	assert.Equal(t, ParamStrong, reversed)
}

func TestDeviceScoreBackwardsResistor(t *testing.T) {
	typ := resType(t)
	desc := model.NewDescriptor("r", nil, 3)
	desc.Groups[1].Node = 2
	desc.Groups[2].Node = 1
	dev := model.NewDevice("r1", typ, []*model.Group{desc.Groups[1], desc.Groups[2]}, map[string]float64{"r": 10})
	e := &model.EDevice{Name: "r1", Type: typ, Nodes: []int{1, 2}, Params: map[string]float64{"r": 10}}

	m, err := NewComparator(nil).DeviceScore(desc, dev, e)
	require.NoError(t, err)
	assert.Equal(t, PerfectScore, m.Score)
	assert.True(t, m.Swapped)
	assert.Equal(t, ParamStrong, m.Param)

	model.LinkDevice(dev, e, m.Swapped)
	assert.Same(t, desc.Groups[2], dev.Contact(0))
	assert.Same(t, desc.Groups[1], dev.Contact(1))
}

func TestDeviceScoreRejectsOtherType(t *testing.T) {
	typ := resType(t)
	other, err := model.NewDeviceType("cap", []string{"p", "n"}, nil, nil)
	require.NoError(t, err)
	desc := model.NewDescriptor("r", nil, 3)
	dev := model.NewDevice("r1", typ, []*model.Group{desc.Groups[1], desc.Groups[2]}, nil)
	e := &model.EDevice{Name: "c1", Type: other, Nodes: []int{1, 2}}

	m, err := NewComparator(nil).DeviceScore(desc, dev, e)
	require.NoError(t, err)
	assert.Equal(t, Reject, m.Score)
}

func TestGroupScoreNameMatchAndReject(t *testing.T) {
	typ := resType(t)
	desc := model.NewDescriptor("r", nil, 3)
	n := model.NewNetlist(nil)
	for i := 0; i < 3; i++ {
		n.AddNode("", false)
	}
	n.Nodes[1].Name = "OUT"
	desc.Netlist = n

	g := desc.Groups[1]
	g.Name = "out"
	cmp := NewComparator(nil)
	assert.Equal(t, NameMatchScore, cmp.GroupScore(desc, g, n.Nodes[1]))

	dev := model.NewDevice("r1", typ, []*model.Group{desc.Groups[1], desc.Groups[2]}, nil)
	e := &model.EDevice{Name: "r1", Type: typ, Nodes: []int{2, 1}}
	model.LinkDevice(dev, e, false)
	g.Name = ""
	assert.Equal(t, Reject, cmp.GroupScore(desc, g, n.Nodes[1]), "dual places contact p on node 2")
}

func TestGroupScoreIgnoresPinlessInstanceContacts(t *testing.T) {
	typ := resType(t)
	top := model.NewDescriptor("top", nil, 3)
	leaf := model.NewDescriptor("leaf", nil, 1)
	n := model.NewNetlist(nil)
	for i := 0; i < 3; i++ {
		n.AddNode("", false)
	}
	top.Netlist = n
	model.NewSubckt("x1", top, leaf, []model.SubcktContact{{Parent: top.Groups[1], Sub: leaf.Groups[0]}})

	cmp := NewComparator(nil)
	assert.Equal(t, PerfectScore, cmp.GroupScore(top, top.Groups[1], n.Nodes[1]),
		"a contact with no master pin on an otherwise empty group matches an empty node")

	model.NewDevice("r1", typ, []*model.Group{top.Groups[1], top.Groups[2]}, nil)
	n.AddDevice(&model.EDevice{Name: "r1", Type: typ, Nodes: []int{1, 2}})
	assert.Equal(t, PerfectScore, cmp.GroupScore(top, top.Groups[1], n.Nodes[1]))
}
