package permute_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/lvsdual/internal/design"
	"github.com/robert-at-pretension-io/lvsdual/internal/design/designtest"
	"github.com/robert-at-pretension-io/lvsdual/internal/model"
	"github.com/robert-at-pretension-io/lvsdual/internal/netlist"
	"github.com/robert-at-pretension-io/lvsdual/internal/params"
	"github.com/robert-at-pretension-io/lvsdual/internal/permute"
)

func build(t *testing.T, lib *design.Library, cell string) *model.Netlist {
	t.Helper()
	n, err := netlist.NewBuilder(params.New(), nil, 0).Build(lib.Layouts[cell])
	require.NoError(t, err)
	return n
}

func TestDetectNAND2Inputs(t *testing.T) {
	lib := designtest.Library(t, designtest.DeviceTypes, designtest.NAND2)
	groups := permute.Detect(build(t, lib, "nand2"))
	assert.Equal(t, [][]int{{1, 2}}, groups)
}

func TestDetectNOR3Inputs(t *testing.T) {
	lib := designtest.Library(t, designtest.DeviceTypes, `
schematics:
  - name: nor3
    pins: [{name: a, node: 1}, {name: b, node: 2}, {name: c, node: 3}, {name: z, node: 4}]
    nodes: [{id: 5, name: vdd, global: true}, {id: 6, name: m1}, {id: 7, name: m2}]
    instances:
      - {name: pa, device: pmos, nodes: [[5, 1, 6]]}
      - {name: pb, device: pmos, nodes: [[6, 2, 7]]}
      - {name: pc, device: pmos, nodes: [[7, 3, 4]]}
      - {name: na, device: nmos, nodes: [[4, 1, 0]]}
      - {name: nb, device: nmos, nodes: [[0, 2, 4]]}
      - {name: nc, device: nmos, nodes: [[4, 3, 0]]}
layouts:
  - name: nor3
`)
	groups := permute.Detect(build(t, lib, "nor3"))
	assert.Equal(t, [][]int{{0, 1, 2}}, groups)
}

func TestDetectTopologicalSymmetry(t *testing.T) {
	lib := designtest.Library(t, designtest.DeviceTypes, `
schematics:
  - name: sum
    pins: [{name: a, node: 1}, {name: b, node: 2}, {name: out, node: 3}, {name: bias, node: 4}]
    instances:
      - {name: ra, device: res, nodes: [[1, 3]]}
      - {name: rb, device: res, nodes: [[2, 3]]}
      - {name: rbias, device: res, nodes: [[3, 4]]}
layouts:
  - name: sum
`)
	groups := permute.Detect(build(t, lib, "sum"))
	assert.Equal(t, [][]int{{0, 1}}, groups, "bias drives the other end of its resistor")
}

func TestDetectNoGroups(t *testing.T) {
	lib := designtest.Library(t, designtest.DeviceTypes, `
schematics:
  - name: inv
    pins: [{name: a, node: 1}, {name: z, node: 2}]
    nodes: [{id: 3, name: vdd, global: true}]
    instances:
      - {name: mp, device: pmos, nodes: [[2, 1, 3]]}
      - {name: mn, device: nmos, nodes: [[2, 1, 0]]}
layouts:
  - name: inv
`)
	assert.Empty(t, permute.Detect(build(t, lib, "inv")))
}

func TestGeneratorSwappedInstance(t *testing.T) {
	lib := designtest.Library(t, designtest.DeviceTypes, designtest.NAND2, designtest.SwappedTop)
	xg := lib.Layouts["top"].Subckts[0]

	g := permute.NewGenerator(xg, [][]int{{1, 2}}, 0)
	require.Equal(t, 2, g.Len())
	assert.Equal(t, []int{0, 1, 2}, g.State(0))
	assert.Equal(t, []int{0, 2, 1}, g.State(1))
}

// fanout builds a master with n interchangeable pins and one instance of it.
func fanout(n int) *model.Subckt {
	sch := model.NewSchCell("m", n+1)
	master := model.NewDescriptor("m", sch, n+1)
	parent := model.NewDescriptor("p", nil, n+1)
	var contacts []model.SubcktContact
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("p%d", i)
		sch.Pins = append(sch.Pins, model.SchPin{Name: name, Node: i})
		master.Groups[i].AddTerminal(name, false)
		contacts = append(contacts, model.SubcktContact{Parent: parent.Groups[i], Sub: master.Groups[i]})
	}
	return model.NewSubckt("x", parent, master, contacts)
}

func TestGeneratorCapsStates(t *testing.T) {
	s := fanout(4)
	all := permute.NewGenerator(s, [][]int{{0, 1, 2, 3}}, 0)
	assert.Equal(t, 24, all.Len())
	seen := make(map[string]bool)
	for i := 0; i < all.Len(); i++ {
		seen[fmt.Sprint(all.State(i))] = true
	}
	assert.Len(t, seen, 24)

	capped := permute.NewGenerator(s, [][]int{{0, 1, 2, 3}}, 5)
	assert.Equal(t, 5, capped.Len())
	assert.Equal(t, []int{0, 1, 2, 3}, capped.State(0))

	product := permute.NewGenerator(s, [][]int{{0, 1}, {2, 3}}, 0)
	assert.Equal(t, 4, product.Len())
	assert.Equal(t, []int{1, 0, 3, 2}, product.State(3))
}
