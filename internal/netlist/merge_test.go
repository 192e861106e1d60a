package netlist_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/lvsdual/internal/design/designtest"
	"github.com/robert-at-pretension-io/lvsdual/internal/netlist"
	"github.com/robert-at-pretension-io/lvsdual/internal/params"
)

const parallel = `
schematics:
  - name: par
    pins: [{name: d, node: 1}, {name: g, node: 2}]
    instances:
      - {name: m1, device: nmos, nodes: [[1, 2, 0]], params: {w: 1, l: 1}}
      - {name: m2, device: nmos, nodes: [[0, 2, 1]], params: {w: 2, l: 1}}
      - {name: m3, device: nmos, nodes: [[1, 2, 0]], params: {w: 4, l: 2}}
layouts:
  - name: par
    groups:
      - {id: 1, terminals: [{name: d}]}
      - {id: 2, terminals: [{name: g}]}
    devices:
      - {name: big, type: nmos, contacts: [1, 2, 0], values: {w: 3, l: 1}}
      - {name: long, type: nmos, contacts: [1, 2, 0], values: {w: 4, l: 2}}
`

func TestMergeParallel(t *testing.T) {
	lib := designtest.Library(t, designtest.DeviceTypes, parallel)
	desc := lib.Layouts["par"]
	n, err := netlist.NewBuilder(params.New(), nil, 0).Build(desc)
	require.NoError(t, err)
	require.Len(t, n.Devices, 3)

	merged := netlist.MergeParallel(n, desc)
	assert.Equal(t, 1, merged)

	active := n.ActiveDevices()
	require.Len(t, active, 2)
	rep := active[0]
	assert.Equal(t, "m1", rep.Name)
	assert.Equal(t, 3.0, rep.Params["w"])
	assert.Equal(t, 1.0, rep.Params["l"])
	require.Len(t, rep.Sections, 2)
	assert.Same(t, rep, rep.Sections[0])
	assert.Equal(t, "m2", rep.Sections[1].Name)
	assert.True(t, n.Devices[1].Merged)

	// m2's contacts are withdrawn from the node table.
	assert.Len(t, n.Nodes[1].Contacts, 2)
	assert.Len(t, n.Nodes[2].Contacts, 2)

	assert.Equal(t, 0, netlist.MergeParallel(n, desc), "counts already balanced")
}

func TestMergeParallelRequiresExcess(t *testing.T) {
	lib := designtest.Library(t, designtest.DeviceTypes, `
schematics:
  - name: par
    pins: [{name: d, node: 1}, {name: g, node: 2}]
    instances:
      - {name: m1, device: nmos, nodes: [[1, 2, 0]], params: {w: 1, l: 1}}
      - {name: m2, device: nmos, nodes: [[1, 2, 0]], params: {w: 1, l: 1}}
layouts:
  - name: par
    devices:
      - {name: a, type: nmos, contacts: [1, 2, 0]}
      - {name: b, type: nmos, contacts: [1, 2, 0]}
`)
	desc := lib.Layouts["par"]
	n, err := netlist.NewBuilder(params.New(), nil, 0).Build(desc)
	require.NoError(t, err)
	assert.Equal(t, 0, netlist.MergeParallel(n, desc))
	assert.Len(t, n.ActiveDevices(), 2)
}
