// Package permute finds formal pins of a schematic cell that are logically
// interchangeable and enumerates the contact permutations an instance of
// that cell may be matched under.
//
// Two pins are interchangeable when their nodes carry the same multiset of
// device contacts and every contact on one node pairs with a contact on the
// other that is either parallel (all other contacts land on the same nodes)
// or sits in the same series chain of that device type. The first rule finds
// topologically symmetric nets; the second finds the stacked inputs of NAND
// and NOR gates.
package permute

import (
	"sort"

	"github.com/robert-at-pretension-io/lvsdual/internal/model"
)

// Detect returns groups of pin indexes of n's cell that may be permuted,
// each sorted, in order of their lowest pin.
func Detect(n *model.Netlist) [][]int {
	cell := n.Cell
	if cell == nil || len(cell.Pins) < 2 {
		return nil
	}
	chains := chainIDs(n)

	uf := newUnionFind(len(cell.Pins))
	for p := 0; p < len(cell.Pins); p++ {
		for q := p + 1; q < len(cell.Pins); q++ {
			if uf.find(p) == uf.find(q) {
				continue
			}
			if interchangeable(n, cell.Pins[p].Node, cell.Pins[q].Node, chains) {
				uf.union(p, q)
			}
		}
	}

	classes := make(map[int][]int)
	for p := range cell.Pins {
		r := uf.find(p)
		classes[r] = append(classes[r], p)
	}
	var groups [][]int
	for _, members := range classes {
		if len(members) >= 2 {
			groups = append(groups, members)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}

// interchangeable compares the contacts of nodes a and b.
func interchangeable(n *model.Netlist, a, b int, chains map[*model.EDevice]int) bool {
	if a == b || a == 0 || b == 0 {
		return false
	}
	na, nb := n.Node(a), n.Node(b)
	if na == nil || nb == nil || na.Global || nb.Global {
		return false
	}
	if len(na.Contacts) == 0 || len(na.Contacts) != len(nb.Contacts) || len(na.Pins) != len(nb.Pins) {
		return false
	}
	used := make([]bool, len(nb.Contacts))
	for _, ca := range na.Contacts {
		if ca.Device == nil {
			return false
		}
		found := false
		for j, cb := range nb.Contacts {
			if used[j] || cb.Device == nil || cb.Device == ca.Device {
				continue
			}
			if cb.Device.Type != ca.Device.Type || ca.Device.Type.ContactClass(ca.Index) != cb.Device.Type.ContactClass(cb.Index) {
				continue
			}
			if parallel(ca, cb, a, b) || sameChain(ca.Device, cb.Device, chains) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// parallel reports whether the devices of ca and cb agree on every contact
// other than the tested one, with a and b considered equal. The permutable
// pair may be taken either way round.
func parallel(ca, cb model.EContact, a, b int) bool {
	da, db := ca.Device, cb.Device
	t := da.Type
	norm := func(id int) int {
		if id == b {
			return a
		}
		return id
	}
	direct := true
	for i := range da.Nodes {
		if norm(da.Nodes[i]) != norm(db.Nodes[i]) {
			direct = false
			break
		}
	}
	if direct || !t.HasPermutable() {
		return direct
	}
	for i := range da.Nodes {
		if norm(da.Nodes[i]) != norm(db.Nodes[t.Partner(i)]) {
			return false
		}
	}
	return true
}

func sameChain(a, b *model.EDevice, chains map[*model.EDevice]int) bool {
	ca, okA := chains[a]
	cb, okB := chains[b]
	return okA && okB && ca == cb
}

// chainIDs joins devices into series chains: an internal node touched by
// exactly two contacts, both on the permutable pair of devices of one type,
// links the two devices.
func chainIDs(n *model.Netlist) map[*model.EDevice]int {
	devs := n.ActiveDevices()
	index := make(map[*model.EDevice]int, len(devs))
	for i, d := range devs {
		index[d] = i
	}
	uf := newUnionFind(len(devs))
	linked := make([]bool, len(devs))
	for _, node := range n.Nodes {
		if node.ID == 0 || node.Global || len(node.Pins) > 0 || len(node.Contacts) != 2 {
			continue
		}
		c0, c1 := node.Contacts[0], node.Contacts[1]
		if c0.Device == nil || c1.Device == nil || c0.Device == c1.Device || c0.Device.Type != c1.Device.Type {
			continue
		}
		t := c0.Device.Type
		if !t.InPair(c0.Index) || !t.InPair(c1.Index) {
			continue
		}
		i, j := index[c0.Device], index[c1.Device]
		uf.union(i, j)
		linked[i], linked[j] = true, true
	}
	out := make(map[*model.EDevice]int)
	for i, d := range devs {
		if linked[i] {
			out[d] = uf.find(i)
		}
	}
	return out
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	u := &unionFind{parent: make([]int, n)}
	for i := range u.parent {
		u.parent[i] = i
	}
	return u
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}
