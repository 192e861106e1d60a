package dual

import "github.com/robert-at-pretension-io/lvsdual/internal/model"

type recordKind int

const (
	recGroup recordKind = iota
	recDevice
	recSubckt
)

// record is one undoable decision: the old and new value of a group's node,
// a device's dual or an instance's dual and permutation state.
type record struct {
	kind recordKind

	group            *model.Group
	oldNode, newNode int

	device                 *model.Device
	oldEDevice, newEDevice *model.EDevice
	oldSwapped, newSwapped bool

	subckt                 *model.Subckt
	oldESubckt, newESubckt *model.ESubckt
	oldState, newState     []int
}

// journal applies association changes to one descriptor and keeps them in
// order so that a symmetry trial can be rolled back and its winner replayed.
type journal struct {
	desc    *model.Descriptor
	records []record
}

func newJournal(desc *model.Descriptor) *journal {
	return &journal{desc: desc}
}

func (j *journal) associate(g *model.Group, n *model.ENode) {
	j.push(record{kind: recGroup, group: g, oldNode: g.Node, newNode: n.ID})
}

func (j *journal) unassociate(g *model.Group) {
	j.push(record{kind: recGroup, group: g, oldNode: g.Node, newNode: model.Unassociated})
}

func (j *journal) linkDevice(d *model.Device, e *model.EDevice, swapped bool) {
	j.push(record{
		kind: recDevice, device: d,
		oldEDevice: d.Dual, oldSwapped: d.Swapped,
		newEDevice: e, newSwapped: swapped,
	})
}

func (j *journal) unlinkDevice(d *model.Device) {
	j.linkDevice(d, nil, false)
}

func (j *journal) linkSubckt(s *model.Subckt, e *model.ESubckt, state []int) {
	j.push(record{
		kind: recSubckt, subckt: s,
		oldESubckt: s.Dual, oldState: s.State,
		newESubckt: e, newState: state,
	})
}

func (j *journal) unlinkSubckt(s *model.Subckt) {
	j.linkSubckt(s, nil, nil)
}

func (j *journal) push(r record) {
	j.records = append(j.records, r)
	j.apply(r, false)
}

// mark returns a position to roll back to.
func (j *journal) mark() int {
	return len(j.records)
}

// rollback undoes every record after m, newest first.
func (j *journal) rollback(m int) {
	for i := len(j.records) - 1; i >= m; i-- {
		j.apply(j.records[i], true)
	}
	j.records = j.records[:m]
}

// since copies the records after m.
func (j *journal) since(m int) []record {
	return append([]record(nil), j.records[m:]...)
}

// replay re-applies records taken with since.
func (j *journal) replay(rs []record) {
	for _, r := range rs {
		j.push(r)
	}
}

// release drops the history. The applied state is kept.
func (j *journal) release() {
	j.records = nil
}

func (j *journal) apply(r record, undo bool) {
	switch r.kind {
	case recGroup:
		node := r.newNode
		if undo {
			node = r.oldNode
		}
		model.UnassociateGroup(r.group, j.desc.NodeOf(r.group))
		if node != model.Unassociated {
			model.AssociateGroup(r.group, j.desc.Netlist.Node(node))
		}
	case recDevice:
		e, swapped := r.newEDevice, r.newSwapped
		if undo {
			e, swapped = r.oldEDevice, r.oldSwapped
		}
		model.UnlinkDevice(r.device)
		if e != nil {
			model.LinkDevice(r.device, e, swapped)
		}
	case recSubckt:
		e, state := r.newESubckt, r.newState
		if undo {
			e, state = r.oldESubckt, r.oldState
		}
		model.UnlinkSubckt(r.subckt)
		if e != nil {
			model.LinkSubckt(r.subckt, e, state)
		}
	}
}

// snapshot is a full copy of a descriptor's association state, used where a
// change spans a ClearDuality and cannot be journaled.
type snapshot struct {
	nodes   []int
	names   []string
	origins []model.NameOrigin
	devices []*model.EDevice
	swapped []bool
	subckts []*model.ESubckt
	states  [][]int
	assoc   bool
	incons  bool
}

func takeSnapshot(desc *model.Descriptor) *snapshot {
	s := &snapshot{assoc: desc.Associated, incons: desc.Inconsistent}
	for _, g := range desc.Groups {
		s.nodes = append(s.nodes, g.Node)
		s.names = append(s.names, g.Name)
		s.origins = append(s.origins, g.Origin)
	}
	for _, d := range desc.Devices {
		s.devices = append(s.devices, d.Dual)
		s.swapped = append(s.swapped, d.Swapped)
	}
	for _, sc := range desc.Subckts {
		s.subckts = append(s.subckts, sc.Dual)
		s.states = append(s.states, sc.State)
	}
	return s
}

// restore returns desc to the snapshot. The group, device and instance
// slices must not have changed length since it was taken.
func (s *snapshot) restore(desc *model.Descriptor) {
	desc.ClearDuality()
	for i, g := range desc.Groups {
		g.Name, g.Origin = s.names[i], s.origins[i]
		if s.nodes[i] != model.Unassociated {
			model.AssociateGroup(g, desc.Netlist.Node(s.nodes[i]))
		}
	}
	for i, d := range desc.Devices {
		if s.devices[i] != nil {
			model.LinkDevice(d, s.devices[i], s.swapped[i])
		}
	}
	for i, sc := range desc.Subckts {
		if s.subckts[i] != nil {
			model.LinkSubckt(sc, s.subckts[i], s.states[i])
		}
	}
	desc.Associated = s.assoc
	desc.Inconsistent = s.incons
}
