package dual

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/lvsdual/internal/model"
)

func journalFixture(t *testing.T) (*model.Descriptor, *model.Device, *model.EDevice) {
	t.Helper()
	typ := resType(t)
	desc := model.NewDescriptor("j", nil, 3)
	n := model.NewNetlist(nil)
	for i := 0; i < 3; i++ {
		n.AddNode("", false)
	}
	desc.Netlist = n
	dev := model.NewDevice("r1", typ, []*model.Group{desc.Groups[1], desc.Groups[2]}, nil)
	desc.Devices = append(desc.Devices, dev)
	e := &model.EDevice{Name: "r1", Type: typ, Nodes: []int{1, 2}}
	n.AddDevice(e)
	return desc, dev, e
}

func TestJournalRollbackAndReplay(t *testing.T) {
	desc, dev, e := journalFixture(t)
	j := newJournal(desc)
	j.associate(desc.Groups[0], desc.Netlist.Nodes[0])

	base := j.mark()
	j.associate(desc.Groups[1], desc.Netlist.Nodes[2])
	j.linkDevice(dev, e, true)
	require.Equal(t, 2, desc.Groups[1].Node)
	require.Same(t, e, dev.Dual)

	trial := j.since(base)
	j.rollback(base)
	assert.False(t, desc.Groups[1].Associated())
	assert.Nil(t, desc.Netlist.Nodes[2].Group)
	assert.Nil(t, dev.Dual)
	assert.Nil(t, e.Dual)
	assert.True(t, desc.Groups[0].Associated(), "records before the mark survive")

	j.replay(trial)
	assert.Equal(t, 2, desc.Groups[1].Node)
	assert.Same(t, dev, e.Dual)
	assert.True(t, dev.Swapped)
	assert.Empty(t, desc.CheckDuals())
}

func TestJournalRelinkRestoresPrevious(t *testing.T) {
	desc, dev, e := journalFixture(t)
	other := &model.EDevice{Name: "r2", Type: e.Type, Nodes: []int{2, 1}}
	desc.Netlist.AddDevice(other)

	j := newJournal(desc)
	j.linkDevice(dev, e, false)
	m := j.mark()
	j.unlinkDevice(dev)
	j.linkDevice(dev, other, false)
	assert.Nil(t, e.Dual)

	j.rollback(m)
	assert.Same(t, e, dev.Dual)
	assert.Same(t, dev, e.Dual)
	assert.Nil(t, other.Dual)
}

func TestSnapshotRestore(t *testing.T) {
	desc, dev, e := journalFixture(t)
	model.AssociateGroup(desc.Groups[1], desc.Netlist.Nodes[1])
	model.LinkDevice(dev, e, false)
	desc.Associated = true
	snap := takeSnapshot(desc)

	desc.ClearDuality()
	model.AssociateGroup(desc.Groups[1], desc.Netlist.Nodes[2])
	desc.Inconsistent = true

	snap.restore(desc)
	assert.Equal(t, 1, desc.Groups[1].Node)
	assert.Same(t, e, dev.Dual)
	assert.True(t, desc.Associated)
	assert.False(t, desc.Inconsistent)
	assert.Nil(t, desc.Netlist.Nodes[2].Group)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusOK},
		{fmt.Errorf("cell x: %w", ErrDepthExceeded), StatusFailed},
		{fmt.Errorf("cell x: %w: %v", ErrAborted, context.Canceled), StatusAborted},
		{context.DeadlineExceeded, StatusAborted},
		{errors.New("boom"), StatusFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.err), "%v", tt.err)
	}
	assert.Equal(t, "aborted", StatusAborted.String())
	assert.Equal(t, "ok", StatusOK.String())

	desc := model.NewDescriptor("c", nil, 1)
	assert.Equal(t, StatusOK, CellStatus(desc, nil))
	desc.Inconsistent = true
	assert.Equal(t, StatusInconsistent, CellStatus(desc, nil))
	assert.Equal(t, "inconsistent", StatusInconsistent.String())
	assert.Equal(t, StatusAborted, CellStatus(desc, ErrAborted), "errors win over the flag")
}

func TestCountErrorIsInconsistent(t *testing.T) {
	var err error = &countError{kind: "device type", name: "res", physical: 2, electrical: 1}
	assert.ErrorIs(t, err, ErrInconsistent)
	assert.Equal(t, "device type res: 2 physical vs 1 electrical unresolved", err.Error())
}
