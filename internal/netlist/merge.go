package netlist

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats/scalar"

	"github.com/robert-at-pretension-io/lvsdual/internal/model"
)

// MergeParallel folds electrically parallel schematic devices of one type
// into a single comparison unit while the schematic holds more devices of
// that type than the layout. Devices are parallel when their nodes agree,
// with the permutable pair taken in either order, and their non-additive
// measurements agree within precision. Additive measurements of absorbed
// sections are summed onto the representative. Devices already dualed are
// never absorbed. It returns the number of sections absorbed.
func MergeParallel(n *model.Netlist, desc *model.Descriptor) int {
	physical := make(map[*model.DeviceType]int)
	for _, d := range desc.Devices {
		physical[d.Type]++
	}

	var order []*model.DeviceType
	byType := make(map[*model.DeviceType][]*model.EDevice)
	for _, e := range n.ActiveDevices() {
		if _, ok := byType[e.Type]; !ok {
			order = append(order, e.Type)
		}
		byType[e.Type] = append(byType[e.Type], e)
	}

	merged := 0
	for _, t := range order {
		devs := byType[t]
		excess := len(devs) - physical[t]
		if excess <= 0 {
			continue
		}
		reps := make(map[string][]*model.EDevice)
		for _, e := range devs {
			if excess == 0 {
				break
			}
			key := parallelKey(e)
			absorbed := false
			if e.Dual == nil {
				for _, rep := range reps[key] {
					if compatible(rep, e) {
						n.Absorb(rep, e)
						sumAdditive(rep, e)
						excess--
						merged++
						absorbed = true
						break
					}
				}
			}
			if !absorbed {
				reps[key] = append(reps[key], e)
			}
		}
	}
	return merged
}

func parallelKey(e *model.EDevice) string {
	nodes := append([]int(nil), e.Nodes...)
	if t := e.Type; t.HasPermutable() {
		a, b := t.Permutable[0], t.Permutable[1]
		if nodes[a] > nodes[b] {
			nodes[a], nodes[b] = nodes[b], nodes[a]
		}
	}
	var sb strings.Builder
	for i, id := range nodes {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%d", id)
	}
	return sb.String()
}

func compatible(rep, e *model.EDevice) bool {
	for _, m := range rep.Type.Measurements {
		if m.Additive {
			continue
		}
		key := strings.ToLower(m.Param)
		a, okA := rep.Params[key]
		b, okB := e.Params[key]
		if okA != okB {
			return false
		}
		if okA && !scalar.EqualWithinRel(a, b, m.Precision) {
			return false
		}
	}
	return true
}

func sumAdditive(rep, e *model.EDevice) {
	for _, m := range rep.Type.Measurements {
		if !m.Additive {
			continue
		}
		key := strings.ToLower(m.Param)
		if v, ok := e.Params[key]; ok {
			rep.Params[key] += v
		}
	}
}
