// Package designtest holds small hand-checked designs shared by the tests of
// the association packages.
package designtest

import (
	"testing"

	"github.com/robert-at-pretension-io/lvsdual/internal/design"
)

// Single-letter names such as y and n are quoted: YAML 1.1 reads them as
// booleans.

// DeviceTypes declares the primitives used by every fixture. Precisions are
// binary fractions so that tolerance boundaries are exact in tests.
const DeviceTypes = `
deviceTypes:
  - name: nmos
    contacts: [d, g, s]
    permutable: [d, s]
    measurements:
      - {name: w, precision: 0.0625, additive: true}
      - {name: l, precision: 0.0625}
  - name: pmos
    contacts: [d, g, s]
    permutable: [d, s]
    measurements:
      - {name: w, precision: 0.0625, additive: true}
      - {name: l, precision: 0.0625}
  - name: res
    contacts: [p, "n"]
    measurements:
      - {name: r, precision: 0.0625}
`

// NAND2 is a two-input NAND with pins y, a, b. The layout devices carry
// different names than the schematic so that only topology can match them.
const NAND2 = `
schematics:
  - name: nand2
    pins: [{name: "y", node: 1}, {name: a, node: 2}, {name: b, node: 3}]
    nodes: [{id: 4, name: vdd, global: true}, {id: 5, name: mid}]
    instances:
      - {name: mp1, device: pmos, nodes: [[1, 2, 4]], params: {w: 2, l: 1}}
      - {name: mp2, device: pmos, nodes: [[1, 3, 4]], params: {w: 2, l: 1}}
      - {name: mn1, device: nmos, nodes: [[1, 2, 5]], params: {w: 1, l: 1}}
      - {name: mn2, device: nmos, nodes: [[5, 3, 0]], params: {w: 1, l: 1}}
layouts:
  - name: nand2
    groups:
      - {id: 1, terminals: [{name: "y"}]}
      - {id: 2, terminals: [{name: a}]}
      - {id: 3, terminals: [{name: b}]}
      - {id: 4, name: vdd, global: true}
    devices:
      - {name: pa, type: pmos, contacts: [1, 2, 4], values: {w: 2, l: 1}}
      - {name: pb, type: pmos, contacts: [4, 3, 1], values: {w: 2, l: 1}}
      - {name: na, type: nmos, contacts: [5, 2, 1], values: {w: 1, l: 1}}
      - {name: nb, type: nmos, contacts: [0, 3, 5], values: {w: 1, l: 1}}
`

// SwappedTop instantiates NAND2 once with its a and b inputs exchanged in
// the layout relative to the schematic.
const SwappedTop = `
schematics:
  - name: top
    pins: [{name: in1, node: 1}, {name: in2, node: 2}, {name: out, node: 3}]
    nodes: [{id: 4, name: vdd, global: true}]
    instances:
      - {name: x1, subckt: nand2, nodes: [[3, 1, 2]]}
layouts:
  - name: top
    groups:
      - {id: 1, terminals: [{name: in1}]}
      - {id: 2, terminals: [{name: in2}]}
      - {id: 3, terminals: [{name: out}]}
    subckts:
      - name: xg
        master: nand2
        contacts:
          - {parent: 3, sub: 1}
          - {parent: 1, sub: 3}
          - {parent: 2, sub: 2}
top: top
`

// Library parses and builds the concatenation of docs, failing the test on
// any error.
func Library(t testing.TB, docs ...string) *design.Library {
	t.Helper()
	files := make([]*design.File, 0, len(docs))
	for i, doc := range docs {
		f, err := design.Parse([]byte(doc))
		if err != nil {
			t.Fatalf("fixture %d: %v", i, err)
		}
		files = append(files, f)
	}
	lib, err := design.Build(files...)
	if err != nil {
		t.Fatalf("building fixture: %v", err)
	}
	return lib
}
