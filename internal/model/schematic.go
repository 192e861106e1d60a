package model

import "fmt"

// SchPin is a formal pin of a schematic cell.
type SchPin struct {
	Name string
	Node int
}

// SchInstance is one device or subcircuit instance in a schematic cell.
// Arrayed instances carry one node vector per index.
type SchInstance struct {
	Name   string
	Device *DeviceType
	Master *SchCell

	// Nodes is indexed [vector][terminal]
	Nodes  [][]int
	Params map[string]string

	Flatten    bool
	NoPhysical bool
	WireCap    bool
}

// Width is the number of vector slots.
func (i *SchInstance) Width() int {
	return len(i.Nodes)
}

// VectorName returns the instance name for slot v, suffixed when arrayed.
func (i *SchInstance) VectorName(v int) string {
	if i.Width() > 1 {
		return fmt.Sprintf("%s[%d]", i.Name, v)
	}
	return i.Name
}

// IsSubckt reports whether the instance references a master cell.
func (i *SchInstance) IsSubckt() bool {
	return i.Master != nil
}

// SchCell is the computed node map of one schematic cell. Node 0 is ground.
type SchCell struct {
	Name      string
	Pins      []SchPin
	NodeNames []string
	Global    []bool
	Params    map[string]string
	Instances []*SchInstance
}

// NewSchCell allocates a cell with n nodes; node 0 is the global ground.
func NewSchCell(name string, n int) *SchCell {
	if n < 1 {
		n = 1
	}
	c := &SchCell{
		Name:      name,
		NodeNames: make([]string, n),
		Global:    make([]bool, n),
		Params:    make(map[string]string),
	}
	c.NodeNames[0] = "0"
	c.Global[0] = true
	return c
}

func (c *SchCell) NodeCount() int {
	return len(c.NodeNames)
}

// PinIndex returns the index of the named pin, or -1.
func (c *SchCell) PinIndex(name string) int {
	for i, p := range c.Pins {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func (c *SchCell) IsGlobal(node int) bool {
	return node >= 0 && node < len(c.Global) && c.Global[node]
}
