package design

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// File is the on-disk shape of one design file. All sections are optional so
// that device types, schematics and layouts may live in separate files.
type File struct {
	DeviceTypes []DeviceTypeSpec `json:"deviceTypes,omitempty"`
	Schematics  []SchematicSpec  `json:"schematics,omitempty"`
	Layouts     []LayoutSpec     `json:"layouts,omitempty"`
	Top         string           `json:"top,omitempty"`
}

type MeasurementSpec struct {
	Name      string  `json:"name"`
	Param     string  `json:"param,omitempty"`
	Precision float64 `json:"precision"`
	Additive  bool    `json:"additive,omitempty"`
	Swap      string  `json:"swap,omitempty"`
}

type DeviceTypeSpec struct {
	Name         string            `json:"name"`
	Contacts     []string          `json:"contacts"`
	Permutable   []string          `json:"permutable,omitempty"`
	Measurements []MeasurementSpec `json:"measurements,omitempty"`
}

type PinSpec struct {
	Name string `json:"name"`
	Node int    `json:"node"`
}

type NodeSpec struct {
	ID     int    `json:"id"`
	Name   string `json:"name,omitempty"`
	Global bool   `json:"global,omitempty"`
}

type InstanceSpec struct {
	Name       string  `json:"name"`
	Device     string  `json:"device,omitempty"`
	Subckt     string  `json:"subckt,omitempty"`
	Nodes      [][]int `json:"nodes"`
	Params     Params  `json:"params,omitempty"`
	Flatten    bool    `json:"flatten,omitempty"`
	NoPhysical bool    `json:"noPhysical,omitempty"`
	WireCap    bool    `json:"wireCap,omitempty"`
}

type SchematicSpec struct {
	Name      string         `json:"name"`
	Pins      []PinSpec      `json:"pins,omitempty"`
	Nodes     []NodeSpec     `json:"nodes,omitempty"`
	Params    Params         `json:"params,omitempty"`
	Instances []InstanceSpec `json:"instances,omitempty"`
}

type TerminalSpec struct {
	Name  string `json:"name"`
	Fixed bool   `json:"fixed,omitempty"`
}

type GroupSpec struct {
	ID        int            `json:"id"`
	Name      string         `json:"name,omitempty"`
	Origin    string         `json:"origin,omitempty"`
	Global    bool           `json:"global,omitempty"`
	WireOnly  bool           `json:"wireOnly,omitempty"`
	CellConn  bool           `json:"cellConn,omitempty"`
	Terminals []TerminalSpec `json:"terminals,omitempty"`
}

type DeviceSpec struct {
	Name     string             `json:"name"`
	Type     string             `json:"type"`
	Contacts []int              `json:"contacts"`
	Values   map[string]float64 `json:"values,omitempty"`
}

type SubcktContactSpec struct {
	Parent int `json:"parent"`
	Sub    int `json:"sub"`
}

type SubcktSpec struct {
	Name     string              `json:"name"`
	Master   string              `json:"master"`
	Contacts []SubcktContactSpec `json:"contacts"`
}

type LayoutSpec struct {
	Name      string       `json:"name"`
	Schematic string       `json:"schematic,omitempty"`
	Groups    []GroupSpec  `json:"groups,omitempty"`
	Devices   []DeviceSpec `json:"devices,omitempty"`
	Subckts   []SubcktSpec `json:"subckts,omitempty"`
}

// Params holds parameter expressions. Bare numbers in the file are kept in
// their shortest decimal form.
type Params map[string]string

func (p *Params) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Params, len(raw))
	for k, v := range raw {
		switch x := v.(type) {
		case string:
			out[k] = x
		case float64:
			out[k] = strconv.FormatFloat(x, 'g', -1, 64)
		default:
			return fmt.Errorf("parameter %s: expected string or number, got %T", k, v)
		}
	}
	*p = out
	return nil
}
