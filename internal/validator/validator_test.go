package validator

import (
	"strings"
	"testing"
)

// TestDesignContractEnforcement checks that malformed design files are
// rejected before they reach the solver.
func TestDesignContractEnforcement(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}

	tests := []struct {
		name    string
		json    string
		wantErr bool
	}{
		{
			name:    "empty_design",
			json:    `{}`,
			wantErr: false,
		},
		{
			name: "valid_inverter",
			json: `{
				"deviceTypes": [{"name": "nmos", "contacts": ["d","g","s"], "permutable": ["d","s"],
					"measurements": [{"name": "w", "param": "w", "precision": 0.01, "additive": true}]}],
				"schematics": [{"name": "inv", "pins": [{"name": "a", "node": 1}],
					"params": {"w": "1u", "m": 2},
					"instances": [{"name": "m1", "device": "nmos", "nodes": [[2, 1, 0]], "params": {"w": "'w*2'"}}]}],
				"layouts": [{"name": "inv", "groups": [{"id": 1, "name": "a", "origin": "label", "terminals": [{"name": "a", "fixed": true}]}],
					"devices": [{"name": "m1", "type": "nmos", "contacts": [2, 1, 0], "values": {"w": 2e-6}}]}],
				"top": "inv"
			}`,
			wantErr: false,
		},
		{
			name:    "misspelled_field",
			json:    `{"schematics": [{"name": "inv", "instance": []}]}`,
			wantErr: true,
		},
		{
			name:    "empty_contact_list",
			json:    `{"deviceTypes": [{"name": "r", "contacts": []}]}`,
			wantErr: true,
		},
		{
			name:    "negative_node",
			json:    `{"schematics": [{"name": "c", "pins": [{"name": "a", "node": -1}]}]}`,
			wantErr: true,
		},
		{
			name:    "bad_origin",
			json:    `{"layouts": [{"name": "c", "groups": [{"id": 1, "origin": "guessed"}]}]}`,
			wantErr: true,
		},
		{
			name:    "zero_precision",
			json:    `{"deviceTypes": [{"name": "r", "contacts": ["a","b"], "measurements": [{"name": "r", "precision": 0}]}]}`,
			wantErr: true,
		},
		{
			name:    "instance_without_vectors",
			json:    `{"schematics": [{"name": "c", "instances": [{"name": "x", "subckt": "inv", "nodes": []}]}]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateJSON([]byte(tt.json))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidationErrorsListsEveryProblem(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	errs := v.ValidationErrors([]byte(`{"layouts": [{"name": "", "groups": [{"id": -3}]}]}`))
	if len(errs) == 0 {
		t.Fatalf("expected validation errors")
	}
	if v.ValidationErrors([]byte(`{"top": "x"}`)) != nil {
		t.Fatalf("expected no errors for a valid design")
	}
}

func TestReportValidator(t *testing.T) {
	v, err := NewReportValidator()
	if err != nil {
		t.Fatalf("new report validator: %v", err)
	}

	valid := map[string]interface{}{
		"run_id":      "0b8f6b1c-2a43-4f55-9a51-2f7d7a0f7c11",
		"top":         "nand2",
		"status":      "ok",
		"duration_ms": 3,
		"tables": map[string]interface{}{
			"cells": []interface{}{
				map[string]interface{}{
					"cell": "nand2", "groups": 5, "devices": 4, "subckts": 0,
					"nodes": 5, "edevices": 4, "esubckts": 0,
					"unresolved_groups": 0, "unresolved_devices": 0, "unresolved_subckts": 0,
					"unresolved_nodes": 0, "unresolved_edevices": 0, "unresolved_esubckts": 0,
					"merged": 0, "flattened": 0, "associated": true, "inconsistent": false,
				},
			},
			"residuals": []interface{}{},
			"duals": []interface{}{
				map[string]interface{}{"cell": "nand2", "kind": "device", "physical": "m1", "electrical": "m1"},
			},
		},
		"violations": []interface{}{},
		"summary":    map[string]interface{}{"total_violations": 0, "errors": 0, "warnings": 0, "info": 0},
	}
	if err := v.Validate(valid); err != nil {
		t.Fatalf("valid report rejected: %v", err)
	}

	valid["status"] = "complete"
	err = v.Validate(valid)
	if err == nil {
		t.Fatalf("expected unknown status to be rejected")
	}
	if !strings.Contains(err.Error(), "report schema validation failed") {
		t.Fatalf("unexpected error text: %v", err)
	}
}
