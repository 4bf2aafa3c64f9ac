package mcp

import (
	"testing"

	"outlook_mcp_server/core/domain"
)

func TestMergeFactorsInternalOverridesCaller(t *testing.T) {
	tool := &Tool{
		Factors: map[string]Factor{
			"select": {
				Source:      sourceInternal,
				Type:        "SelectParams",
				TargetParam: "select",
				Parameters: []FactorParam{
					{Name: "id", Default: true},
					{Name: "subject", Default: true},
				},
			},
		},
	}
	// Caller tries to project the full body; the internal factor wins.
	merged, err := MergeFactors(tool, map[string]any{
		"select": map[string]any{"body": true},
	})
	if err != nil {
		t.Fatal(err)
	}
	sel, ok := merged["select"].(*domain.SelectParams)
	if !ok {
		t.Fatalf("select is %T", merged["select"])
	}
	if sel.Body || !sel.ID || !sel.Subject {
		t.Fatalf("caller value leaked through internal factor: %+v", sel)
	}
}

func TestMergeFactorsSignatureDefaultsFallback(t *testing.T) {
	tool := &Tool{
		Factors: map[string]Factor{
			"top": {Source: sourceSignatureDefaults, Type: "int", TargetParam: "top", Default: 450},
		},
	}

	merged, err := MergeFactors(tool, nil)
	if err != nil {
		t.Fatal(err)
	}
	if merged["top"] != 450 {
		t.Fatalf("default not applied: %v", merged["top"])
	}

	merged, err = MergeFactors(tool, map[string]any{"top": float64(10)})
	if err != nil {
		t.Fatal(err)
	}
	if merged["top"] != float64(10) {
		t.Fatalf("caller value lost: %v", merged["top"])
	}
}

func TestMergeFactorsBindsTargetParam(t *testing.T) {
	tool := &Tool{
		Factors: map[string]Factor{
			"max_results": {Source: sourceSignatureDefaults, Type: "int", TargetParam: "top", Default: 100},
		},
	}
	merged, err := MergeFactors(tool, map[string]any{"max_results": float64(25)})
	if err != nil {
		t.Fatal(err)
	}
	if merged["top"] != float64(25) {
		t.Fatalf("top %v", merged["top"])
	}
	if _, leaked := merged["max_results"]; leaked {
		t.Fatal("factor key copied alongside targetParam")
	}
}

func TestMergeFactorsCopiesRemainingArgs(t *testing.T) {
	tool := &Tool{Factors: map[string]Factor{}}
	merged, err := MergeFactors(tool, map[string]any{
		"user_email": "kim@example.com",
		"orderby":    "subject asc",
	})
	if err != nil {
		t.Fatal(err)
	}
	if merged["user_email"] != "kim@example.com" || merged["orderby"] != "subject asc" {
		t.Fatalf("merged %v", merged)
	}
}

func TestMergeFactorsInstantiatesCallerComposite(t *testing.T) {
	tool := &Tool{
		Factors: map[string]Factor{
			"filter": {Source: sourceSignatureDefaults, Type: "FilterParams", TargetParam: "filter"},
		},
	}
	merged, err := MergeFactors(tool, map[string]any{
		"filter": map[string]any{
			"is_read":      false,
			"from_address": []any{"a@x.com", "b@x.com"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	f, ok := merged["filter"].(*domain.FilterParams)
	if !ok {
		t.Fatalf("filter is %T", merged["filter"])
	}
	if f.IsRead == nil || *f.IsRead {
		t.Fatalf("is_read %+v", f.IsRead)
	}
	if len(f.FromAddress) != 2 {
		t.Fatalf("from_address %v", f.FromAddress)
	}
}

func TestArgCoercion(t *testing.T) {
	args := map[string]any{
		"top":     float64(42),
		"name":    "x",
		"flag":    true,
		"exclude": map[string]any{"exclude_from_address": "spam@x.com"},
	}
	if argInt(args, "top") != 42 || argString(args, "name") != "x" || !argBool(args, "flag") {
		t.Fatal("primitive coercion failed")
	}
	ex, err := argExclude(args, "exclude")
	if err != nil {
		t.Fatal(err)
	}
	if len(ex.FromAddress) != 1 || ex.FromAddress[0] != "spam@x.com" {
		t.Fatalf("exclude %+v", ex)
	}
	if missing, err := argExclude(args, "absent"); err != nil || missing != nil {
		t.Fatalf("absent composite: %v %v", missing, err)
	}
}

func TestArgStringsAcceptsSingleString(t *testing.T) {
	list, err := argStrings(map[string]any{"ids": "one"}, "ids")
	if err != nil || len(list) != 1 || list[0] != "one" {
		t.Fatalf("list=%v err=%v", list, err)
	}
}
