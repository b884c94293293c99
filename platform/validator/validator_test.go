package validator

import "testing"

type cancelRequest struct {
	Reason string `validate:"required,max=200"`
}

func TestDescribeReportsFailedRules(t *testing.T) {
	v := New()
	err := v.Struct(cancelRequest{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	details := Describe(err)
	if details["reason"] != "required" {
		t.Fatalf("expected reason=required, got %v", details)
	}
}

func TestDescribeIgnoresForeignErrors(t *testing.T) {
	if Describe(nil) != nil {
		t.Fatal("expected nil details for nil error")
	}
}
