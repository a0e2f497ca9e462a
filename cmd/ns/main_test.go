package main

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestValidationResult(t *testing.T) {
	ok, err := json.Marshal(validationResult(nil))
	if err != nil {
		t.Fatal(err)
	}
	if string(ok) != `{"ok":true}` {
		t.Fatalf("valid config = %s", ok)
	}

	bad := validationResult(errors.New("config.versions is required"))
	if bad["ok"] != false || bad["error"] != "config.versions is required" {
		t.Fatalf("invalid config = %v", bad)
	}
}
