package instrument_test

import (
	"testing"

	"github.com/amirkhaki/preempt/pkg/instrument"
)

func TestDeterministicAliasGeneration(t *testing.T) {
	// Test that the same import path always generates the same alias
	config1 := instrument.DefaultConfig()
	config2 := instrument.DefaultConfig()

	instrument.NewInstrumenter(config1)
	instrument.NewInstrumenter(config2)

	if config1.RuntimeAlias != config2.RuntimeAlias {
		t.Errorf("Expected same alias for same import path, got %s and %s",
			config1.RuntimeAlias, config2.RuntimeAlias)
	}

	// Verify it starts with __preempt_
	if len(config1.RuntimeAlias) < 10 || config1.RuntimeAlias[:10] != "__preempt_" {
		t.Errorf("Expected alias to start with __preempt_, got %s", config1.RuntimeAlias)
	}

	// Verify it's the right length (__preempt_ + 16 hex chars = 26 chars)
	if len(config1.RuntimeAlias) != 26 {
		t.Errorf("Expected alias length of 26, got %d (%s)",
			len(config1.RuntimeAlias), config1.RuntimeAlias)
	}

	other := &instrument.Config{BaseRuntimeAddress: "custom/runtime"}
	instrument.NewInstrumenter(other)
	if other.RuntimeAlias == config1.RuntimeAlias {
		t.Error("Expected different alias for a different runtime path")
	}
}

func TestCustomRuntimeAlias(t *testing.T) {
	config := &instrument.Config{
		BaseRuntimeAddress: "custom/runtime",
		RuntimeAlias:       "myCustomAlias",
		LineFunc:           "Step",
		CallFunc:           "Enter",
		ReturnFunc:         "Leave",
		ImportRewrites:     map[string]string{},
	}

	instrument.NewInstrumenter(config)

	// Should preserve custom alias
	if config.RuntimeAlias != "myCustomAlias" {
		t.Errorf("Expected custom alias to be preserved, got %s", config.RuntimeAlias)
	}
}
