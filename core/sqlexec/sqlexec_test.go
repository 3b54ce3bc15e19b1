package sqlexec

import (
	"testing"

	"github.com/galaxycdc/replicator/pkg/galaxy"
)

func TestNew_DefaultsEngine(t *testing.T) {
	e := New(galaxy.ServerDescriptor{}, "")
	if e.engine != "COLUMNSTORE" {
		t.Errorf("engine = %q, want COLUMNSTORE", e.engine)
	}
}

func TestNew_KeepsConfiguredEngine(t *testing.T) {
	e := New(galaxy.ServerDescriptor{}, "InnoDB")
	if e.engine != "InnoDB" {
		t.Errorf("engine = %q, want InnoDB", e.engine)
	}
}
