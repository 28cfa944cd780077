package main

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jessevdk/go-flags"
)

func TestOptionDefaults(t *testing.T) {
	var opts Options
	if _, err := flags.ParseArgs(&opts, []string{"--register", "ACTUAL_POSITION", "--register", "CURRENT_A", "--movement"}); err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	want := Options{
		IP:                "192.168.2.22",
		Port:              502,
		SlaveId:           1,
		Baud:              115200,
		Registers:         []string{"ACTUAL_POSITION", "CURRENT_A"},
		RefreshTime:       100,
		Movement:          true,
		Position1:         0,
		Position2:         65535,
		PositionTolerance: 200,
		Output:            "./outputs/data_log.csv",
		InfluxOrg:         "w1xm",
		InfluxBucket:      "drive.raw",
	}
	// Environment-backed options depend on the test environment.
	opts.Password, opts.InfluxServer, opts.InfluxToken = "", "", ""
	if diff := cmp.Diff(opts, want); diff != "" {
		t.Errorf("unexpected options: got(-)/want(+):\n%s", diff)
	}
}

func TestMovementOffByDefault(t *testing.T) {
	var opts Options
	p := flags.NewParser(&opts, flags.Default)
	if _, err := p.ParseArgs(nil); err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if opts.Movement {
		t.Errorf("Movement = true without --movement")
	}
	o := p.FindOptionByLongName("movement")
	if o == nil {
		t.Fatalf("no --movement option")
	}
	if !strings.Contains(o.Description, "off by default") {
		t.Errorf("--movement description %q does not say it is off by default", o.Description)
	}
}
