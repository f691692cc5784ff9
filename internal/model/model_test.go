package model

import "testing"

func TestStripSupervisorLabels(t *testing.T) {
	in := map[string]string{
		"io.balena.supervised":      "true",
		"io.balena.app-id":          "1",
		"io.balena.update.strategy": "kill-then-download",
		"com.example.custom":       "keep-me",
	}
	out := StripSupervisorLabels(in)
	if len(out) != 1 {
		t.Fatalf("expected 1 remaining label, got %d: %v", len(out), out)
	}
	if out["com.example.custom"] != "keep-me" {
		t.Errorf("custom label not preserved: %v", out)
	}
}

func TestParseEngineObjectName(t *testing.T) {
	cases := []struct {
		in       string
		wantID   int
		wantName string
		wantErr  bool
	}{
		{"1_default", 1, "default", false},
		{"42_my-network", 42, "my-network", false},
		{"not-a-name", 0, "", true},
		{"_missing-id", 0, "", true},
	}
	for _, c := range cases {
		id, name, err := ParseEngineObjectName(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseEngineObjectName(%q): expected error, got none", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseEngineObjectName(%q): unexpected error: %v", c.in, err)
		}
		if id != c.wantID || name != c.wantName {
			t.Errorf("ParseEngineObjectName(%q) = (%d, %q), want (%d, %q)", c.in, id, name, c.wantID, c.wantName)
		}
	}
	if got := EngineObjectName(1, "default"); got != "1_default" {
		t.Errorf("EngineObjectName = %q, want %q", got, "1_default")
	}
}

func TestServiceIsEqualConfig(t *testing.T) {
	base := Config{Image: "nginx:latest", Env: map[string]string{"A": "1"}, Running: true}
	a := Service{ServiceName: "web", Config: base}
	b := Service{ServiceName: "web", Config: base}
	if !a.IsEqualConfig(b) {
		t.Error("expected identical configs to be equal")
	}

	withStrategyLabel := base
	withStrategyLabel.Labels = map[string]string{LabelUpdateStrategy: "kill-then-download"}
	c := Service{ServiceName: "web", Config: withStrategyLabel}
	if !a.IsEqualConfig(c) {
		t.Error("expected configs differing only by io.balena.* labels to be equal after stripping")
	}

	different := base
	different.Image = "nginx:1.27"
	d := Service{ServiceName: "web", Config: different}
	if a.IsEqualConfig(d) {
		t.Error("expected configs with different images to differ")
	}
}

func TestServiceIsEqualExceptForRunningAndRelease(t *testing.T) {
	a := Service{ServiceName: "web", ReleaseID: 1, Config: Config{Image: "nginx:latest", Running: true}}
	b := Service{ServiceName: "web", ReleaseID: 2, Config: Config{Image: "nginx:latest", Running: false}}
	if !a.IsEqualExceptForRunningAndRelease(b) {
		t.Error("expected services differing only by release/running to be equal under this predicate")
	}

	c := Service{ServiceName: "web", ReleaseID: 2, Config: Config{Image: "nginx:1.27", Running: false}}
	if a.IsEqualExceptForRunningAndRelease(c) {
		t.Error("expected services with different images to differ materially")
	}
}

func TestServiceValidate(t *testing.T) {
	running := Service{ServiceName: "web", Status: StatusRunning}
	if err := running.Validate(); err == nil {
		t.Error("expected error for Running service without a container id")
	}
	running.ContainerID = "abc123"
	if err := running.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAppValidateDependsOnUnknownSibling(t *testing.T) {
	app := App{
		AppID: 1,
		Services: []Service{
			{ServiceName: "main", DependsOn: []string{"missing"}},
		},
	}
	if err := app.Validate(); err == nil {
		t.Error("expected error for dependsOn referencing unknown sibling")
	}
}

func TestNetworkValidateMissingGateway(t *testing.T) {
	n := Network{Name: "default", IPAM: IPAM{Configs: []IPAMEntry{{Subnet: "10.0.0.0/24"}}}}
	if err := n.Validate(); err == nil {
		t.Error("expected error for ipam entry missing gateway")
	}
}

func TestImageValidate(t *testing.T) {
	downloaded := Image{Status: ImageDownloaded, DockerImageID: "sha256:abc"}
	if err := downloaded.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	invalid := Image{Status: ImageDownloaded}
	if err := invalid.Validate(); err == nil {
		t.Error("expected error for Downloaded image without a digest")
	}
}
