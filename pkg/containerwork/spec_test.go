package containerwork

import (
	"testing"

	"github.com/kadds/job-judge/pkg/containercfg"
)

func TestBuildRuntimeSpec_CgroupsPathAndMounts(t *testing.T) {
	tmpl := containercfg.Template{
		Namespace: "shared",
		Image:     "docker.io/job-judge/gcc:13",
		Runtime:   "io.containerd.runc.v2",
	}

	spec := BuildRuntimeSpec("shared", "abc123", tmpl)

	if spec.Linux == nil || spec.Linux.CgroupsPath != "/shared/abc123" {
		t.Fatalf("expected cgroups path /shared/abc123, got %+v", spec.Linux)
	}

	foundRun := false
	for _, m := range spec.Mounts {
		if m.Destination == "/run" {
			foundRun = true
			if m.Type != "tmpfs" {
				t.Errorf("expected /run to be tmpfs, got %s", m.Type)
			}
		}
	}
	if !foundRun {
		t.Error("expected a /run tmpfs mount")
	}
}

func TestBuildRuntimeSpec_DeviceAllowlist(t *testing.T) {
	spec := BuildRuntimeSpec("shared", "abc123", containercfg.Template{})

	want := map[string][2]int64{
		"/dev/null":    {1, 3},
		"/dev/tty":     {1, 5},
		"/dev/zero":    {1, 7},
		"/dev/random":  {1, 8},
		"/dev/urandom": {1, 9},
	}

	if len(spec.Linux.Resources.Devices) != len(allowedDevices) {
		t.Fatalf("expected %d device rules, got %d", len(allowedDevices), len(spec.Linux.Resources.Devices))
	}

	for i, d := range allowedDevices {
		dev := spec.Linux.Resources.Devices[i]
		wantMM, ok := want[d.path]
		if !ok {
			t.Fatalf("unexpected device path %s in table", d.path)
		}
		if dev.Major == nil || *dev.Major != wantMM[0] || dev.Minor == nil || *dev.Minor != wantMM[1] {
			t.Errorf("%s: expected major:minor %d:%d, got %v:%v", d.path, wantMM[0], wantMM[1], dev.Major, dev.Minor)
		}
		if dev.Access != "rwm" {
			t.Errorf("%s: expected access rwm, got %s", d.path, dev.Access)
		}
		if !dev.Allow {
			t.Errorf("%s: expected Allow true", d.path)
		}
	}
}
