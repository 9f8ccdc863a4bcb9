package containerwork

import (
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/kadds/job-judge/pkg/containercfg"
)

// allowedDevices lists the /dev nodes every job-judge sandbox gets, keyed by
// their major:minor pair, all with rwm access.
var allowedDevices = []struct {
	path        string
	major       int64
	minor       int64
	permissions string
}{
	{"/dev/null", 1, 3, "rwm"},
	{"/dev/tty", 1, 5, "rwm"},
	{"/dev/zero", 1, 7, "rwm"},
	{"/dev/random", 1, 8, "rwm"},
	{"/dev/urandom", 1, 9, "rwm"},
}

// BuildRuntimeSpec assembles the OCI runtime spec for a container running
// under namespace with id. tmpl is not read: the spec carries no CPU, memory
// or IO limits.
func BuildRuntimeSpec(namespace, id string, tmpl containercfg.Template) *specs.Spec {
	devices := make([]specs.LinuxDeviceCgroup, 0, len(allowedDevices))
	for _, d := range allowedDevices {
		major, minor := d.major, d.minor
		devices = append(devices, specs.LinuxDeviceCgroup{
			Allow:  true,
			Type:   "c",
			Major:  &major,
			Minor:  &minor,
			Access: d.permissions,
		})
	}

	return &specs.Spec{
		Version: specs.Version,
		Root: &specs.Root{
			Path:     "rootfs",
			Readonly: false,
		},
		Mounts: append(defaultMounts(), specs.Mount{
			Destination: "/run",
			Type:        "tmpfs",
			Source:      "tmpfs",
			Options:     []string{"nosuid", "strictatime", "mode=755", "size=65536k"},
		}),
		Process: &specs.Process{
			Cwd: "/",
		},
		Linux: &specs.Linux{
			CgroupsPath: fmt.Sprintf("/%s/%s", namespace, id),
			Resources: &specs.LinuxResources{
				Devices: devices,
			},
		},
	}
}

// defaultMounts returns the base mount table every container gets before
// the /run tmpfs override is appended.
func defaultMounts() []specs.Mount {
	return []specs.Mount{
		{
			Destination: "/proc",
			Type:        "proc",
			Source:      "proc",
		},
		{
			Destination: "/dev",
			Type:        "tmpfs",
			Source:      "tmpfs",
			Options:     []string{"nosuid", "strictatime", "mode=755", "size=65536k"},
		},
	}
}
