package containercfg

import (
	"testing"

	"github.com/kadds/job-judge/pkg/apperror"
)

const sampleDoc = `
templates:
  base:
    namespace: shared
    runtime: io.containerd.runc.v2
  cpp-base:
    extends: [base]
    image: docker.io/job-judge/gcc:13
    limit:
      cpu: 200m
  cpp-strict:
    extends: [cpp-base]
    limit:
      memory: 256M
  bare:
    image: docker.io/job-judge/bare:latest
  cyclic-a:
    extends: [cyclic-b]
  cyclic-b:
    extends: [cyclic-a]
`

func TestResolve_InheritsFromParent(t *testing.T) {
	reg, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := reg.Resolve("cpp-base")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Namespace != "shared" {
		t.Errorf("expected inherited namespace 'shared', got %s", cfg.Namespace)
	}
	if cfg.Image != "docker.io/job-judge/gcc:13" {
		t.Errorf("expected own image to win, got %s", cfg.Image)
	}
	if cfg.Limit.CPU != "200m" {
		t.Errorf("expected own cpu limit 200m, got %s", cfg.Limit.CPU)
	}
	if cfg.Limit.Memory != "50M" {
		t.Errorf("expected default memory limit, got %s", cfg.Limit.Memory)
	}
}

func TestResolve_FirstSetWinsAcrossMultipleLevels(t *testing.T) {
	reg, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := reg.Resolve("cpp-strict")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Limit.Memory != "256M" {
		t.Errorf("expected own memory 256M to win, got %s", cfg.Limit.Memory)
	}
	if cfg.Limit.CPU != "200m" {
		t.Errorf("expected grandparent cpu 200m to fill through, got %s", cfg.Limit.CPU)
	}
	if cfg.Namespace != "shared" {
		t.Errorf("expected root namespace to fill through two levels, got %s", cfg.Namespace)
	}
}

func TestResolve_AppliesAllDefaultsWhenNoExtends(t *testing.T) {
	reg, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := reg.Resolve("bare")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Namespace != "default" {
		t.Errorf("expected default namespace, got %s", cfg.Namespace)
	}
	if cfg.Runtime != "io.containerd.runc.v2" {
		t.Errorf("expected default runtime, got %s", cfg.Runtime)
	}
	if cfg.Snapshotter != "native" {
		t.Errorf("expected default snapshotter, got %s", cfg.Snapshotter)
	}
	if cfg.Limit.CPU != "50m" || cfg.Limit.Memory != "50M" || cfg.Limit.IO != "100" {
		t.Errorf("expected default limits, got %+v", cfg.Limit)
	}
	if cfg.Image != "docker.io/job-judge/bare:latest" {
		t.Errorf("expected own image to survive defaulting, got %s", cfg.Image)
	}
}

func TestResolve_CyclicExtendsRejected(t *testing.T) {
	reg, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	_, err = reg.Resolve("cyclic-a")
	if err == nil {
		t.Fatal("expected cyclic extends graph to be rejected")
	}
	if !apperror.Is(err, apperror.CodeCyclicExtends) {
		t.Errorf("expected CodeCyclicExtends, got %v", err)
	}
}

func TestResolve_UnknownTemplate(t *testing.T) {
	reg, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if _, err := reg.Resolve("does-not-exist"); err == nil {
		t.Fatal("expected unknown template to error")
	}
}
