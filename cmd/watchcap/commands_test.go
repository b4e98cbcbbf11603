package main

import (
	"testing"
)

func TestDirectConfigRequiresPipelineFlags(t *testing.T) {
	cases := []RunFlags{
		{},
		{Device: "/dev/video0"},
		{Device: "/dev/video0", ProducerCommand: "p"},
	}
	for i, f := range cases {
		if _, err := directConfig(f); err == nil {
			t.Fatalf("case %d: incomplete flags should be rejected", i)
		}
	}
}

func TestDirectConfigBuildsSupervisorConfig(t *testing.T) {
	cfg, err := directConfig(RunFlags{
		Device:          "/dev/video0",
		ProducerCommand: "ffmpeg -f v4l2 -i /dev/video0 -f mpegts udp://127.0.0.1:5000",
		ConsumerCommand: "ffplay udp://127.0.0.1:5000",
	})
	if err != nil {
		t.Fatalf("direct config: %v", err)
	}
	if cfg.Device.Path != "/dev/video0" {
		t.Fatalf("device not carried: %+v", cfg.Device)
	}
	if cfg.Producer.Command == "" || cfg.Consumer.Command == "" {
		t.Fatalf("commands not carried: %+v", cfg)
	}
}

func TestRunCommandRegistersPipelineFlags(t *testing.T) {
	root := buildRoot()
	run, _, err := root.Find([]string{"run"})
	if err != nil {
		t.Fatalf("find run: %v", err)
	}
	for _, name := range []string{"config", "device", "producer-command", "consumer-command"} {
		if run.Flags().Lookup(name) == nil {
			t.Fatalf("run is missing --%s", name)
		}
	}
}
