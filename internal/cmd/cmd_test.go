package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/PLab-SI/PicoQuake/internal/config"
)

func TestRootCommands(t *testing.T) {
	root := getRootCmd()
	want := []string{"serve", "init", "probe", "acquire", "trigger"}
	for _, name := range want {
		c, _, err := root.Find([]string{name})
		if err != nil || c.Name() != name {
			t.Errorf("command %s not registered: %v", name, err)
		}
	}
	for _, flag := range []string{"short-id", "device", "seconds", "samples", "output-dir"} {
		if AcquireCmd.Flags().Lookup(flag) == nil {
			t.Errorf("acquire has no --%s", flag)
		}
	}
	for _, flag := range []string{"threshold", "pre", "post", "source", "axis", "rms-window"} {
		if TriggerCmd.Flags().Lookup(flag) == nil {
			t.Errorf("trigger has no --%s", flag)
		}
	}
	if ServeCmd.Flags().Lookup("port") == nil || ServeCmd.Flags().Lookup("interface") == nil {
		t.Error("serve has no listen flags")
	}
}

func TestInitWritesTemplate(t *testing.T) {
	t.Setenv("PICOQUAKE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	path := filepath.Join(t.TempDir(), "picoquake", "config.yaml")

	initCmd := &cobra.Command{Use: "init", RunE: config.InitCfg}
	InitCmdFlags(initCmd)
	initCmd.SetArgs([]string{"-o", path, "-y"})
	if err := initCmd.Execute(); err != nil {
		t.Fatal(err)
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var opt config.PicoQuakeOpt
	if err := yaml.Unmarshal(buf, &opt); err != nil {
		t.Fatal(err)
	}
	if opt != config.NewPicoQuakeOpt() {
		t.Errorf("template = %+v", opt)
	}

	// the template is a valid configuration for every other command
	acquire := &cobra.Command{Use: "acquire"}
	AcquireCmdFlags(acquire)
	if err := acquire.Flags().Set("config", path); err != nil {
		t.Fatal(err)
	}
	if err := acquire.Flags().Set("samples", "250"); err != nil {
		t.Fatal(err)
	}
	desc := config.NewPicoQuakeDesc()
	if err := desc.Parse(acquire); err != nil {
		t.Fatal(err)
	}
	if desc.Opt.Acquire.Samples != 250 || desc.Opt.Acquire.Seconds != opt.Acquire.Seconds {
		t.Errorf("acquire = %+v", desc.Opt.Acquire)
	}
	if err := desc.Opt.Validate(); err != nil {
		t.Error(err)
	}
}
