package util

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 40)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("line %q is longer than %d", line, Wrap)
		}
	}
	if got := WrapString("short text"); got != "short text" {
		t.Errorf("WrapString = %q", got)
	}
}

func setupConfig(t *testing.T) {
	t.Helper()
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: "test"}
	SetupEngineFlags(cmd)
	InitConfig()
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		t.Fatal(err)
	}
}

func TestEngineOptionsFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HKV_DATA_DIR", dir)
	t.Setenv("HKV_MUTABLE_CAPACITY", "128")
	t.Setenv("HKV_FLUSH_AGE", "250ms")
	t.Setenv("HKV_PROMOTE_ON_READ", "false")
	setupConfig(t)

	opts, err := GetEngineOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Dir != dir {
		t.Errorf("Dir = %q, want %q", opts.Dir, dir)
	}
	if opts.MutableCapacity != 128<<10 {
		t.Errorf("MutableCapacity = %d", opts.MutableCapacity)
	}
	if opts.FlushAge != 250*time.Millisecond {
		t.Errorf("FlushAge = %s", opts.FlushAge)
	}
	if opts.PromoteOnRead {
		t.Errorf("PromoteOnRead should be disabled")
	}
	if opts.MaxDiskBytes != 0 {
		t.Errorf("MaxDiskBytes = %d, want unbounded", opts.MaxDiskBytes)
	}
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HKV_DATA_DIR", dir)
	t.Setenv("HKV_INDEX_BUCKETS", "64")
	setupConfig(t)

	opts, err := GetEngineOptions()
	if err != nil {
		t.Fatal(err)
	}
	s, database, err := OpenStore(opts)
	if err != nil {
		t.Fatal(err)
	}
	if database == nil {
		t.Fatal("OpenStore returned no database")
	}
	if err := s.Set("key", []byte("value")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// the data survives in the directory
	s, _, err = OpenStore(opts)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if v, ok, err := s.Get("key"); err != nil || !ok || string(v) != "value" {
		t.Errorf("Get after reopen = %q, %v, %v", v, ok, err)
	}
}
