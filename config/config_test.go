package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tcpserver.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 7001
handler = "sink"
framing = "line"
write_timeout = "2s"
verbose = false

[admin]
enabled = true
port = 9191
`)

	conf := Default()
	if err := NewLoader().Load(path, conf); err != nil {
		t.Fatalf("load: %v", err)
	}

	if conf.Server.Port != 7001 || conf.Server.Handler != "sink" || conf.Server.Framing != "line" {
		t.Errorf("unexpected server section: %+v", conf.Server)
	}
	if conf.Server.WriteTimeout != 2*time.Second {
		t.Errorf("expected 2s write timeout, got %v", conf.Server.WriteTimeout)
	}
	if conf.Server.Verbose {
		t.Error("verbose should be overridden by the file")
	}
	if conf.Server.Response != "Acknowledged" {
		t.Errorf("expected default response, got %q", conf.Server.Response)
	}
	if !conf.Admin.Enabled || conf.Admin.Port != 9191 {
		t.Errorf("unexpected admin section: %+v", conf.Admin)
	}
}

func TestLoadRequiresPort(t *testing.T) {
	if err := NewLoader().Load("", Default()); err == nil {
		t.Error("expected validation error without a port")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "[server]\nport = 7001\n")
	t.Setenv("TCPSERVER_SERVER_PORT", "7002")
	t.Setenv("TCPSERVER_SERVER_RESPONSE", "pong")

	conf := Default()
	if err := NewLoader().Load(path, conf); err != nil {
		t.Fatalf("load: %v", err)
	}
	if conf.Server.Port != 7002 || conf.Server.Response != "pong" {
		t.Errorf("env not applied: %+v", conf.Server)
	}
}

func TestFlagsOverrideEverything(t *testing.T) {
	path := writeConfig(t, "[server]\nport = 7001\nhandler = \"answer\"\n")
	t.Setenv("TCPSERVER_SERVER_PORT", "7002")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.IntP("port", "p", 0, "")
	fs.String("handler", "answer", "")
	if err := fs.Parse([]string{"-p", "7003", "--handler", "sink"}); err != nil {
		t.Fatal(err)
	}

	l := NewLoader()
	if err := l.BindFlags(fs); err != nil {
		t.Fatal(err)
	}
	conf := Default()
	if err := l.Load(path, conf); err != nil {
		t.Fatalf("load: %v", err)
	}
	if conf.Server.Port != 7003 || conf.Server.Handler != "sink" {
		t.Errorf("flags not applied: %+v", conf.Server)
	}
	if l.Current() != conf {
		t.Error("current config should be the loaded one")
	}
}

func TestValidationRejectsUnknownHandler(t *testing.T) {
	path := writeConfig(t, "[server]\nport = 7001\nhandler = \"echo\"\n")
	if err := NewLoader().Load(path, Default()); err == nil {
		t.Error("expected validation error for unknown handler")
	}
}

func TestValidationRequiresResponseForAnswer(t *testing.T) {
	path := writeConfig(t, "[server]\nport = 7001\nhandler = \"answer\"\nresponse = \"\"\n")
	if err := NewLoader().Load(path, Default()); err == nil {
		t.Error("expected validation error for empty answer response")
	}
}

func TestMaskHidesSecrets(t *testing.T) {
	m := map[string]any{
		"Kafka":  map[string]any{"Brokers": []any{"kafka:9092"}, "Topic": "t"},
		"Server": map[string]any{"Port": 7001},
	}
	mask(m)

	kafka := m["Kafka"].(map[string]any)
	if kafka["Brokers"] != "******" {
		t.Errorf("brokers not masked: %v", kafka["Brokers"])
	}
	if kafka["Topic"] != "t" {
		t.Error("topic should stay visible")
	}
}
