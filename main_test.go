package main

import (
	"strings"
	"testing"

	"github.com/any-hub/imagehub/internal/config"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	testCases := []struct {
		name string
		env  string
		args []string
		want string
	}{
		{"env only", "/tmp/env.toml", nil, "/tmp/env.toml"},
		{"flag beats env", "/tmp/env.toml", []string{"--config", "/tmp/flag.toml"}, "/tmp/flag.toml"},
		{"default", "", nil, "config.toml"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(config.EnvConfigPath, tc.env)
			opts, err := parseCLIFlags(tc.args)
			if err != nil {
				t.Fatalf("解析失败: %v", err)
			}
			if opts.configPath != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, opts.configPath)
			}
		})
	}
}

func TestParseCLIFlagsRejectsUnknown(t *testing.T) {
	if _, err := parseCLIFlags([]string{"--nope"}); err == nil {
		t.Fatalf("未知参数应报错")
	}
}

func TestRunCheckConfig(t *testing.T) {
	_, errOut := useBufferWriters(t)
	if code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true}); code != 0 {
		t.Fatalf("期望退出码 0，得到 %d (stderr=%s)", code, errOut.String())
	}

	if code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true}); code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(errOut.String(), "加载配置失败") {
		t.Fatalf("stderr 应说明失败原因, got %s", errOut.String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	out, _ := useBufferWriters(t)
	if code := run(cliOptions{showVersion: true}); code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(out.String(), "image-hub") {
		t.Fatalf("version 输出应包含 image-hub 标识")
	}
}
