package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/huntline/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

var configEnvVars = []string{
	"HUNTLINE_CONFIG",
	"HUNTLINE_ADDR",
	"HUNTLINE_STORE",
	"HUNTLINE_SQLITE_PATH",
	"HUNTLINE_OP_TIMEOUT_MS",
	"HUNTLINE_DISPATCH_WORKERS",
	"HUNTLINE_PUBLIC_BASE_URL",
	"HUNTLINE_LOG_FORMAT",
}

func clearConfigEnvVars() {
	for _, v := range configEnvVars {
		_ = os.Unsetenv(v)
	}
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		convey.Reset(clearConfigEnvVars)

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.Store, convey.ShouldEqual, config.StoreMemory)
				convey.So(cfg.OpTimeoutMS, convey.ShouldEqual, 5000)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("HUNTLINE_ADDR", ":8080")
			_ = os.Setenv("HUNTLINE_OP_TIMEOUT_MS", "250")
			_ = os.Setenv("HUNTLINE_DISPATCH_WORKERS", "3")
			_ = os.Setenv("HUNTLINE_PUBLIC_BASE_URL", "https://hunt.example.org")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.OpTimeoutMS, convey.ShouldEqual, 250)
				convey.So(cfg.DispatchWorkers, convey.ShouldEqual, 3)
				convey.So(cfg.PublicBaseURL, convey.ShouldEqual, "https://hunt.example.org")
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			path := filepath.Join(t.TempDir(), "huntline.yaml")
			yamlContent := `
addr: ":9090"
store: sqlite
sqlite_path: /tmp/hunts.db
max_lanes: 12
log_format: json
`
			convey.So(os.WriteFile(path, []byte(yamlContent), 0o600), convey.ShouldBeNil)
			_ = os.Setenv("HUNTLINE_CONFIG", path)

			convey.Convey("Then it should load from the file", func() {
				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.Store, convey.ShouldEqual, config.StoreSQLite)
				convey.So(cfg.SQLitePath, convey.ShouldEqual, "/tmp/hunts.db")
				convey.So(cfg.MaxLanes, convey.ShouldEqual, 12)
				convey.So(cfg.LogFormat, convey.ShouldEqual, "json")
			})

			convey.Convey("Then env vars still win over the file", func() {
				_ = os.Setenv("HUNTLINE_ADDR", ":7070")
				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
			})
		})

		convey.Convey("When the config file does not exist", func() {
			_ = os.Setenv("HUNTLINE_CONFIG", "/nonexistent/huntline.yaml")
			_, err := config.Load(ctx)

			convey.Convey("Then loading fails", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When env vars produce an invalid config", func() {
			_ = os.Setenv("HUNTLINE_STORE", "redis")
			_, err := config.Load(ctx)

			convey.Convey("Then validation rejects it", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}
