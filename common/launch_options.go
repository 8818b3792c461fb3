package common

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/guregu/null.v3"

	"github.com/reclamefabriek/dashcheck/api"
)

// launchEnvPrefix prefixes the environment variables read by
// ApplyLaunchEnv, e.g. BROWSER_EXECUTABLE_PATH.
const launchEnvPrefix = "BROWSER"

type launchEnv struct {
	ExecutablePath null.String   `envconfig:"EXECUTABLE_PATH"`
	Headless       null.Bool     `envconfig:"HEADLESS"`
	NoSandbox      null.Bool     `envconfig:"NO_SANDBOX"`
	Args           []string      `envconfig:"ARGS"`
	Timeout        time.Duration `envconfig:"TIMEOUT"`
	Debug          bool          `envconfig:"DEBUG"`
}

// ApplyLaunchEnv overrides opts with the BROWSER_* environment variables
// that are set. Args are appended to the ones already in opts.
func ApplyLaunchEnv(opts *api.LaunchOptions) error {
	var env launchEnv
	if err := envconfig.Process(launchEnvPrefix, &env); err != nil {
		return fmt.Errorf("parsing browser launch environment: %w", err)
	}

	if env.ExecutablePath.Valid {
		opts.ExecutablePath = env.ExecutablePath
	}
	if env.Headless.Valid {
		opts.Headless = env.Headless
	}
	if env.NoSandbox.Valid {
		opts.NoSandbox = env.NoSandbox
	}
	opts.Args = append(opts.Args, env.Args...)
	if env.Timeout > 0 {
		opts.Timeout = env.Timeout
	}
	if env.Debug {
		opts.Debug = true
	}

	return nil
}
