package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/ptreport/ptreport/config"
	"github.com/ptreport/ptreport/model"
	"github.com/ptreport/ptreport/practitest"
)

const AppName = "ptreport"

// reporter is the part of the PractiTest client the commands use.
type reporter interface {
	EnsureInstanceForTest(ctx context.Context, setID int, testName string) (int, error)
	CreateRun(ctx context.Context, result model.RunResult) ([]byte, error)
}

type App struct {
	logger zerolog.Logger
	cli    *cli.App

	// newReporter builds the client from the merged configuration.
	newReporter func(cfg *config.Config) (reporter, error)
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Report automated test results to PractiTest",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "verbose",
					Usage: "Enable verbose (debug) logging",
				},
				&cli.StringFlag{
					Name:    "config",
					Aliases: []string{"c"},
					Usage:   "YAML config file, flags and environment variables take precedence",
					EnvVars: []string{"PTREPORT_CONFIG"},
				},
				&cli.StringFlag{
					Name:    "base-url",
					Usage:   "PractiTest API base URL, e.g. https://eu1-prod-api.practitest.app (default: " + config.DefaultBaseURL + ")",
					EnvVars: []string{"PT_BASE_URL"},
				},
				&cli.IntFlag{
					Name:    "project-id",
					Usage:   "PractiTest project id",
					EnvVars: []string{"PT_PROJECT_ID"},
					Base:    10,
				},
				&cli.StringFlag{
					Name:    "api-token",
					Usage:   "PractiTest API token",
					EnvVars: []string{"PT_API_TOKEN"},
				},
				&cli.StringFlag{
					Name:    "email",
					Usage:   "Developer email the API token belongs to",
					EnvVars: []string{"PT_EMAIL"},
				},
				&cli.IntFlag{
					Name:    "author-id",
					Usage:   "Author id stamped on created tests",
					EnvVars: []string{"PT_AUTHOR_ID"},
					Base:    10,
				},
				&cli.StringFlag{
					Name:    "ca-bundle",
					Usage:   "PEM file with trusted CA certificates (default: " + practitest.DefaultCABundlePath + ")",
					EnvVars: []string{practitest.CABundleEnvKey},
				},
				&cli.BoolFlag{
					Name:    "check-revocation",
					Usage:   "Check server certificates against their CRL distribution points, unreachable CRLs are tolerated",
					EnvVars: []string{"PT_CHECK_REVOCATION"},
				},
			},
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}
	app.newReporter = app.newPractiTestClient

	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "report",
		Usage:  "Report a single run of a test",
		Action: app.report,
		Flags: []cli.Flag{
			testNameFlag(),
			setIDFlag(),
			&cli.IntFlag{
				Name:     "exit-code",
				Usage:    "Exit code of the test, 0 means passed",
				Required: true,
				Base:     10,
			},
			&cli.StringFlag{
				Name:  "duration",
				Usage: "Run duration as HH:MM:SS or a duration like 5s, partial seconds are rounded up",
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "Automated execution output",
			},
			&cli.StringFlag{
				Name:  "output-file",
				Usage: "Read the automated execution output from a file (mutually exclusive with --output)",
			},
			attachFlag(),
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "exec",
		Usage:     "Run a command and report its outcome as a test run",
		ArgsUsage: "-- COMMAND [ARGS...]",
		Action:    app.execCommand,
		Flags: []cli.Flag{
			testNameFlag(),
			setIDFlag(),
			attachFlag(),
			&cli.StringSliceFlag{
				Name:  "attach-on-failure",
				Usage: "File to attach only when the command fails, e.g. a screenshot (can be repeated)",
			},
		},
		Description: `Runs COMMAND, streams its output and reports the outcome to PractiTest.

The run output starts with the command line followed by PASSED, or FAILED
and the tail of the captured output. ptreport exits with the exit code of
COMMAND once the run is reported.

Examples:
  ptreport exec --test-name "checkout works" -- go test ./checkout/...
  ptreport exec --test-name smoke --attach-on-failure artifacts/smoke.png -- ./smoke.sh`,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "junit",
		Usage:     "Report every test case of a JUnit XML file",
		ArgsUsage: "FILE",
		Action:    app.junitReport,
		Flags: []cli.Flag{
			setIDFlag(),
			&cli.StringFlag{
				Name:  "attachments-dir",
				Usage: "Directory with failure screenshots named after the sanitized test case name (<name>.png)",
			},
			&cli.StringFlag{
				Name:  "label",
				Usage: "Prefix of the run output",
				Value: "JUnit",
			},
			&cli.StringFlag{
				Name:  "strip-prefix",
				Usage: "Prefix removed from test case names before they are reported",
			},
		},
		Description: `Reports every test case of FILE as a run, skipped cases are left out.

Tests are looked up by the testcase name attribute. RspecJunitFormatter
writes the full description there, including the enclosing example
groups, while a harness reporting from inside RSpec usually uses the
example description alone. Use --strip-prefix with the group description
to report under the same names. Screenshots are always looked up by the
full testcase name.

Examples:
  ptreport junit --set-id 42 --label RSpec rspec.xml
  ptreport junit --set-id 42 --label RSpec --strip-prefix "PractiTest integration demo" --attachments-dir artifacts rspec.xml`,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "ensure",
		Usage:  "Resolve the instance of a test in a test set, creating it if needed, and print its id",
		Action: app.ensure,
		Flags: []cli.Flag{
			testNameFlag(),
			setIDFlag(),
		},
	})
	return app
}

func testNameFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "test-name",
		Aliases:  []string{"t"},
		Usage:    "Exact name of the PractiTest test",
		Required: true,
	}
}

func setIDFlag() cli.Flag {
	return &cli.IntFlag{
		Name:    "set-id",
		Usage:   "PractiTest test set id",
		EnvVars: []string{"PT_TESTSET_ID"},
		Base:    10,
	}
}

func attachFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:  "attach",
		Usage: "File to attach to the run (can be repeated)",
	}
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && len(commit) >= 8 {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}

// loadConfig merges defaults, the optional config file and explicitly set
// flags or environment variables, in that order.
func (a *App) loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg := config.Default()

	if path := ctx.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
		a.logger.Debug().Str("path", path).Msg("Loaded config file")
	}

	if ctx.IsSet("base-url") {
		cfg.BaseURL = ctx.String("base-url")
	}
	if ctx.IsSet("project-id") {
		cfg.ProjectID = ctx.Int("project-id")
	}
	if ctx.IsSet("api-token") {
		cfg.APIToken = ctx.String("api-token")
	}
	if ctx.IsSet("email") {
		cfg.DeveloperEmail = ctx.String("email")
	}
	if ctx.IsSet("set-id") {
		cfg.TestSetID = ctx.Int("set-id")
	}
	if ctx.IsSet("author-id") {
		id := ctx.Int("author-id")
		cfg.AuthorID = &id
	}
	if ctx.IsSet("ca-bundle") {
		cfg.CABundle = ctx.String("ca-bundle")
	}
	if ctx.IsSet("check-revocation") {
		cfg.CheckRevocation = ctx.Bool("check-revocation")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.RequireTestSet(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (a *App) newPractiTestClient(cfg *config.Config) (reporter, error) {
	client, err := practitest.New(a.logger, cfg.Credentials(), cfg.ClientOptions()...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// setup loads the configuration and builds the client.
func (a *App) setup(ctx *cli.Context) (*config.Config, reporter, error) {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	client, err := a.newReporter(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PractiTest client: %w", err)
	}

	a.logger.Debug().
		Str("base_url", cfg.BaseURL).
		Int("project_id", cfg.ProjectID).
		Int("set_id", cfg.TestSetID).
		Msg("Using PractiTest project")

	return cfg, client, nil
}

// submit resolves the instance of testName and reports result against it.
func (a *App) submit(ctx context.Context, client reporter, setID int, testName string, result model.RunResult) (int, error) {
	instanceID, err := client.EnsureInstanceForTest(ctx, setID, testName)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve instance for %q: %w", testName, err)
	}

	result.InstanceID = instanceID

	a.logger.Info().
		Str("test_name", testName).
		Int("instance_id", instanceID).
		Int("exit_code", result.ExitCode).
		Str("run_duration", result.Duration).
		Msg("Sending run")

	if _, err := client.CreateRun(ctx, result); err != nil {
		return 0, err
	}

	return instanceID, nil
}

func removeFirstDashDash(in []string) []string {
	if len(in) > 0 && in[0] == "--" {
		return in[1:]
	}
	return in
}
