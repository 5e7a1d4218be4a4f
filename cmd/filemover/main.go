package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/openmined/filemover/internal/config"
	"github.com/openmined/filemover/internal/logging"
	"github.com/openmined/filemover/internal/storage"
	"github.com/openmined/filemover/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultEnvFile = ".env"

const (
	exitOK          = 0
	exitFailure     = 1
	exitMissingDir  = 2
	exitAuthFailure = 3
	exitUnreachable = 4
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:           "filemover",
	Short:         "Move new files from an input location to an output location",
	Version:       version.Detailed(),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		closer, err := setupLogging(cfg)
		if err != nil {
			return err
		}
		defer closer.Close()

		defer slog.Info("Bye!")
		return run(cmd.Context(), cfg, storage.Options{})
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.SortFlags = false
	flags.StringP("input", "i", "", "Input directory, local path, \\\\server\\share\\dir or s3://bucket/prefix")
	flags.StringP("output", "o", "", "Output directory")
	flags.IntP("sleep", "s", 0, "Seconds between transfer cycles")
	flags.String("archive-path", "", "Archive directory, enables archiving")
	flags.BoolP("verbose", "v", false, "Enable debug logging")
	flags.StringP("config", "c", "", "Config file (json, yaml or toml)")
	flags.String("env-file", defaultEnvFile, "Dotenv file loaded before reading the environment")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string, stderr io.Writer) int {
	if _, err := logging.Setup(logging.Options{}); err != nil {
		fmt.Fprintln(stderr, red("error:"), err)
		return exitFailure
	}

	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	code := exitCode(err)
	slog.Error("filemover stopped", "error", err, "exitCode", code)
	fmt.Fprintln(stderr, red("error:"), err)
	return code
}

// exitCode maps a startup failure to the documented process exit codes.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var be *storage.BackendError
	if !errors.As(err, &be) {
		return exitFailure
	}
	switch be.Kind {
	case storage.KindNotFound, storage.KindPermission:
		return exitMissingDir
	case storage.KindAuth:
		return exitAuthFailure
	case storage.KindUnreachable, storage.KindInvalidAddress:
		return exitUnreachable
	}
	return exitFailure
}

// loadConfig reads the dotenv file, the optional config file, the environment and the flags,
// in increasing order of precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}

	v := viper.GetViper()
	config.Bind(v)

	configPath, _ := cmd.Flags().GetString("config")
	if err := config.ReadFile(v, configPath); err != nil {
		return nil, err
	}

	v.BindPFlag("input_path", cmd.Flags().Lookup("input"))
	v.BindPFlag("output_path", cmd.Flags().Lookup("output"))
	v.BindPFlag("sleep_time", cmd.Flags().Lookup("sleep"))
	v.BindPFlag("archive_path", cmd.Flags().Lookup("archive-path"))
	v.BindPFlag("verbose", cmd.Flags().Lookup("verbose"))
	if cmd.Flags().Changed("archive-path") {
		v.Set("archive", "TRUE")
	}

	return config.Load(v)
}

func setupLogging(cfg *config.Config) (io.Closer, error) {
	return logging.Setup(logging.Options{
		Verbose: cfg.Verbose,
		File:    cfg.LogFile,
	})
}
