package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"forcebackup/internal/logging"
	"forcebackup/internal/salesforce"
)

var cfgFile string

// connection and global flags
var (
	instanceURL string
	accessToken string
	apiVersion  string
	apiTimeout  time.Duration

	verbose      bool
	quiet        bool
	logFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "forcebackup",
	Short: "Backup and restore Salesforce org data through the Bulk API",
	Long: `forcebackup extracts Salesforce object data through Bulk API v2 query
jobs into per-object CSV files, captures binary attachments, and records
the relationship metadata needed to restore the data into another org
with fresh record IDs.

Examples:
  # Back up two objects into a directory
  forcebackup backup --output ./backup --objects Account,Contact

  # Back up everything, compress and encrypt the archive
  forcebackup backup --output ./backup --all-objects \
                     --compression zstd --encrypt-key-env BACKUP_KEY

  # Restore a backup into another org
  forcebackup restore --dir ./backup --mode INSERT

  # List runs kept in configured storage
  forcebackup runs list`,
	SilenceUsage: true,
}

// Execute runs the CLI. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.forcebackup.yaml)")
	rootCmd.PersistentFlags().StringVar(&instanceURL, "instance-url", "", "Salesforce instance URL, e.g. https://myorg.my.salesforce.com")
	rootCmd.PersistentFlags().StringVar(&accessToken, "access-token", "", "Salesforce access token (prompted when omitted)")
	rootCmd.PersistentFlags().StringVar(&apiVersion, "api-version", "", "REST API version override, e.g. v59.0")
	rootCmd.PersistentFlags().DurationVar(&apiTimeout, "timeout", 120*time.Second, "per-request API timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to file as well as stdout")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format (table, json, yaml)")

	viper.BindPFlag("instance_url", rootCmd.PersistentFlags().Lookup("instance-url"))
	viper.BindPFlag("access_token", rootCmd.PersistentFlags().Lookup("access-token"))
	viper.BindPFlag("api_version", rootCmd.PersistentFlags().Lookup("api-version"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("format", rootCmd.PersistentFlags().Lookup("format"))

	rootCmd.AddCommand(newVersionCommand())
	rootCmd.AddCommand(newConfigCommand())
}

// initConfig reads the config file and FORCEBACKUP_* environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".forcebackup")
	}

	viper.SetEnvPrefix("FORCEBACKUP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the logger from the global flags.
func newLogger() (*logging.Logger, error) {
	level := logging.LogLevelNormal
	if verbose {
		level = logging.LogLevelVerbose
	}
	if quiet {
		level = logging.LogLevelQuiet
	}
	return logging.NewLogger(logging.Config{
		Level:   level,
		Output:  os.Stderr,
		LogFile: logFile,
	})
}

// newSalesforceClient resolves connection settings from flags, config and
// environment, prompting for the token on a terminal as a last resort.
func newSalesforceClient(logger *logging.Logger) (*salesforce.Client, error) {
	if verbose && quiet {
		return nil, fmt.Errorf("--verbose and --quiet are mutually exclusive")
	}

	url := firstNonEmpty(instanceURL, viper.GetString("instance_url"))
	token := firstNonEmpty(accessToken, viper.GetString("access_token"))
	version := firstNonEmpty(apiVersion, viper.GetString("api_version"))

	if url == "" {
		return nil, fmt.Errorf("instance URL is required: pass --instance-url or set FORCEBACKUP_INSTANCE_URL")
	}
	if token == "" {
		var err error
		token, err = promptForToken()
		if err != nil {
			return nil, err
		}
	}

	return salesforce.NewClient(salesforce.Config{
		InstanceURL: url,
		AccessToken: token,
		APIVersion:  version,
		Timeout:     apiTimeout,
	}, logger)
}

// promptForToken reads the access token without echo. Fails when stdin is
// not a terminal; automation must pass the token explicitly.
func promptForToken() (string, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return "", fmt.Errorf("access token is required: pass --access-token or set FORCEBACKUP_ACCESS_TOKEN")
	}
	fmt.Fprint(os.Stderr, "Access token: ")
	token, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read access token: %w", err)
	}
	if len(token) == 0 {
		return "", fmt.Errorf("access token cannot be empty")
	}
	return string(token), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Version information, set by build flags through SetVersionInfo.
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// SetVersionInfo sets the version information from build flags.
func SetVersionInfo(v, bt, gc string) {
	version = v
	buildTime = bt
	gitCommit = gc
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("forcebackup version %s\n", version)
			fmt.Printf("Built: %s\n", buildTime)
			fmt.Printf("Commit: %s\n", gitCommit)
		},
	}
}

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Generate a sample configuration file",
		Long: `Generate a configuration template for the --config flag.

Redirect the output to a file and fill in your org and storage settings:
  forcebackup config > .forcebackup.yaml`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(sampleConfig)
		},
	}
}

const sampleConfig = `# forcebackup configuration file

# Org connection. The access token is best kept in the environment:
#   export FORCEBACKUP_ACCESS_TOKEN=00D...
instance_url: https://myorg.my.salesforce.com
access_token: ""
api_version: v59.0        # REST API version
timeout: 120s             # per-request timeout

# Backup defaults
backup:
  output_dir: ./backup
  all_objects: false
  objects:
    - Account
    - Contact
  include_binaries: true
  concurrency: 4          # objects extracted in parallel
  limit: 0                # records per object, 0 = all
  compression: zstd       # none, gzip, lz4, zstd
  compression_level: 0    # 0 = algorithm default

  # Archive encryption (AES-256-GCM). The key is 32 bytes: raw in a file
  # or hex in an environment variable.
  encryption:
    enabled: false
    key_source: env       # env or file
    key_env_var: FORCEBACKUP_KEY
    key_path: ""

  # Archive storage backend. local, s3, azure or gcs.
  storage:
    provider: local
    local:
      base_path: ./backups
    s3:
      bucket: ""
      region: us-east-1
    azure:
      account_name: ""
      account_key: ""
      container_name: ""
    gcs:
      bucket: ""
      credentials_path: ""

  # Delete stored runs past these limits after each backup.
  retention:
    max_runs: 0           # 0 = unlimited
    max_age: 0            # e.g. 720h

# Restore defaults
restore:
  mode: INSERT            # INSERT, UPDATE or UPSERT
  batch_size: 200
  validate: true
  stop_on_error: false
`
