package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spotiqueue/server/internal/admin"
	"github.com/spotiqueue/server/internal/config"
	"github.com/spotiqueue/server/internal/cooldown"
	"github.com/spotiqueue/server/internal/identity"
	"github.com/spotiqueue/server/internal/lock"
	"github.com/spotiqueue/server/internal/moderation"
	"github.com/spotiqueue/server/internal/settings"
	"github.com/spotiqueue/server/pkg/database"
	"github.com/spotiqueue/server/pkg/events"
	"github.com/spotiqueue/server/pkg/logger"
)

var (
	// Version is set at build time
	Version = "dev"

	rootCmd = &cobra.Command{
		Use:   "queuectl",
		Short: "Administer a running spotiqueue event from the shell",
		Long: `queuectl runs the host's admin operations (cooldowns, device blocks,
banned tracks, runtime settings) directly against the server's database.
It reads the same environment and .env file as the server.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().String("mysql-host", "", "MySQL host (overrides MYSQL_HOST)")
	rootCmd.PersistentFlags().String("mysql-database", "", "MySQL database (overrides MYSQL_DATABASE)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
}

// env is everything a command needs, opened once per invocation.
type env struct {
	svc   *admin.Service
	close func()
}

func open(cmd *cobra.Command) (*env, error) {
	v := viper.New()
	v.AutomaticEnv()
	_ = v.BindPFlag("MYSQL_HOST", cmd.Flags().Lookup("mysql-host"))
	_ = v.BindPFlag("MYSQL_DATABASE", cmd.Flags().Lookup("mysql-database"))
	base, err := config.Load()
	if err != nil {
		return nil, err
	}
	if h := v.GetString("MYSQL_HOST"); h != "" {
		base.MySQL.Host = h
	}
	if d := v.GetString("MYSQL_DATABASE"); d != "" {
		base.MySQL.Database = d
	}

	level := "warn"
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	log, err := logger.New("development", level)
	if err != nil {
		return nil, err
	}

	db, err := database.NewMySQLDB(base.MySQL.Host, base.MySQL.Port, base.MySQL.User, base.MySQL.Password, base.MySQL.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var publisher events.Publisher = events.Nop{}
	closers := []func() error{db.Close}
	if base.Kafka.Enabled() {
		kafka := events.NewKafkaClient(base.Kafka.Brokers, base.Kafka.Topic, "")
		publisher = kafka
		closers = append(closers, kafka.Close)
	}

	ledger := identity.NewLedger(db, log)
	svc := admin.NewService(db, ledger,
		cooldown.NewEngine(db, ledger, lock.NewLocal(), log),
		moderation.NewBans(db, log),
		settings.NewService(db, publisher, log),
		nil, publisher, log)

	return &env{svc: svc, close: func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("close failed", zap.Error(err))
			}
		}
		_ = log.Sync()
	}}, nil
}

// withEnv adapts a command body that needs an opened env into a cobra RunE.
func withEnv(fn func(cmd *cobra.Command, args []string, e *env) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := open(cmd)
		if err != nil {
			return err
		}
		defer e.close()
		return fn(cmd, args, e)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
