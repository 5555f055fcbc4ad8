package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/signoff-io/signoff/agent"
	"github.com/signoff-io/signoff/config"
	"github.com/signoff-io/signoff/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().String("storage-impl", "redis", "implementation of underline storage")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", "signoff", "namespace used in storage")
	cmd.Flags().String("sqlite-path", "signoff.db", "path of the sqlite database file")
	cmd.Flags().Int("lanes", 16, "number of workflow command lanes")
	cmd.Flags().Int("lane-capacity", 256, "capacity of each command lane")
	cmd.Flags().Int("activator-workers", 4, "workers resolving assignees and escalation targets")
	cmd.Flags().Int64("timer-max-delay", 604800, "maximum deadline delay in seconds")
	cmd.Flags().String("directory-endpoint", "", "base url of the user directory service")
	cmd.Flags().String("ticket-endpoint", "", "base url of the ticketing service")
	cmd.Flags().String("notify-endpoint", "", "webhook url for event notifications")
	cmd.Flags().String("dev-directory", "", "path of a json file with directory entries")
	cmd.Flags().String("audit-file", "", "path of the audit log file")
	cmd.Flags().String("log-level", "info", "log level")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.SqlitePath = viper.GetString("sqlite-path")
	c.cfg.Lanes = viper.GetInt("lanes")
	c.cfg.LaneCapacity = viper.GetInt("lane-capacity")
	c.cfg.ActivatorWorkers = viper.GetInt("activator-workers")
	c.cfg.TimerMaxDelaySeconds = viper.GetInt64("timer-max-delay")
	c.cfg.DirectoryEndpoint = viper.GetString("directory-endpoint")
	c.cfg.TicketEndpoint = viper.GetString("ticket-endpoint")
	c.cfg.NotifyEndpoint = viper.GetString("notify-endpoint")
	c.cfg.DevDirectoryFile = viper.GetString("dev-directory")
	c.cfg.AuditFile = viper.GetString("audit-file")
	c.cfg.LogLevel = viper.GetString("log-level")
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	if err := logger.Init(c.cfg.LogLevel); err != nil {
		return err
	}
	defer logger.Sync()
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		panic(err)
	}
	err = agent.Start()
	if err != nil {
		panic(err)
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "signoff",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
