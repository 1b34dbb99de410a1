package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jacobine-go/pipeline/internal/config"
	"github.com/jacobine-go/pipeline/internal/dbgateway"
	"github.com/jacobine-go/pipeline/internal/httpfetch"
	"github.com/jacobine-go/pipeline/internal/logging"
	"github.com/jacobine-go/pipeline/internal/mqclient"
	"github.com/jacobine-go/pipeline/internal/producer"
)

func getCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <project>",
		Short: "Fetch a project's release feed and publish download.http for everything new",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectName := args[0]

			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)

			project, err := cfg.Project(projectName)
			if err != nil {
				return err
			}
			if project.FeedURL == "" {
				return fmt.Errorf("project %q has no FeedURL configured", projectName)
			}

			ctx := context.Background()

			gw, err := dbgateway.Open(ctx, dbgateway.Credentials{
				Host:     cfg.MySQL.Host,
				Port:     cfg.MySQL.Port,
				User:     cfg.MySQL.User,
				Password: cfg.MySQL.Password,
				Database: project.MySQL.Database,
			})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer gw.Close()

			broker, err := mqclient.Dial(mqclient.Address{
				Host:     cfg.RabbitMQ.Host,
				Port:     cfg.RabbitMQ.Port,
				User:     cfg.RabbitMQ.User,
				Password: cfg.RabbitMQ.Password,
				Vhost:    cfg.RabbitMQ.Vhost,
			})
			if err != nil {
				return fmt.Errorf("dial broker: %w", err)
			}
			defer broker.Close()

			deps := producer.Deps{
				DB:      gw,
				MQ:      broker,
				Fetcher: httpfetch.New(),
				Logger:  logging.Named(projectName),
			}
			runCfg := producer.Config{
				Project:        projectName,
				Exchange:       project.RabbitMQ.Exchange,
				FeedURL:        project.FeedURL,
				RequestTimeout: cfg.Various.Requests.Timeout,
			}

			if err := producer.Run(ctx, deps, runCfg); err != nil {
				return fmt.Errorf("producer run: %w", err)
			}
			return nil
		},
	}
	return cmd
}
