package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jacobine-go/pipeline/internal/config"
	"github.com/jacobine-go/pipeline/internal/consumer"
	"github.com/jacobine-go/pipeline/internal/dbgateway"
	"github.com/jacobine-go/pipeline/internal/httpfetch"
	"github.com/jacobine-go/pipeline/internal/logging"
	"github.com/jacobine-go/pipeline/internal/metrics"
	"github.com/jacobine-go/pipeline/internal/mqclient"
	"github.com/jacobine-go/pipeline/internal/processrunner"
	"github.com/jacobine-go/pipeline/internal/stages"
)

func consumeCmd() *cobra.Command {
	var projectName string

	cmd := &cobra.Command{
		Use:   "consume <StageName>",
		Short: "Run one stage's consumer loop against a project's queue",
		Long:  `Stage names: Download\HTTP, Download\Git, Extract\Targz, Analysis\PHPLoc, Analysis\PDepend, Analysis\GithubLinguist, Analysis\CVSAnaly`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stageName := args[0]

			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)

			project, err := cfg.Project(projectName)
			if err != nil {
				return err
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

			runner := processrunner.Runner{}
			exchange := project.RabbitMQ.Exchange

			handlers := []consumer.StageHandler{
				stages.NewDownloadHTTP(gw, httpfetch.New(), exchange, project.ReleasesPath, cfg.Various.Downloads.Timeout),
				stages.NewDownloadGit(gw, runner, exchange, cfg.Application["Git"].Path, project.GitCheckoutPath, cfg.Application["Git"].Timeout),
				stages.NewExtractTargz(gw, runner, exchange, cfg.Application["Tar"].Path, project.ReleasesPath, cfg.Application["Tar"].Timeout, project.Analyzers),
				stages.NewAnalysisPHPLoc(gw, runner, exchange, cfg.Application["PHPLoc"].Path, cfg.Application["PHPLoc"].Timeout),
				stages.NewAnalysisPDepend(gw, runner, exchange, cfg.Application["PDepend"].Path, cfg.Application["PDepend"].Timeout),
				stages.NewAnalysisGithubLinguist(gw, runner, exchange, cfg.Application["Linguist"].Path, cfg.Application["Linguist"].Timeout),
				stages.NewAnalysisCVSAnaly(gw, runner, exchange, cfg.Application["CVSAnaly"].Path, project.CVSAnaly.ConfigFile, cfg.Application["CVSAnaly"].Timeout),
			}

			registry, err := consumer.NewRegistry(handlers...)
			if err != nil {
				return fmt.Errorf("register stages: %w", err)
			}

			handler, ok := registry.Lookup(stageName)
			if !ok {
				return fmt.Errorf("unknown stage %q, known stages: %v", stageName, registry.Names())
			}

			deps := &consumer.Deps{
				DB:      gw,
				MQ:      broker,
				Metrics: metrics.New("jacobine_" + projectName),
				Logger:  logging.Named(stageName),
			}
			gw.OnReconnect = deps.Metrics.DatabaseReconnects.Inc

			rt := consumer.NewRuntime(deps, handler)
			if err := rt.Run(ctx); err != nil {
				return fmt.Errorf("stage %s: %w", stageName, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectName, "project", "", "Project name from the config file")
	cmd.MarkFlagRequired("project")

	return cmd
}
