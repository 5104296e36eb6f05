package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/GrainArc/FenceMap/config"
	"github.com/GrainArc/FenceMap/models"
	"github.com/GrainArc/FenceMap/routers"
	"github.com/spf13/cobra"
)

var (
	configPath string
	listenAddr string
	cfg        config.Config
	logger     *slog.Logger

	rootCmd = &cobra.Command{
		Use:   "fencemap",
		Short: "图形围栏编辑服务",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			logger = config.NewLogger(os.Stderr, cfg.LogLevel)
			slog.SetDefault(logger)
			return nil
		},
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "启动图形与矢量瓦片服务",
		RunE:  runServe,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "迁移表结构并创建默认分组",
		RunE:  runMigrate,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.xml", "配置文件路径")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "监听地址，覆盖配置")
	rootCmd.AddCommand(serveCmd, migrateCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if listenAddr != "" {
		cfg.MainRouter = listenAddr
	}
	db, err := models.InitDB(cfg, logger)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	engine := routers.NewEngine(cfg, db, logger)
	logger.Info("服务启动", "listen", cfg.MainRouter, "driver", cfg.Driver)
	return engine.Run(cfg.MainRouter)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if _, err := models.InitDB(cfg, logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("迁移完成", "driver", cfg.Driver)
	return nil
}
