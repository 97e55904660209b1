package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/imagescout/imagescout/internal/cloud"
	"github.com/imagescout/imagescout/internal/config"
	"github.com/imagescout/imagescout/internal/db"
	"github.com/imagescout/imagescout/internal/db/repos"
	"github.com/imagescout/imagescout/internal/logger"
	"github.com/imagescout/imagescout/internal/queue"
	"github.com/imagescout/imagescout/internal/services"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
)

var rootCmd = &cobra.Command{
	Use:   "imagescout",
	Short: "imagescout inspects customer machine images for installed products",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		// .env is optional; real deployments set the environment directly.
		_ = godotenv.Load()
		logger.InitializeAndConfigure()
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the inspection pipeline worker",
	RunE: func(_ *cobra.Command, _ []string) error {
		pipeline, _, err := buildPipeline()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info("Starting inspection pipeline worker")
		pipeline.Run(ctx)
		logger.Info("Worker shut down")
		return nil
	},
}

var refreshTypesCmd = &cobra.Command{
	Use:   "refresh-types",
	Short: "Refresh the instance type catalog from the pricing API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		pipeline, _, err := buildPipeline()
		if err != nil {
			return err
		}
		return pipeline.Definitions.Refresh(cmd.Context())
	},
}

var (
	registerAccountID string
	registerRoleARN   string
	registerName      string
)

var registerCmd = &cobra.Command{
	Use:   "register-account",
	Short: "Verify and register a customer cloud account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		pipeline, _, err := buildPipeline()
		if err != nil {
			return err
		}
		account, err := pipeline.Accounts.Register(cmd.Context(), registerAccountID, registerRoleARN, registerName)
		if err != nil {
			return err
		}
		logger.Infof("Registered account %s (id %d)", account.AWSAccountID, account.ID)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE: func(_ *cobra.Command, _ []string) error {
		conn, err := openDB()
		if err != nil {
			return err
		}
		return db.Migrate(conn)
	},
}

func openDB() (*gorm.DB, error) {
	port := 0
	if raw := os.Getenv("DB_PORT"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		port = parsed
	}
	return db.New(db.Options{
		Host:       os.Getenv("DB_HOST"),
		User:       os.Getenv("DB_USER"),
		Password:   os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		Port:       port,
		SSLEnabled: os.Getenv("DB_SSL_MODE") == "require",
	})
}

func buildPipeline() (*services.Pipeline, *config.Config, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	conn, err := openDB()
	if err != nil {
		return nil, nil, err
	}

	cloudAPI, err := cloud.NewAWS(cfg.Scanner.Region)
	if err != nil {
		return nil, nil, err
	}

	sess, err := session.NewSession(aws.NewConfig().WithRegion(cfg.Scanner.Region))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	store := repos.NewStore(conn)
	pipeline := services.NewPipeline(cfg, store, cloudAPI, queue.NewSQSClient(sess))
	return pipeline, cfg, nil
}

func init() {
	registerCmd.Flags().StringVar(&registerAccountID, "account-id", "", "AWS account id to register")
	registerCmd.Flags().StringVar(&registerRoleARN, "role-arn", "", "cross-account role ARN to assume")
	registerCmd.Flags().StringVar(&registerName, "name", "", "display name for the account")
	_ = registerCmd.MarkFlagRequired("account-id")
	_ = registerCmd.MarkFlagRequired("role-arn")

	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(refreshTypesCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
