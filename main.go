package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"patient-imaging-api/constants"
	"patient-imaging-api/db"
	"patient-imaging-api/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newLogger() *zap.Logger {
	env := viper.GetString("workspace.env")
	var logger *zap.Logger
	switch env {
	case constants.EnvDevelopment:
		logger, _ = zap.NewDevelopment()
	default:
		logger, _ = zap.NewProduction()
	}
	return logger
}

func setDefaults() {
	viper.SetDefault("workspace.env", constants.EnvDevelopment)
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("storage.driver", constants.StorageDriverMemory)
	viper.SetDefault("blob.driver", constants.BlobDriverMemory)
	viper.SetDefault("lock.driver", constants.LockDriverLocal)
	viper.SetDefault("lock.ttl", 10*time.Second)
	viper.SetDefault("elasticsearch.image_index_prefix", "images")
	viper.SetDefault("postgres.max_conns", 10)
	viper.SetDefault("postgres.min_conns", 1)
	viper.SetDefault("postgres.migrations_dir", "./migrations")
	viper.SetDefault("minio.bucket_name", "images")
	viper.SetDefault("patient.timeout", 5*time.Second)
	viper.SetDefault("patient.retry_count", 3)
	viper.SetDefault("ingest.max_upload_bytes", 512<<20)
	viper.SetDefault("preview.jpeg_quality", 90)
	viper.SetDefault("cors.allow_origins", []string{"*"})
}

func initConfigs(env string) {
	setDefaults()
	viper.AddConfigPath("conf")
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	viper.AutomaticEnv()
	replacer := strings.NewReplacer(".", "__")
	viper.SetEnvKeyReplacer(replacer)
	if err := viper.ReadInConfig(); err != nil {
		utils.LogFatal(fmt.Errorf("error reading config file: %w", err))
	}
}

func getMapEnvVars() *map[string]string {
	ret := make(map[string]string)
	envsOS := os.Environ()
	for _, envOS := range envsOS {
		items := strings.SplitN(envOS, "=", 2)
		if len(items) > 1 {
			ret[items[0]] = items[1]
		}
	}
	return &ret
}

func loadConfig() *zap.Logger {
	envVars := getMapEnvVars()
	env := "development"
	if value, found := (*envVars)[constants.ENV]; found {
		env = value
	}
	initConfigs(env)

	logger := newLogger()
	utils.SetLogger(logger)
	utils.LogInfo(fmt.Sprintf("API is running in [%s] mode", env))
	return logger
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "patient-imaging-api",
		Short: "Patient medical imaging API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(repairCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the imaging API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loadConfig()
			defer logger.Sync()
			return runServer(logger)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run Postgres schema migrations",
	}

	withMigrator := func(fn func(ctx context.Context, migrator *db.Migrator) error) error {
		logger := loadConfig()
		defer logger.Sync()

		ctx := context.Background()
		pool, err := db.NewPool(ctx, viper.GetString("postgres.url"),
			viper.GetInt32("postgres.max_conns"), viper.GetInt32("postgres.min_conns"))
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(ctx, db.NewMigrator(pool, viper.GetString("postgres.migrations_dir")))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, migrator *db.Migrator) error {
				count, err := migrator.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, migrator *db.Migrator) error {
				statuses, err := migrator.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})
	return cmd
}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest one local file for a patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, _ := cmd.Flags().GetString("patient")
			file, _ := cmd.Flags().GetString("file")
			if patientID == "" || file == "" {
				return fmt.Errorf("--patient and --file are required")
			}
			logger := loadConfig()
			defer logger.Sync()
			ctx := context.Background()
			app, err := newApp(ctx, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			result, ingestErr := app.ingestFile(ctx, patientID, file)
			if result == nil {
				return ingestErr
			}
			out, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(out))
			return ingestErr
		},
	}
	cmd.Flags().String("patient", "", "Patient id the file belongs to")
	cmd.Flags().String("file", "", "Path of the DICOM, JPEG or PNG file")
	return cmd
}

func repairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Link or close out previews left pending by interrupted uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")

			logger := loadConfig()
			defer logger.Sync()
			ctx := context.Background()
			app, err := newApp(ctx, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.service.Repair(ctx, olderThan)
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(report, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().Duration("older-than", 10*time.Minute, "Only touch originals pending for at least this long")
	return cmd
}
