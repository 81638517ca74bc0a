package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"reading-tracker/config"
	"reading-tracker/logger"
	"reading-tracker/snapshot"
)

func main() {
	var (
		source, devicePath, serial, file, dataDir, name string
	)

	root := &cobra.Command{
		Use:          "snapshot",
		Short:        "Copy the device database into the mirror's data directory",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(source, devicePath, serial, file, dataDir, name)
			if err != nil {
				return err
			}
			log := logger.NewSlog(logger.SlogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)

			src, err := snapshot.SourceFromConfig(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			res, err := snapshot.Import(cmd.Context(), src, cfg.Mirror.DataDir, cfg.Mirror.DBName, log)
			if err != nil {
				return err
			}
			fmt.Printf("Database copied successfully to: %s\n", res.Path)
			fmt.Printf("Copied file size: %d bytes\n", res.Size)
			return nil
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&source, "source", "", "adb, file or s3 (overrides SNAPSHOT_SOURCE)")
	f.StringVar(&devicePath, "device-path", "", "database path on the device")
	f.StringVar(&serial, "serial", "", "adb device serial")
	f.StringVar(&file, "file", "", "local database to copy when --source=file")
	f.StringVar(&dataDir, "data-dir", "", "destination directory (overrides MIRROR_DATA_DIR)")
	f.StringVar(&name, "name", "", "destination file name (overrides MIRROR_DB_NAME)")

	root.AddCommand(&cobra.Command{
		Use:   "backup",
		Short: "Upload the current copy to the configured S3 bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load("s3", devicePath, serial, file, dataDir, name)
			if err != nil {
				return err
			}
			src, err := snapshot.SourceFromConfig(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Mirror.DataDir, cfg.Mirror.DBName)
			if err := src.(*snapshot.S3Source).Upload(cmd.Context(), path); err != nil {
				return err
			}
			fmt.Printf("Uploaded %s to %s\n", path, src.Name())
			return nil
		},
	})

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func load(source, devicePath, serial, file, dataDir, name string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Snapshot.Source, source)
	set(&cfg.Snapshot.DevicePath, devicePath)
	set(&cfg.Snapshot.ADBSerial, serial)
	set(&cfg.Snapshot.FilePath, file)
	set(&cfg.Mirror.DataDir, dataDir)
	set(&cfg.Mirror.DBName, name)
	return cfg, nil
}
