package snapshot

import (
	"context"
	"fmt"

	"reading-tracker/config"
)

// SourceFromConfig builds the source named by SNAPSHOT_SOURCE.
func SourceFromConfig(ctx context.Context, cfg *config.Config) (Source, error) {
	s := cfg.Snapshot
	switch s.Source {
	case "adb":
		return ADBSource{Serial: s.ADBSerial, DevicePath: s.DevicePath}, nil
	case "file":
		return FileSource{Path: s.FilePath}, nil
	case "s3":
		return NewS3Source(ctx, S3Config{
			Bucket:          s.S3Bucket,
			Key:             s.S3Key,
			Region:          s.S3Region,
			Endpoint:        s.S3Endpoint,
			AccessKeyID:     s.S3AccessKeyID,
			SecretAccessKey: s.S3SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unknown snapshot source %q", s.Source)
	}
}
